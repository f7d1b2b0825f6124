package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/models"
	"github.com/marllet/fleettrack/internal/state"
	"github.com/marllet/fleettrack/internal/track"
	"github.com/marllet/fleettrack/pkg/ws"
)

// ErrInvalidTransition the requested lifecycle event is not valid from
// the mission's current status.
var ErrInvalidTransition = errors.New("invalid mission transition")

// PositionPersister durable storage for accepted samples. May be nil;
// the in-memory track is authoritative for live observers and a failed
// write never rejects a sample.
type PositionPersister interface {
	Insert(ctx context.Context, pos *models.PositionSample) (bool, error)
}

// MissionStatusStore records mission lifecycle transitions and resolves
// the stored status when a mission is first seen after a restart.
type MissionStatusStore interface {
	GetByID(ctx context.Context, id string) (*models.Mission, error)
	SetStatus(ctx context.Context, id, status string, at time.Time) error
}

// RouteEstimator resolves the live distance/ETA estimate for a mission.
// May be nil; observers then only receive position frames.
type RouteEstimator interface {
	EstimateForMission(ctx context.Context, m *models.Mission) (*models.RouteEstimate, error)
}

// TrackingService receives position samples from the device stream and
// fans them out to observers. It also reacts to mission lifecycle
// transitions: a terminal status freezes the mission's track.
type TrackingService struct {
	logger    *zap.Logger
	store     *track.Store
	fanout    *track.Fanout
	hub       *ws.Hub
	persister PositionPersister
	missions  MissionStatusStore
	estimator RouteEstimator
	lifecycle *state.Manager
}

// TrackSnapshot the state handed to a newly attached observer.
type TrackSnapshot struct {
	MissionID string                  `json:"mission_id"`
	History   []models.PositionSample `json:"history"`
	Latest    *models.PositionSample  `json:"latest,omitempty"`
}

// NewTrackingService creates the ingestion service. persister, missions
// and estimator may be nil (memory-only operation).
func NewTrackingService(
	store *track.Store,
	fanout *track.Fanout,
	hub *ws.Hub,
	persister PositionPersister,
	missions MissionStatusStore,
	estimator RouteEstimator,
	logger *zap.Logger,
) *TrackingService {
	s := &TrackingService{
		logger:    logger,
		store:     store,
		fanout:    fanout,
		hub:       hub,
		persister: persister,
		missions:  missions,
		estimator: estimator,
	}
	s.lifecycle = state.NewManager(func(missionID, from, to string) {
		logger.Info("Mission lifecycle transition",
			zap.String("mission_id", missionID), zap.String("from", from), zap.String("to", to))
	})
	return s
}

// Ingest accepts one sample from the device. Idempotent by sample id;
// samples for a frozen track are dropped quietly. A delivery failure
// for one update never prevents the next.
func (s *TrackingService) Ingest(ctx context.Context, sample models.PositionSample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}

	if s.store.Frozen(sample.MissionID) {
		s.logger.Debug("Sample for frozen track dropped",
			zap.String("mission_id", sample.MissionID), zap.String("sample_id", sample.ID))
		return nil
	}

	if !s.store.Append(sample) {
		// duplicate redelivery; nothing to do
		return nil
	}

	if s.persister != nil {
		if _, err := s.persister.Insert(ctx, &sample); err != nil {
			s.logger.Error("Failed to persist sample",
				zap.Error(err), zap.String("mission_id", sample.MissionID))
		}
	}

	s.fanout.Publish(sample)
	if s.hub != nil {
		s.hub.BroadcastToMission(sample.MissionID, ws.MsgTypePositionUpdate, sample)
	}
	s.broadcastEstimate(ctx, sample.MissionID)
	return nil
}

// broadcastEstimate pushes a refreshed distance/ETA frame to observers
// after an accepted sample. Best effort: an unknown destination or an
// unavailable route oracle simply means no estimate frame.
func (s *TrackingService) broadcastEstimate(ctx context.Context, missionID string) {
	if s.estimator == nil || s.missions == nil || s.hub == nil {
		return
	}

	m, err := s.missions.GetByID(ctx, missionID)
	if err != nil {
		return
	}

	est, err := s.estimator.EstimateForMission(ctx, m)
	if err != nil {
		return
	}
	s.hub.BroadcastToMission(missionID, ws.MsgTypeEstimateUpdate, est)
}

// IngestBatch accepts a batch of samples, e.g. a device flushing its
// offline buffer. Returns how many were genuinely new.
func (s *TrackingService) IngestBatch(ctx context.Context, samples []models.PositionSample) (int, error) {
	accepted := 0
	for _, sample := range samples {
		before := s.store.Size(sample.MissionID)
		if err := s.Ingest(ctx, sample); err != nil {
			return accepted, err
		}
		if s.store.Size(sample.MissionID) > before {
			accepted++
		}
	}
	return accepted, nil
}

// Snapshot returns the current track view for a mission.
func (s *TrackingService) Snapshot(missionID string) TrackSnapshot {
	snap := TrackSnapshot{
		MissionID: missionID,
		History:   s.store.History(missionID),
	}
	if latest, ok := s.store.Latest(missionID); ok {
		snap.Latest = &latest
	}
	return snap
}

// Subscribe attaches an observer to a mission's update stream.
func (s *TrackingService) Subscribe(missionID string) *track.Subscription {
	return s.fanout.Subscribe(missionID)
}

// StartMission marks a mission in progress. The device-side tracker
// reacts to this transition; the service only records and announces it.
func (s *TrackingService) StartMission(ctx context.Context, missionID string) error {
	return s.transition(ctx, missionID, state.EventStart, models.MissionInProgress)
}

// CompleteMission marks a mission completed and freezes its track.
func (s *TrackingService) CompleteMission(ctx context.Context, missionID string) error {
	if err := s.transition(ctx, missionID, state.EventComplete, models.MissionCompleted); err != nil {
		return err
	}
	s.store.Freeze(missionID)
	return nil
}

// CancelMission marks a mission cancelled and freezes its track.
func (s *TrackingService) CancelMission(ctx context.Context, missionID string) error {
	if err := s.transition(ctx, missionID, state.EventCancel, models.MissionCancelled); err != nil {
		return err
	}
	s.store.Freeze(missionID)
	return nil
}

func (s *TrackingService) transition(ctx context.Context, missionID, event, status string) error {
	machine := s.machineFor(ctx, missionID)
	if err := machine.Trigger(event); err != nil {
		return fmt.Errorf("mission %s (%s): %w", missionID, machine.CurrentState(), ErrInvalidTransition)
	}

	if s.missions != nil {
		if err := s.missions.SetStatus(ctx, missionID, status, time.Now()); err != nil {
			return fmt.Errorf("set mission status: %w", err)
		}
	}

	s.logger.Info("Mission status changed",
		zap.String("mission_id", missionID), zap.String("status", status))
	if s.hub != nil {
		s.hub.BroadcastToMission(missionID, ws.MsgTypeMissionStatus, map[string]string{
			"mission_id": missionID,
			"status":     status,
		})
	}
	return nil
}

// machineFor returns the mission's lifecycle machine, seeding it from
// the stored status the first time the mission is seen.
func (s *TrackingService) machineFor(ctx context.Context, missionID string) *state.Machine {
	if machine, ok := s.lifecycle.Get(missionID); ok {
		return machine
	}

	initial := models.MissionPending
	if s.missions != nil {
		if m, err := s.missions.GetByID(ctx, missionID); err == nil {
			initial = m.Status
		}
	}
	return s.lifecycle.GetOrCreate(missionID, initial)
}
