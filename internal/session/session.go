package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/geo"
	"github.com/marllet/fleettrack/internal/models"
)

// Session states
const (
	StateIdle   = "idle"
	StateActive = "active"
)

// Events
const (
	EventStart = "start"
	EventStop  = "stop"
)

// Cadence capture cadence: emit every TimeInterval OR every
// DistanceInterval meters moved, whichever fires first.
type Cadence struct {
	TimeInterval     time.Duration
	DistanceInterval float64 // meters
}

// Validate rejects a non-positive cadence at the boundary.
func (c Cadence) Validate() error {
	if c.TimeInterval <= 0 {
		return fmt.Errorf("time interval must be positive, got %v", c.TimeInterval)
	}
	if c.DistanceInterval <= 0 {
		return fmt.Errorf("distance interval must be positive, got %v", c.DistanceInterval)
	}
	return nil
}

// Fix a raw location reading from the device GPS.
type Fix struct {
	Latitude  float64
	Longitude float64
	Speed     *float64
	Heading   *float64
	Accuracy  *float64
	At        time.Time
}

// LocationSource provides the device's current location when probed.
type LocationSource interface {
	Current(ctx context.Context) (Fix, error)
}

// Ingestor receives emitted samples. Ingestion is idempotent by sample
// id, so redundant emission is harmless.
type Ingestor interface {
	Ingest(ctx context.Context, sample models.PositionSample) error
}

// Tracker owns the device's continuous location-capture lifecycle. At
// most one mission's capture runs at a time: starting for a new mission
// stops the previous one first. The tracker reacts to mission state
// transitions, it never decides them.
type Tracker struct {
	logger   *zap.Logger
	source   LocationSource
	ingestor Ingestor

	// probeInterval how often the source is sampled to evaluate the
	// time/distance triggers. Defaults to a fraction of the cadence's
	// time interval.
	probeInterval time.Duration

	mu        sync.Mutex
	fsm       *fsm.FSM
	missionID string
	cadence   Cadence
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewTracker creates an idle tracker.
func NewTracker(source LocationSource, ingestor Ingestor, logger *zap.Logger) *Tracker {
	t := &Tracker{
		logger:   logger,
		source:   source,
		ingestor: ingestor,
	}
	t.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateActive},
			{Name: EventStop, Src: []string{StateActive}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return t
}

// State returns the current session state.
func (t *Tracker) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.Current()
}

// MissionID returns the mission owning the current GPS stream, or ""
// when idle.
func (t *Tracker) MissionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fsm.Current() != StateActive {
		return ""
	}
	return t.missionID
}

// Start begins capture for a mission. An active session for any other
// mission is stopped first, so it is never ambiguous which mission owns
// the GPS stream. Starting the active mission again with a different
// cadence restarts capture under the new one; with the same cadence it
// is a no-op.
func (t *Tracker) Start(ctx context.Context, missionID string, cadence Cadence) error {
	if missionID == "" {
		return fmt.Errorf("mission id is required")
	}
	if err := cadence.Validate(); err != nil {
		return fmt.Errorf("invalid cadence: %w", err)
	}

	t.mu.Lock()
	if t.fsm.Current() == StateActive {
		if t.missionID == missionID && t.cadence == cadence {
			t.mu.Unlock()
			return nil
		}
		previous := t.missionID
		t.stopLocked()
		if previous != missionID {
			t.logger.Info("Previous capture session stopped",
				zap.String("mission_id", previous), zap.String("next_mission_id", missionID))
		} else {
			t.logger.Info("Capture session restarting with new cadence",
				zap.String("mission_id", missionID))
		}
	}

	if err := t.fsm.Event(ctx, EventStart); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}

	t.missionID = missionID
	t.cadence = cadence
	t.stopCh = make(chan struct{})

	probe := t.probeInterval
	if probe <= 0 {
		probe = cadence.TimeInterval / 5
		if probe < 50*time.Millisecond {
			probe = 50 * time.Millisecond
		}
		if probe > cadence.TimeInterval {
			probe = cadence.TimeInterval
		}
	}

	t.wg.Add(1)
	go t.captureLoop(missionID, cadence, probe, t.stopCh)
	t.mu.Unlock()

	t.logger.Info("Capture session started",
		zap.String("mission_id", missionID),
		zap.Duration("time_interval", cadence.TimeInterval),
		zap.Float64("distance_interval_m", cadence.DistanceInterval))
	return nil
}

// Stop ends the current capture session. Stopping an idle tracker is a
// no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.fsm.Current() != StateActive {
		t.mu.Unlock()
		return
	}
	missionID := t.missionID
	t.stopLocked()
	t.mu.Unlock()

	t.logger.Info("Capture session stopped", zap.String("mission_id", missionID))
}

// stopLocked transitions to idle and waits for the capture loop to
// exit, so no straggler sample is emitted for a stopped mission. The
// loop never takes t.mu, so waiting under the lock is safe.
func (t *Tracker) stopLocked() {
	_ = t.fsm.Event(context.Background(), EventStop)
	close(t.stopCh)
	t.wg.Wait()
	t.missionID = ""
}

// captureLoop probes the source and emits a sample whenever the time or
// distance trigger fires, whichever comes first.
func (t *Tracker) captureLoop(missionID string, cadence Cadence, probe time.Duration, stopCh chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(probe)
	defer ticker.Stop()

	var (
		lastEmit time.Time
		lastLat  float64
		lastLng  float64
		hasLast  bool
	)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), probe)
		fix, err := t.source.Current(ctx)
		cancel()
		if err != nil {
			t.logger.Warn("Location probe failed", zap.String("mission_id", missionID), zap.Error(err))
			continue
		}

		now := fix.At
		if now.IsZero() {
			now = time.Now()
		}

		timeDue := lastEmit.IsZero() || now.Sub(lastEmit) >= cadence.TimeInterval
		distanceDue := hasLast &&
			geo.Haversine(lastLat, lastLng, fix.Latitude, fix.Longitude) >= cadence.DistanceInterval
		if !timeDue && !distanceDue {
			continue
		}

		heading := fix.Heading
		if heading == nil && hasLast {
			// derive the course from the previous fix when the GPS
			// does not report one
			b := geo.Bearing(lastLat, lastLng, fix.Latitude, fix.Longitude)
			heading = &b
		}

		sample := models.PositionSample{
			ID:         uuid.NewString(),
			MissionID:  missionID,
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			Speed:      fix.Speed,
			Heading:    heading,
			Accuracy:   fix.Accuracy,
			RecordedAt: now,
		}

		// a failed hand-off must not kill the capture loop
		emitCtx, emitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.ingestor.Ingest(emitCtx, sample); err != nil {
			t.logger.Warn("Failed to hand off sample", zap.String("mission_id", missionID), zap.Error(err))
		}
		emitCancel()

		lastEmit = now
		lastLat, lastLng, hasLast = fix.Latitude, fix.Longitude, true
	}
}
