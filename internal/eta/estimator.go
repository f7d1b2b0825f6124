package eta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/api/osrm"
	"github.com/marllet/fleettrack/internal/geo"
	"github.com/marllet/fleettrack/internal/models"
	"github.com/marllet/fleettrack/internal/track"
)

// ErrNoPosition the mission has no recorded samples yet. A "not started"
// state, not a failure.
var ErrNoPosition = errors.New("no position recorded for mission")

// ErrMissionEnded the mission reached a terminal status; nothing is
// moving anymore, so a live ETA is meaningless.
var ErrMissionEnded = errors.New("mission has ended")

// Oracle road-routing service. Returns osrm.ErrUnavailable on any
// failure; the estimator degrades to a geometric estimate.
type Oracle interface {
	Route(ctx context.Context, originLat, originLng, destLat, destLng float64) (*osrm.Route, error)
}

// Estimator computes remaining distance and ETA from the latest track
// position, preferring road-network routing and falling back to a
// great-circle estimate. Results are cached per mission for a short TTL
// to bound external-call volume while positions stream in.
type Estimator struct {
	logger           *zap.Logger
	store            *track.Store
	oracle           Oracle
	fallbackSpeedKph float64
	cacheTTL         time.Duration

	cacheMu sync.Mutex
	cache   map[string]cachedEstimate
}

type cachedEstimate struct {
	estimate models.RouteEstimate
	storedAt time.Time
}

// NewEstimator creates an estimator. fallbackSpeedKph is the assumed
// average speed when the device is stationary or reports no speed.
func NewEstimator(store *track.Store, oracle Oracle, fallbackSpeedKph float64, cacheTTL time.Duration, logger *zap.Logger) *Estimator {
	return &Estimator{
		logger:           logger,
		store:            store,
		oracle:           oracle,
		fallbackSpeedKph: fallbackSpeedKph,
		cacheTTL:         cacheTTL,
		cache:            make(map[string]cachedEstimate),
	}
}

// Estimate returns the remaining distance and ETA for a mission heading
// to the given destination. Oracle failure is absorbed here; the
// geometric fallback is the guaranteed terminal path.
func (e *Estimator) Estimate(ctx context.Context, missionID string, destLat, destLng float64) (*models.RouteEstimate, error) {
	latest, ok := e.store.Latest(missionID)
	if !ok {
		return nil, ErrNoPosition
	}

	key := fmt.Sprintf("%s:%.4f,%.4f", missionID, destLat, destLng)
	now := time.Now()

	e.cacheMu.Lock()
	if c, hit := e.cache[key]; hit && now.Sub(c.storedAt) < e.cacheTTL {
		e.cacheMu.Unlock()
		est := c.estimate
		return &est, nil
	}
	e.cacheMu.Unlock()

	est := models.RouteEstimate{
		MissionID:  missionID,
		ComputedAt: now,
	}

	route, err := e.oracle.Route(ctx, latest.Latitude, latest.Longitude, destLat, destLng)
	if err == nil {
		est.DistanceMeters = route.DistanceMeters
		est.DurationSeconds = route.DurationSeconds
		est.RoadRouted = true
	} else {
		// great-circle distance plus live-speed estimate
		e.logger.Debug("Routing unavailable, using geometric estimate",
			zap.String("mission_id", missionID), zap.Error(err))
		est.DistanceMeters = geo.Haversine(latest.Latitude, latest.Longitude, destLat, destLng)
		est.DurationSeconds = geo.EstimateDuration(est.DistanceMeters, latest.SpeedMps(), e.fallbackSpeedKph)
	}

	e.cacheMu.Lock()
	e.cache[key] = cachedEstimate{estimate: est, storedAt: now}
	// crude bound; one entry per mission/destination pair
	if len(e.cache) > 10000 {
		e.cache = map[string]cachedEstimate{key: {estimate: est, storedAt: now}}
	}
	e.cacheMu.Unlock()

	return &est, nil
}

// EstimateForMission resolves the destination from the mission record.
func (e *Estimator) EstimateForMission(ctx context.Context, m *models.Mission) (*models.RouteEstimate, error) {
	if m.Terminal() {
		return nil, ErrMissionEnded
	}
	if m.DeliveryLat == nil || m.DeliveryLng == nil {
		return nil, fmt.Errorf("mission %s has no destination coordinates", m.ID)
	}
	return e.Estimate(ctx, m.ID, *m.DeliveryLat, *m.DeliveryLng)
}
