package track

import (
	"sort"
	"sync"

	"github.com/marllet/fleettrack/internal/models"
)

// Store in-memory per-mission track state. A mission's track is mutated
// by a single logical writer (the device stream) but read by many
// observers, so each track carries its own RWMutex; missions never
// contend with each other.
type Store struct {
	mu     sync.RWMutex
	tracks map[string]*track
}

type track struct {
	mu      sync.RWMutex
	samples []models.PositionSample
	seen    map[string]struct{}
	latest  *models.PositionSample
	frozen  bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tracks: make(map[string]*track),
	}
}

func (s *Store) getOrCreate(missionID string) *track {
	s.mu.RLock()
	t, ok := s.tracks[missionID]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.tracks[missionID]; ok {
		return t
	}
	t = &track{seen: make(map[string]struct{})}
	s.tracks[missionID] = t
	return t
}

func (s *Store) get(missionID string) (*track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[missionID]
	return t, ok
}

// Append inserts a sample into its mission's track, keeping the track
// sorted ascending by RecordedAt. Re-delivery of an already-seen sample
// id is a no-op. Returns true only when the sample was genuinely new.
func (s *Store) Append(sample models.PositionSample) bool {
	t := s.getOrCreate(sample.MissionID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return false
	}
	if _, dup := t.seen[sample.ID]; dup {
		return false
	}
	t.seen[sample.ID] = struct{}{}

	// insert at sorted position; arrival order is irrelevant
	i := sort.Search(len(t.samples), func(i int) bool {
		return t.samples[i].RecordedAt.After(sample.RecordedAt)
	})
	t.samples = append(t.samples, models.PositionSample{})
	copy(t.samples[i+1:], t.samples[i:])
	t.samples[i] = sample

	if t.latest == nil || sample.RecordedAt.After(t.latest.RecordedAt) {
		c := sample
		t.latest = &c
	}
	return true
}

// History returns the full ascending-by-time track for a mission. The
// returned slice is a copy; callers may re-read from scratch at any time.
func (s *Store) History(missionID string) []models.PositionSample {
	t, ok := s.get(missionID)
	if !ok {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.PositionSample, len(t.samples))
	copy(out, t.samples)
	return out
}

// Latest returns the sample with maximal RecordedAt, if any.
func (s *Store) Latest(missionID string) (models.PositionSample, bool) {
	t, ok := s.get(missionID)
	if !ok {
		return models.PositionSample{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return models.PositionSample{}, false
	}
	return *t.latest, true
}

// Size returns the number of samples recorded for a mission.
func (s *Store) Size(missionID string) int {
	t, ok := s.get(missionID)
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Freeze stops accepting samples for a mission. Called when the mission
// leaves in_progress; the recorded track stays readable.
func (s *Store) Freeze(missionID string) {
	t := s.getOrCreate(missionID)
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Frozen reports whether a mission's track is frozen.
func (s *Store) Frozen(missionID string) bool {
	t, ok := s.get(missionID)
	if !ok {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// MergeLive appends a freshly pushed live sample to a previously loaded
// history batch, but only when it is strictly newer than the last history
// entry. A stale push must not reorder an already-consistent view.
func MergeLive(history []models.PositionSample, live models.PositionSample) []models.PositionSample {
	if n := len(history); n > 0 && !live.RecordedAt.After(history[n-1].RecordedAt) {
		return history
	}
	return append(history, live)
}
