package track

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/models"
)

// subscriptionBuffer bounds the per-observer push queue. A full buffer
// drops the push; the observer's poll cycle recovers the sample.
const subscriptionBuffer = 64

// Fanout delivers appended samples to every observer watching a mission.
// Push is the latency path; a fixed-interval poll against the store is
// the correctness backstop, since push transports are not reliable for
// anonymous observers. Delivery is at-least-once; consumers dedup by
// sample id.
type Fanout struct {
	logger       *zap.Logger
	store        *Store
	pollInterval time.Duration

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription one observer's view of a mission's updates.
type Subscription struct {
	fanout    *Fanout
	missionID string
	updates   chan models.PositionSample
	done      chan struct{}
	cancel    sync.Once

	lastSeen time.Time // touched only by the poll goroutine
}

// NewFanout creates a fanout over the given store.
func NewFanout(store *Store, pollInterval time.Duration, logger *zap.Logger) *Fanout {
	return &Fanout{
		logger:       logger,
		store:        store,
		pollInterval: pollInterval,
		subs:         make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers an observer for a mission and starts its poll
// fallback. The returned subscription must be cancelled when the
// observer goes away.
func (f *Fanout) Subscribe(missionID string) *Subscription {
	sub := &Subscription{
		fanout:    f,
		missionID: missionID,
		updates:   make(chan models.PositionSample, subscriptionBuffer),
		done:      make(chan struct{}),
	}

	f.mu.Lock()
	set, ok := f.subs[missionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.subs[missionID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	go sub.pollLoop()

	f.logger.Debug("Observer subscribed", zap.String("mission_id", missionID))
	return sub
}

// Publish notifies every observer of a mission about a new sample.
// Non-blocking: a slow observer loses the push, never stalls the writer.
func (f *Fanout) Publish(sample models.PositionSample) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subs[sample.MissionID] {
		select {
		case <-sub.done:
			// cancelled concurrently; drop silently
		case sub.updates <- sample:
		default:
			// buffer full; poll fallback will recover
		}
	}
}

// ObserverCount returns the number of live subscriptions for a mission.
func (f *Fanout) ObserverCount(missionID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[missionID])
}

func (f *Fanout) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[sub.missionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, sub.missionID)
		}
	}
}

// Updates is the stream of samples for this observer. Duplicates are
// possible; dedup by sample id.
func (s *Subscription) Updates() <-chan models.PositionSample {
	return s.updates
}

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops both the push registration and the poll timer. Safe to
// call more than once and from any goroutine.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		close(s.done)
		s.fanout.remove(s)
		s.fanout.logger.Debug("Observer cancelled", zap.String("mission_id", s.missionID))
	})
}

// pollLoop re-reads the store on a fixed interval and forwards anything
// newer than what this observer has already polled. Each poll sees a
// state at least as recent as the previous one.
func (s *Subscription) pollLoop() {
	ticker := time.NewTicker(s.fanout.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.deliverBacklog()
		}
	}
}

// deliverBacklog forwards every stored sample newer than lastSeen, in
// order. lastSeen only advances past a sample once it is on the channel,
// and a full buffer aborts the walk, so an undelivered sample is retried
// on the next tick instead of being skipped.
func (s *Subscription) deliverBacklog() {
	for _, sample := range s.fanout.store.History(s.missionID) {
		if !sample.RecordedAt.After(s.lastSeen) {
			continue
		}
		select {
		case <-s.done:
			return
		case s.updates <- sample:
			s.lastSeen = sample.RecordedAt
		default:
			// buffer still full; retry from here next tick
			return
		}
	}
}
