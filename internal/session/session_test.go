package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/models"
)

type fakeSource struct {
	mu  sync.Mutex
	fix Fix
}

func (f *fakeSource) set(lat, lng float64) {
	f.mu.Lock()
	f.fix = Fix{Latitude: lat, Longitude: lng, At: time.Now()}
	f.mu.Unlock()
}

func (f *fakeSource) Current(ctx context.Context) (Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fix, nil
}

type captureIngestor struct {
	mu      sync.Mutex
	samples []models.PositionSample
}

func (c *captureIngestor) Ingest(ctx context.Context, sample models.PositionSample) error {
	c.mu.Lock()
	c.samples = append(c.samples, sample)
	c.mu.Unlock()
	return nil
}

func (c *captureIngestor) byMission() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, s := range c.samples {
		out[s.MissionID]++
	}
	return out
}

func newTestTracker(src LocationSource, ing Ingestor) *Tracker {
	t := NewTracker(src, ing, zap.NewNop())
	t.probeInterval = 5 * time.Millisecond
	return t
}

func TestStartRejectsInvalidInput(t *testing.T) {
	tr := newTestTracker(&fakeSource{}, &captureIngestor{})

	if err := tr.Start(context.Background(), "", Cadence{TimeInterval: time.Second, DistanceInterval: 10}); err == nil {
		t.Fatal("empty mission id should be rejected")
	}
	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: 0, DistanceInterval: 10}); err == nil {
		t.Fatal("zero time interval should be rejected")
	}
	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: time.Second, DistanceInterval: -1}); err == nil {
		t.Fatal("negative distance interval should be rejected")
	}
	if tr.State() != StateIdle {
		t.Fatalf("tracker should remain idle, state=%s", tr.State())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	src := &fakeSource{}
	src.set(48.85, 2.35)
	tr := newTestTracker(src, &captureIngestor{})

	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: 20 * time.Millisecond, DistanceInterval: 1000}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.State() != StateActive || tr.MissionID() != "m1" {
		t.Fatalf("expected active m1, got %s %s", tr.State(), tr.MissionID())
	}

	tr.Stop()
	if tr.State() != StateIdle || tr.MissionID() != "" {
		t.Fatalf("expected idle after stop, got %s %s", tr.State(), tr.MissionID())
	}

	// stopping an idle tracker is a no-op
	tr.Stop()
}

func TestTimeTriggerEmitsSamples(t *testing.T) {
	src := &fakeSource{}
	src.set(48.85, 2.35)
	ing := &captureIngestor{}
	tr := newTestTracker(src, ing)

	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: 15 * time.Millisecond, DistanceInterval: 1e9}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	tr.Stop()

	if n := ing.byMission()["m1"]; n < 2 {
		t.Fatalf("expected several time-triggered samples, got %d", n)
	}
}

func TestDistanceTriggerFiresBeforeTimeInterval(t *testing.T) {
	src := &fakeSource{}
	src.set(48.8500, 2.3500)
	ing := &captureIngestor{}
	tr := newTestTracker(src, ing)

	// huge time interval: only the distance trigger can emit after the
	// initial sample
	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: time.Hour, DistanceInterval: 50}); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(30 * time.Millisecond) // first emit (timeDue on empty lastEmit)
	src.set(48.8600, 2.3500)          // ~1.1 km jump
	time.Sleep(30 * time.Millisecond)
	tr.Stop()

	if n := ing.byMission()["m1"]; n < 2 {
		t.Fatalf("expected distance-triggered sample, got %d total", n)
	}
}

func TestSingleActiveSession(t *testing.T) {
	src := &fakeSource{}
	src.set(48.85, 2.35)
	ing := &captureIngestor{}
	tr := newTestTracker(src, ing)

	cadence := Cadence{TimeInterval: 10 * time.Millisecond, DistanceInterval: 1e9}
	if err := tr.Start(context.Background(), "missionA", cadence); err != nil {
		t.Fatalf("start A: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	if err := tr.Start(context.Background(), "missionB", cadence); err != nil {
		t.Fatalf("start B: %v", err)
	}
	if tr.MissionID() != "missionB" {
		t.Fatalf("expected missionB to own the stream, got %s", tr.MissionID())
	}

	countA := ing.byMission()["missionA"]
	time.Sleep(60 * time.Millisecond)
	tr.Stop()

	if got := ing.byMission()["missionA"]; got != countA {
		t.Fatalf("missionA still emitting after takeover: %d -> %d", countA, got)
	}
	if ing.byMission()["missionB"] == 0 {
		t.Fatal("missionB emitted no samples")
	}
}

func TestStartSameMissionIsNoOp(t *testing.T) {
	src := &fakeSource{}
	src.set(48.85, 2.35)
	tr := newTestTracker(src, &captureIngestor{})

	cadence := Cadence{TimeInterval: 20 * time.Millisecond, DistanceInterval: 1e9}
	if err := tr.Start(context.Background(), "m1", cadence); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(context.Background(), "m1", cadence); err != nil {
		t.Fatalf("re-start same mission: %v", err)
	}
	tr.Stop()
}

func TestStartSameMissionAppliesNewCadence(t *testing.T) {
	src := &fakeSource{}
	src.set(48.85, 2.35)
	ing := &captureIngestor{}
	tr := newTestTracker(src, ing)

	// start with a cadence that cannot fire again within the test
	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: time.Hour, DistanceInterval: 1e9}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond) // initial emit only
	before := ing.byMission()["m1"]

	// the tightened cadence must take effect for the same mission
	if err := tr.Start(context.Background(), "m1", Cadence{TimeInterval: 15 * time.Millisecond, DistanceInterval: 1e9}); err != nil {
		t.Fatalf("re-start with new cadence: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	tr.Stop()

	if got := ing.byMission()["m1"]; got < before+2 {
		t.Fatalf("new cadence not applied: %d samples before, %d after", before, got)
	}
	if tr.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", tr.State())
	}
}
