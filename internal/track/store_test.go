package track

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marllet/fleettrack/internal/models"
)

func sample(id, missionID string, at time.Time) models.PositionSample {
	return models.PositionSample{
		ID:         id,
		MissionID:  missionID,
		Latitude:   48.8566,
		Longitude:  2.3522,
		RecordedAt: at,
	}
}

func TestAppendIdempotent(t *testing.T) {
	s := NewStore()
	p := sample("a", "m1", time.Now())

	if !s.Append(p) {
		t.Fatal("first append should report new")
	}
	if s.Append(p) {
		t.Fatal("duplicate append should be a no-op")
	}
	if n := s.Size("m1"); n != 1 {
		t.Fatalf("expected 1 sample, got %d", n)
	}
}

func TestAppendKeepsOrderOnOutOfOrderArrival(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Append(sample("t10", "m1", base.Add(10*time.Second)))
	s.Append(sample("t5", "m1", base.Add(5*time.Second)))

	h := s.History("m1")
	if len(h) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(h))
	}
	if h[0].ID != "t5" || h[1].ID != "t10" {
		t.Fatalf("history not ordered by recorded_at: %s, %s", h[0].ID, h[1].ID)
	}

	// latest must stay the max-recorded_at sample, not the last arrival
	latest, ok := s.Latest("m1")
	if !ok || latest.ID != "t10" {
		t.Fatalf("expected latest t10, got %+v", latest)
	}
}

func TestLatestEmptyMission(t *testing.T) {
	s := NewStore()
	if _, ok := s.Latest("nope"); ok {
		t.Fatal("expected no latest for unknown mission")
	}
	if h := s.History("nope"); h != nil {
		t.Fatalf("expected nil history, got %v", h)
	}
}

func TestConcurrentAppendsStayConsistent(t *testing.T) {
	s := NewStore()
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(sample(fmt.Sprintf("s%d", i), "m1", base.Add(time.Duration(i)*time.Millisecond)))
		}(i)
	}
	wg.Wait()

	h := s.History("m1")
	if len(h) != 100 {
		t.Fatalf("expected 100 samples, got %d", len(h))
	}
	for i := 1; i < len(h); i++ {
		if h[i].RecordedAt.Before(h[i-1].RecordedAt) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestFreezeRejectsLateSamples(t *testing.T) {
	s := NewStore()
	s.Append(sample("a", "m1", time.Now()))
	s.Freeze("m1")

	if s.Append(sample("b", "m1", time.Now())) {
		t.Fatal("append after freeze should be rejected")
	}
	if n := s.Size("m1"); n != 1 {
		t.Fatalf("expected 1 sample after freeze, got %d", n)
	}
}

func TestMergeLive(t *testing.T) {
	base := time.Now()
	history := []models.PositionSample{
		sample("h1", "m1", base),
		sample("h2", "m1", base.Add(10*time.Second)),
	}

	// stale push: not strictly newer than the last history entry
	merged := MergeLive(history, sample("live", "m1", base.Add(10*time.Second)))
	if len(merged) != 2 {
		t.Fatalf("stale live sample should be discarded, got %d entries", len(merged))
	}

	merged = MergeLive(history, sample("live", "m1", base.Add(11*time.Second)))
	if len(merged) != 3 || merged[2].ID != "live" {
		t.Fatalf("fresh live sample should be appended, got %v", merged)
	}

	// empty history always accepts the live sample
	merged = MergeLive(nil, sample("live", "m1", base))
	if len(merged) != 1 {
		t.Fatalf("expected single entry, got %d", len(merged))
	}
}
