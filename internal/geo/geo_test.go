package geo

import (
	"math"
	"testing"
)

func TestHaversineZeroForSamePoint(t *testing.T) {
	if d := Haversine(48.8566, 2.3522, 48.8566, 2.3522); d != 0 {
		t.Fatalf("distance to self should be 0, got %v", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	ab := Haversine(48.8566, 2.3522, 43.2965, 5.3698)
	ba := Haversine(43.2965, 5.3698, 48.8566, 2.3522)
	if math.Abs(ab-ba) > 1e-6 {
		t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestHaversineParisMarseille(t *testing.T) {
	// Paris to Marseille ~ 660 km great-circle
	d := Haversine(48.8566, 2.3522, 43.2965, 5.3698)
	if d < 640000 || d > 680000 {
		t.Fatalf("unexpected distance: %v m", d)
	}
}

func TestBearingRange(t *testing.T) {
	// Due east from the equator
	b := Bearing(0, 0, 0, 1)
	if math.Abs(b-90) > 0.5 {
		t.Fatalf("expected ~90 degrees, got %v", b)
	}

	b = Bearing(48.8566, 2.3522, 43.2965, 5.3698)
	if b < 0 || b >= 360 {
		t.Fatalf("bearing out of range: %v", b)
	}
}

func TestEstimateDurationUsesLiveSpeedWhenMoving(t *testing.T) {
	// 10 m/s over 1000 m = 100 s
	if got := EstimateDuration(1000, 10, 60); math.Abs(got-100) > 1e-9 {
		t.Fatalf("expected 100s, got %v", got)
	}
}

func TestEstimateDurationFallsBackWhenStationary(t *testing.T) {
	// 0.5 m/s is GPS noise; 60 km/h fallback over 1000 m = 60 s
	if got := EstimateDuration(1000, 0.5, 60); math.Abs(got-60) > 1e-9 {
		t.Fatalf("expected 60s, got %v", got)
	}

	// exactly at the threshold still falls back
	if got := EstimateDuration(1000, MovingSpeedThresholdMps, 60); math.Abs(got-60) > 1e-9 {
		t.Fatalf("expected 60s at threshold, got %v", got)
	}
}
