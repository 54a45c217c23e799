package geo

import (
	"testing"
	"time"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineMZeroDistance(t *testing.T) {
	if d := HaversineM(-6.2, 106.816, -6.2, 106.816); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestHaversineMShortDistance(t *testing.T) {
	// ~0.0001 degrees of latitude is roughly 11 meters
	d := HaversineM(-6.2, 106.816, -6.2001, 106.816)
	if d < 10 || d > 13 {
		t.Fatalf("unexpected short distance: %v", d)
	}
}

func TestSpeedKmh(t *testing.T) {
	if s := SpeedKmh(1000, time.Hour); s < 0.999 || s > 1.001 {
		t.Fatalf("unexpected speed: %v", s)
	}
	// 10 m in 10 s = 3.6 km/h
	if s := SpeedKmh(10, 10*time.Second); s < 3.59 || s > 3.61 {
		t.Fatalf("unexpected speed: %v", s)
	}
	if s := SpeedKmh(100, 0); s != 0 {
		t.Fatalf("expected zero speed for zero elapsed, got %v", s)
	}
}
