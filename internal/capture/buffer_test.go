package capture

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// metersToLatDegrees converts a northward distance to degrees of latitude,
// good enough at this scale for test geometry.
func metersToLatDegrees(m float64) float64 {
	return m / 111320.0
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int64) *int64 { return &v }

func TestBufferSeriesStayAligned(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		buf := NewBuffer()
		base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
		lat := -6.2

		n := rapid.IntRange(0, 60).Draw(rt, "num_samples")
		accepted := 0
		for i := 0; i < n; i++ {
			stepM := rapid.Float64Range(0, 30).Draw(rt, "step_m")
			lat += metersToLatDegrees(stepM)

			var health HealthSnapshot
			if rapid.Bool().Draw(rt, "with_heart_rate") {
				health.HeartRateBpm = floatPtr(rapid.Float64Range(40, 180).Draw(rt, "heart_rate"))
			}

			pos := PositionSample{
				Latitude:  lat,
				Longitude: 106.8,
				Timestamp: base.Add(time.Duration(i) * 5 * time.Second),
			}
			if buf.Append(pos, health) {
				accepted++
			}

			positions, timestamps, healthSeries := buf.Snapshot()
			if len(positions) != len(timestamps) || len(positions) != len(healthSeries) {
				rt.Fatalf("series misaligned: %d positions, %d timestamps, %d health",
					len(positions), len(timestamps), len(healthSeries))
			}
			if len(positions) != accepted {
				rt.Fatalf("buffer holds %d samples, accepted %d", len(positions), accepted)
			}
		}
	})
}

func TestBufferMinMovementFilter(t *testing.T) {
	buf := NewBuffer()
	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

	first := PositionSample{Latitude: -6.2, Longitude: 106.8, Timestamp: base}
	if !buf.Append(first, HealthSnapshot{}) {
		t.Fatal("first sample should always be accepted")
	}

	// roughly 2 m north, below the threshold
	jitter := PositionSample{
		Latitude:  first.Latitude + metersToLatDegrees(2),
		Longitude: first.Longitude,
		Timestamp: base.Add(5 * time.Second),
	}
	if buf.Append(jitter, HealthSnapshot{HeartRateBpm: floatPtr(72)}) {
		t.Fatal("2 m step should be filtered out")
	}
	if got := buf.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if buf.TotalDistanceM() != 0 {
		t.Fatalf("filtered sample must not add distance, got %f", buf.TotalDistanceM())
	}

	// the rejected sample's health still lands on the current sample
	_, _, health := buf.Snapshot()
	if health[0].HeartRateBpm == nil || *health[0].HeartRateBpm != 72 {
		t.Fatalf("health from filtered sample not merged, got %+v", health[0])
	}

	// roughly 10 m north of the first sample, above the threshold
	moved := PositionSample{
		Latitude:  first.Latitude + metersToLatDegrees(10),
		Longitude: first.Longitude,
		Timestamp: base.Add(10 * time.Second),
	}
	if !buf.Append(moved, HealthSnapshot{}) {
		t.Fatal("10 m step should be accepted")
	}
	if got := buf.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if d := buf.TotalDistanceM(); d < 9 || d > 11 {
		t.Fatalf("TotalDistanceM() = %f, want about 10", d)
	}
}

func TestBufferAccumulatesDistanceAndMaxSpeed(t *testing.T) {
	buf := NewBuffer()
	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	lat := -6.2

	// 10 m every 5 s, then 30 m in the final 5 s
	steps := []float64{0, 10, 10, 10, 30}
	for i, stepM := range steps {
		lat += metersToLatDegrees(stepM)
		buf.Append(PositionSample{
			Latitude:  lat,
			Longitude: 106.8,
			Timestamp: base.Add(time.Duration(i) * 5 * time.Second),
		}, HealthSnapshot{})
	}

	if d := buf.TotalDistanceM(); d < 58 || d > 62 {
		t.Fatalf("TotalDistanceM() = %f, want about 60", d)
	}
	// 30 m in 5 s is 21.6 km/h
	if sp := buf.MaxSpeedKmh(); sp < 20 || sp > 23 {
		t.Fatalf("MaxSpeedKmh() = %f, want about 21.6", sp)
	}
}

func TestBufferHealthCarriesForward(t *testing.T) {
	buf := NewBuffer()
	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

	buf.RefreshHealth(HealthSnapshot{HeartRateBpm: floatPtr(65)})
	buf.Append(PositionSample{Latitude: -6.2, Longitude: 106.8, Timestamp: base}, HealthSnapshot{})
	buf.RefreshHealth(HealthSnapshot{StepCount: intPtr(120)})
	buf.Append(PositionSample{
		Latitude:  -6.2 + metersToLatDegrees(20),
		Longitude: 106.8,
		Timestamp: base.Add(10 * time.Second),
	}, HealthSnapshot{})

	_, _, health := buf.Snapshot()
	if health[0].HeartRateBpm == nil || *health[0].HeartRateBpm != 65 {
		t.Fatalf("first sample missing pre-append heart rate: %+v", health[0])
	}
	if health[0].StepCount != nil {
		t.Fatalf("refresh must not rewrite an already captured sample: %+v", health[0])
	}
	if health[1].HeartRateBpm == nil || *health[1].HeartRateBpm != 65 {
		t.Fatalf("second sample should carry the latest heart rate forward: %+v", health[1])
	}
	if health[1].StepCount == nil || *health[1].StepCount != 120 {
		t.Fatalf("second sample should carry the refreshed step count: %+v", health[1])
	}
}

func TestBufferAppendRemoteBypassesFilter(t *testing.T) {
	buf := NewBuffer()
	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

	buf.AppendRemote(PositionSample{Latitude: -6.2, Longitude: 106.8, Timestamp: base}, HealthSnapshot{})
	buf.AppendRemote(PositionSample{
		Latitude:  -6.2 + metersToLatDegrees(2),
		Longitude: 106.8,
		Timestamp: base.Add(5 * time.Second),
	}, HealthSnapshot{})

	if got := buf.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2; remote samples are pre-filtered by the sender", got)
	}
	if d := buf.TotalDistanceM(); d < 1 || d > 3 {
		t.Fatalf("TotalDistanceM() = %f, want about 2", d)
	}
}

func TestBufferSnapshotReturnsCopies(t *testing.T) {
	buf := NewBuffer()
	buf.Append(PositionSample{Latitude: -6.2, Longitude: 106.8, Timestamp: time.Now()}, HealthSnapshot{})

	positions, _, _ := buf.Snapshot()
	positions[0].Latitude = 99

	fresh, _, _ := buf.Snapshot()
	if fresh[0].Latitude == 99 {
		t.Fatal("mutating a snapshot must not touch the buffer")
	}
}

func TestBufferReset(t *testing.T) {
	buf := NewBuffer()
	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	buf.Append(PositionSample{Latitude: -6.2, Longitude: 106.8, Timestamp: base}, HealthSnapshot{HeartRateBpm: floatPtr(70)})
	buf.Append(PositionSample{
		Latitude:  -6.2 + metersToLatDegrees(50),
		Longitude: 106.8,
		Timestamp: base.Add(30 * time.Second),
	}, HealthSnapshot{})

	buf.Reset()

	if buf.Len() != 0 {
		t.Fatalf("Len() = %d after reset", buf.Len())
	}
	if buf.TotalDistanceM() != 0 || buf.MaxSpeedKmh() != 0 {
		t.Fatal("accumulators must reset with the samples")
	}
	if !buf.LatestHealth().IsZero() {
		t.Fatal("latest health must reset with the samples")
	}
}
