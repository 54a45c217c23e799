package checkpoint

import (
	"fmt"
	"time"

	"agent-pairtrack/internal/capture"
	"agent-pairtrack/internal/shared/geo"

	"github.com/google/uuid"
)

const (
	// stopSpeedKmh is the instantaneous speed below which a pair of samples
	// counts as standing still.
	stopSpeedKmh = 0.5
	// minStaySeconds is how long a stop must last before it becomes a
	// checkpoint.
	minStaySeconds = 30.0
	// stressDelta is the band around the previous stress value inside which
	// the change is reported as unchanged.
	stressDelta = 10.0
)

// checkpointNamespace seeds name-based checkpoint IDs so that both paired
// devices derive the same ID from the same stop or mirrored payload.
var checkpointNamespace = uuid.MustParse("9b2f1c64-5a8e-4f0d-9c3a-7d1e82b4c6f0")

func deriveID(lat, lng float64, at time.Time) string {
	seed := fmt.Sprintf("%.7f|%.7f|%d", lat, lng, at.UnixMilli())
	return uuid.NewSHA1(checkpointNamespace, []byte(seed)).String()
}

// Generate scans the aligned sample series for stops and returns one
// checkpoint per detected stop, in trajectory order. It is a pure function:
// identical inputs always yield identical output, so re-running it during
// finalize is safe.
func Generate(positions []capture.PositionSample, timestamps []time.Time, health []capture.HealthSnapshot) []Checkpoint {
	n := len(positions)
	if len(timestamps) < n {
		n = len(timestamps)
	}
	if len(health) < n {
		n = len(health)
	}

	out := []Checkpoint{}
	prevStress := 0.0
	prevStressKnown := false

	stayStart := -1
	staySeconds := 0.0
	for i := 1; i < n; i++ {
		d := geo.HaversineM(positions[i-1].Latitude, positions[i-1].Longitude,
			positions[i].Latitude, positions[i].Longitude)
		dt := timestamps[i].Sub(timestamps[i-1])
		speed := geo.SpeedKmh(d, dt)

		if speed < stopSpeedKmh {
			if stayStart < 0 {
				stayStart = i - 1
			}
			staySeconds += dt.Seconds()
			continue
		}

		if stayStart >= 0 && staySeconds >= minStaySeconds {
			cp, stress, known := atStop(positions, timestamps, health, stayStart, staySeconds, prevStress, prevStressKnown)
			out = append(out, cp)
			if known {
				prevStress, prevStressKnown = stress, true
			}
		}
		stayStart = -1
		staySeconds = 0
	}

	// the session may have ended while still stopped
	if stayStart >= 0 && staySeconds >= minStaySeconds {
		cp, _, _ := atStop(positions, timestamps, health, stayStart, staySeconds, prevStress, prevStressKnown)
		out = append(out, cp)
	}

	return out
}

func atStop(positions []capture.PositionSample, timestamps []time.Time, health []capture.HealthSnapshot,
	start int, staySeconds, prevStress float64, prevStressKnown bool) (Checkpoint, float64, bool) {

	h := health[start]
	stress, stressKnown := stressFrom(h)

	change := StressUnchanged
	if stressKnown && prevStressKnown {
		switch diff := stress - prevStress; {
		case diff > stressDelta:
			change = StressIncreased
		case diff < -stressDelta:
			change = StressDecreased
		}
	}

	pos := positions[start]
	return Checkpoint{
		ID:           deriveID(pos.Latitude, pos.Longitude, timestamps[start]),
		Position:     pos,
		OccurredAt:   timestamps[start],
		StaySeconds:  staySeconds,
		Mood:         moodForHeartRate(h.HeartRateBpm),
		StressChange: change,
		Health:       h,
	}, stress, stressKnown
}

// moodForHeartRate maps the heart rate at a stop to a mood. The banding folds
// resting and moderately elevated rates into the same positive mood.
func moodForHeartRate(bpm *float64) Mood {
	if bpm == nil {
		return MoodNeutral
	}
	switch v := *bpm; {
	case v < 60:
		return MoodCalmPositive
	case v < 80:
		return MoodNeutral
	case v < 100:
		return MoodCalmPositive
	default:
		return MoodNeutral
	}
}

// stressFrom derives a 0-100 stress score from heart rate variability. Lower
// variability scores as higher stress.
func stressFrom(h capture.HealthSnapshot) (float64, bool) {
	if h.HeartRateVariabilityMs == nil {
		return 0, false
	}
	stress := 100 - *h.HeartRateVariabilityMs
	if stress < 0 {
		stress = 0
	}
	if stress > 100 {
		stress = 100
	}
	return stress, true
}

// Manual builds a user-issued checkpoint at the given sample. The ID is
// derived from position and time so the mirrored copy on the peer device
// ends up with the same identity; the position timestamp is normalized to
// the mark instant for the same reason.
func Manual(pos capture.PositionSample, at time.Time, mood Mood, note string, health capture.HealthSnapshot) Checkpoint {
	pos.Timestamp = at
	return Checkpoint{
		ID:           deriveID(pos.Latitude, pos.Longitude, at),
		Position:     pos,
		OccurredAt:   at,
		StaySeconds:  0,
		Mood:         mood,
		StressChange: StressUnchanged,
		Health:       health,
		Note:         note,
	}
}
