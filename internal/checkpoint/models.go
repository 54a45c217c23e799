package checkpoint

import (
	"time"

	"agent-pairtrack/internal/capture"
)

type Mood string

const (
	MoodCalmPositive Mood = "calm_positive"
	MoodNeutral      Mood = "neutral"
)

// ParseMood maps a wire mood string onto a Mood. The empty string defaults
// to neutral so clients may omit the field.
func ParseMood(s string) (Mood, bool) {
	switch Mood(s) {
	case "":
		return MoodNeutral, true
	case MoodCalmPositive, MoodNeutral:
		return Mood(s), true
	}
	return "", false
}

type StressChange string

const (
	StressIncreased StressChange = "increased"
	StressDecreased StressChange = "decreased"
	StressUnchanged StressChange = "unchanged"
)

// Checkpoint marks a point of interest along a trajectory, either detected
// from a stop or issued by the user. Checkpoints are immutable after
// creation; only the note may be edited later from the timeline.
type Checkpoint struct {
	ID           string                 `json:"id"`
	Position     capture.PositionSample `json:"position"`
	OccurredAt   time.Time              `json:"occurred_at"`
	StaySeconds  float64                `json:"stay_seconds"`
	Mood         Mood                   `json:"mood"`
	StressChange StressChange           `json:"stress_change"`
	Health       capture.HealthSnapshot `json:"health_snapshot"`
	Note         string                 `json:"note,omitempty"`
}
