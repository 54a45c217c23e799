package timeline

import (
	"time"

	"agent-pairtrack/internal/capture"
	"agent-pairtrack/internal/checkpoint"
)

// Record is one finished tracking session as it appears on the history
// screen. Checkpoints is never nil so an empty session still serializes
// with an explicit empty list.
type Record struct {
	ID              string                   `json:"id"`
	StartedAt       time.Time                `json:"started_at"`
	EndedAt         time.Time                `json:"ended_at"`
	DurationSeconds int64                    `json:"duration_seconds"`
	TotalDistanceM  float64                  `json:"total_distance_m"`
	AverageSpeedKmh float64                  `json:"average_speed_kmh"`
	MaxSpeedKmh     float64                  `json:"max_speed_kmh"`
	Positions       []capture.PositionSample `json:"positions"`
	Checkpoints     []checkpoint.Checkpoint  `json:"checkpoints"`
}
