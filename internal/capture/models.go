package capture

import "time"

type PositionSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthSnapshot carries whatever the health sensors produced at a capture
// instant. Every field is optional; a sensor that has no fresh value simply
// leaves its field nil.
type HealthSnapshot struct {
	HeartRateBpm           *float64 `json:"heart_rate_bpm,omitempty"`
	HeartRateVariabilityMs *float64 `json:"heart_rate_variability_ms,omitempty"`
	CaloriesKcal           *float64 `json:"calories_kcal,omitempty"`
	StepCount              *int64   `json:"step_count,omitempty"`
	WalkedDistanceM        *float64 `json:"walked_distance_m,omitempty"`
}

// Merge overlays the non-nil fields of other on top of h and returns the
// result. Neither receiver nor argument is mutated.
func (h HealthSnapshot) Merge(other HealthSnapshot) HealthSnapshot {
	if other.HeartRateBpm != nil {
		h.HeartRateBpm = other.HeartRateBpm
	}
	if other.HeartRateVariabilityMs != nil {
		h.HeartRateVariabilityMs = other.HeartRateVariabilityMs
	}
	if other.CaloriesKcal != nil {
		h.CaloriesKcal = other.CaloriesKcal
	}
	if other.StepCount != nil {
		h.StepCount = other.StepCount
	}
	if other.WalkedDistanceM != nil {
		h.WalkedDistanceM = other.WalkedDistanceM
	}
	return h
}

// IsZero reports whether no sensor contributed a value.
func (h HealthSnapshot) IsZero() bool {
	return h.HeartRateBpm == nil && h.HeartRateVariabilityMs == nil &&
		h.CaloriesKcal == nil && h.StepCount == nil && h.WalkedDistanceM == nil
}

type Status struct {
	PermissionDenied bool      `json:"permission_denied"`
	LastPositionAt   time.Time `json:"last_position_at,omitempty"`
	LastHealthAt     time.Time `json:"last_health_at,omitempty"`
	DroppedPositions int64     `json:"dropped_positions"`
}
