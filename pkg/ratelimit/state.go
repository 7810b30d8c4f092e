// Package ratelimit tracks the Bitrix24 per-method operating time budget and gates
// requests before the portal starts rejecting them with OPERATION_TIME_LIMIT.
// Every REST response carries a "time" block with the seconds spent executing the
// method in the current window ("operating") and when that window resets
// ("operating_reset_at").
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes the per-method state hash.
const RedisKeyPrefix = "bitrix:operating:"

// Hash fields of the per-method state.
const (
	fieldOperating  = "operating"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// Budget thresholds in seconds of operating time per method and window.
const (
	// OperatingLimit is the Bitrix24 budget per method per window.
	OperatingLimit = 480.0

	// OperatingThresholdCritical blocks requests at or above this value.
	OperatingThresholdCritical = 460.0

	// OperatingThresholdWarning throttles requests at or above this value.
	OperatingThresholdWarning = 380.0
)

// Timing is the subset of the Bitrix24 response "time" block used for budget tracking.
type Timing struct {
	// Operating is the execution time spent on the method in the current window.
	Operating float64 `json:"operating"`

	// OperatingResetAt is the unix time when the window resets.
	OperatingResetAt int64 `json:"operating_reset_at"`
}

// OperatingState is the current budget state of one method.
type OperatingState struct {
	Method     string    `json:"method"`
	Operating  float64   `json:"operating"`
	ResetAt    time.Time `json:"reset_at"`
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true below OperatingThresholdWarning.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *OperatingState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must be refused until the window resets.
func (s *OperatingState) NeedsCriticalBlock() bool {
	return s.Operating >= OperatingThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *OperatingState) NeedsThrottling() bool {
	return s.Operating >= OperatingThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets, or 0 if it already has.
func (s *OperatingState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Operating.
func (s *OperatingState) UpdateHealth() {
	s.IsHealthy = s.Operating < OperatingThresholdWarning
}
