package ratelimit

import (
	"testing"
	"time"
)

func TestOperatingState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		maxAge     time.Duration
		expected   bool
	}{
		{"fresh state", time.Now(), 1 * time.Minute, false},
		{"stale state", time.Now().Add(-2 * time.Minute), 1 * time.Minute, true},
		{"just under max age", time.Now().Add(-30 * time.Second), 1 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &OperatingState{LastUpdate: tt.lastUpdate}
			if got := state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestOperatingState_Thresholds(t *testing.T) {
	future := time.Now().Add(5 * time.Minute)
	past := time.Now().Add(-5 * time.Minute)

	tests := []struct {
		name         string
		operating    float64
		resetAt      time.Time
		wantBlock    bool
		wantThrottle bool
		wantHealthy  bool
	}{
		{"idle", 0, future, false, false, true},
		{"healthy", 120.5, future, false, false, true},
		{"just below warning", 379.9, future, false, false, true},
		{"at warning", 380, future, false, true, false},
		{"warning range", 420, future, false, true, false},
		{"just below critical", 459.9, future, false, true, false},
		{"at critical", 460, future, true, false, false},
		{"over budget", 500, future, true, false, false},
		{"critical but window reset", 470, past, false, false, false},
		{"warning but window reset", 400, past, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &OperatingState{Operating: tt.operating, ResetAt: tt.resetAt}
			state.UpdateHealth()

			if got := state.NeedsCriticalBlock(); got != tt.wantBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.wantBlock)
			}
			if got := state.NeedsThrottling(); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if state.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestOperatingState_TimeUntilReset(t *testing.T) {
	state := &OperatingState{ResetAt: time.Now().Add(-time.Minute)}
	if d := state.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0 for a past reset", d)
	}

	state.ResetAt = time.Now().Add(2 * time.Minute)
	d := state.TimeUntilReset()
	if d <= time.Minute || d > 2*time.Minute {
		t.Errorf("TimeUntilReset() = %v, want about 2m", d)
	}
}

func TestThresholdOrdering(t *testing.T) {
	if !(OperatingThresholdWarning < OperatingThresholdCritical && OperatingThresholdCritical < OperatingLimit) {
		t.Errorf("thresholds out of order: warning %v, critical %v, limit %v",
			OperatingThresholdWarning, OperatingThresholdCritical, OperatingLimit)
	}
}
