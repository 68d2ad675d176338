package ratelimit

import (
	"testing"
	"time"
)

// TestState_Budget walks the remaining budget across the thresholds.
func TestState_Budget(t *testing.T) {
	tests := []struct {
		remaining int
		block     bool
		throttle  bool
		healthy   bool
	}{
		{remaining: 0, block: true},
		{remaining: ThresholdCritical - 1, block: true},
		{remaining: ThresholdCritical, throttle: true},
		{remaining: ThresholdWarning - 1, throttle: true},
		{remaining: ThresholdWarning},
		{remaining: ThresholdHealthy - 1},
		{remaining: ThresholdHealthy, healthy: true},
		{remaining: 1000, healthy: true},
	}

	for _, tt := range tests {
		s := &State{Remaining: tt.remaining}
		s.UpdateHealth()

		if got := s.NeedsCriticalBlock(); got != tt.block {
			t.Errorf("remaining=%d: NeedsCriticalBlock() = %v, want %v", tt.remaining, got, tt.block)
		}
		if got := s.NeedsThrottling(); got != tt.throttle {
			t.Errorf("remaining=%d: NeedsThrottling() = %v, want %v", tt.remaining, got, tt.throttle)
		}
		if s.IsHealthy != tt.healthy {
			t.Errorf("remaining=%d: IsHealthy = %v, want %v", tt.remaining, s.IsHealthy, tt.healthy)
		}
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	future := &State{ResetAt: time.Now().Add(30 * time.Second)}
	if d := future.TimeUntilReset(); d <= 25*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", d)
	}

	past := &State{ResetAt: time.Now().Add(-time.Minute)}
	if d := past.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() after reset = %v, want 0", d)
	}

	var zero State
	if d := zero.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() without reset time = %v, want 0", d)
	}
}

func TestThresholdOrder(t *testing.T) {
	if !(ThresholdCritical < ThresholdWarning && ThresholdWarning < ThresholdHealthy) {
		t.Errorf("thresholds out of order: critical=%d warning=%d healthy=%d",
			ThresholdCritical, ThresholdWarning, ThresholdHealthy)
	}
}
