package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{name: "expired 10 minutes ago", expiresAt: now.Add(-10 * time.Minute), want: true},
		{name: "expires in 10 minutes", expiresAt: now.Add(10 * time.Minute), want: false},
		{name: "expires exactly now", expiresAt: now, want: true},
		{name: "expired 1 second ago within grace", expiresAt: now.Add(-time.Second), grace: 5 * time.Second, want: false},
		{name: "expired 10 seconds ago beyond grace", expiresAt: now.Add(-10 * time.Second), grace: 5 * time.Second, want: true},
		{name: "zero time", expiresAt: time.Time{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, now, tt.grace); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSystemClock_IsUTC(t *testing.T) {
	if loc := SystemClock.Now().Location(); loc != time.UTC {
		t.Errorf("SystemClock.Now() location = %v, want UTC", loc)
	}
}

func TestClockOrDefault(t *testing.T) {
	if ClockOrDefault(nil) != SystemClock {
		t.Error("ClockOrDefault(nil) should return SystemClock")
	}
	custom := fixedClock{}
	if ClockOrDefault(custom) != Clock(custom) {
		t.Error("ClockOrDefault() should return the given clock")
	}
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(0, 0).UTC() }
