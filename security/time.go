package security

import "time"

// Clock is the time source used for issuing and checking expiries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reports the wall clock in UTC.
var SystemClock Clock = systemClock{}

// ClockOrDefault returns c, or SystemClock when c is nil.
func ClockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// IsExpired reports whether expiresAt lies in the past at now, tolerating up
// to grace of clock skew. A zero expiresAt is always expired: every record
// this engine issues carries an expiry.
func IsExpired(expiresAt, now time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !now.Before(expiresAt.Add(grace))
}
