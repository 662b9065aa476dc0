package provision

import "time"

// IsWithinThresholdPeriod reports whether t falls inside the trailing
// window described by pattern, a time.ParseDuration string such as "24h".
// The embedded identity store uses it for login-attempt cooldowns.
func IsWithinThresholdPeriod(t time.Time, pattern string) (bool, error) {
	window, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}
	return time.Since(t) < window, nil
}

// IsOutsideThresholdPeriod reports whether t predates the trailing window.
func IsOutsideThresholdPeriod(t time.Time, pattern string) (bool, error) {
	within, err := IsWithinThresholdPeriod(t, pattern)
	if err != nil {
		return false, err
	}
	return !within, nil
}
