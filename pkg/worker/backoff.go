package worker

import "time"

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Backoff returns the delay inserted after failed attempt number attempt:
// min(1s * 2^(attempt-1), 30s).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	// 2^(attempt-1) overflows well before the shift width limit matters;
	// anything past attempt 6 is already capped.
	if attempt > 6 {
		return maxBackoff
	}

	delay := baseBackoff << (attempt - 1)
	if delay > maxBackoff {
		return maxBackoff
	}

	return delay
}
