package resilience

import (
	"time"
)

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// DeadLetterBackoff returns the delay before a dead-lettered item is retried
// again: base doubled per prior retry, capped at max.
func DeadLetterBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 15 * time.Minute
	}
	if max <= 0 {
		max = 4 * time.Hour
	}
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
