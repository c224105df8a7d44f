package uploader

import "time"

const (
	// DefaultMaxAttempts is the per-chunk retry budget. Exhausting it
	// pauses the session instead of failing the upload.
	DefaultMaxAttempts = 10

	backoffBase = 2000 * time.Millisecond
	backoffCap  = 60000 * time.Millisecond
)

// retryDelay returns the exponential backoff delay before retry
// number attempt (1-based): 2s, 4s, 8s, ... capped at 60s.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}
