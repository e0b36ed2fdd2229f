package transcribe

import (
	"errors"
	"math/rand/v2"
	"time"
)

// IsRetryable reports whether err is a transient service failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Backoff returns how long to wait before retry n (0-indexed):
// exponential growth capped at 30s, plus up to 50% jitter.
func Backoff(attempt int) time.Duration {
	d := min(time.Second<<attempt, 30*time.Second)
	return d + rand.N(d/2)
}

// refusalBackoff grows linearly with the attempt number (1-based) and
// caps out, so a run of refusals cannot stall a worker for long.
func refusalBackoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return min(time.Duration(attempt)*base, limit)
}
