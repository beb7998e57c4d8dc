package worker

import (
	"math/rand"
	"time"
)

// retryBackoff implements spec.md §4.4's exact formula:
// min(cap, base * 2^retry_count) * U(0.5, 1.5), base 1s, cap 5min.
// Distinct from the listener package's reconnect backoff.
func retryBackoff(retryCount int) time.Duration {
	const (
		base = time.Second
		cap  = 5 * time.Minute
	)

	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		retryCount = 20 // saturates well past the point base*2^n exceeds cap
	}

	d := base << retryCount
	if d <= 0 || d > cap {
		d = cap
	}

	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
