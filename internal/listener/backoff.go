package listener

import (
	"math/rand"
	"time"
)

// reconnectBackoff computes the delay before the n-th reconnect
// attempt (n starting at 0): exponential, base 1s cap 30s, multiplied
// by a U(0.5, 1.5) jitter factor and then clamped to the 30s cap.
// Distinct from the worker package's retry backoff, which uses a
// different base/cap and does not clamp after jitter.
func reconnectBackoff(attempt int) time.Duration {
	const (
		base = time.Second
		cap  = 30 * time.Second
	)

	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10 // enough to saturate at cap; avoids shift overflow
	}

	d := base << attempt
	if d <= 0 || d > cap {
		d = cap
	}

	jittered := time.Duration(float64(d) * (0.5 + rand.Float64()))
	if jittered > cap {
		jittered = cap
	}
	return jittered
}
