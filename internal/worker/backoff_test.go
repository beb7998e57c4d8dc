package worker

import "testing"

func TestRetryBackoffWithinBounds(t *testing.T) {
	for retryCount := 0; retryCount < 15; retryCount++ {
		for i := 0; i < 50; i++ {
			d := retryBackoff(retryCount)
			if d <= 0 {
				t.Fatalf("retryCount %d: backoff must be positive, got %v", retryCount, d)
			}
			if d > 5*60*1_000_000_000*3/2 { // 5 minute cap in ns, times the 1.5x jitter ceiling
				t.Fatalf("retryCount %d: backoff %v exceeds cap*1.5 bound", retryCount, d)
			}
		}
	}
}

func TestRetryBackoffGrowsWithRetryCount(t *testing.T) {
	// Compare worst-case-low(early) vs worst-case-low(later) via many samples,
	// since jitter makes single-sample comparisons flaky.
	minAt := func(retryCount int) int64 {
		var min int64 = 1 << 62
		for i := 0; i < 200; i++ {
			d := int64(retryBackoff(retryCount))
			if d < min {
				min = d
			}
		}
		return min
	}

	early := minAt(0)
	later := minAt(5)
	if later <= early {
		t.Fatalf("expected backoff to grow with retryCount: early min=%d later min=%d", early, later)
	}
}
