package listener

import "testing"

func TestReconnectBackoffGrowsAndSaturates(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		d := reconnectBackoff(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: backoff must be positive, got %v", attempt, d)
		}
		if d > 30_000_000_000 { // 30s in ns
			t.Fatalf("attempt %d: backoff %v exceeds 30s cap", attempt, d)
		}
		if attempt == 0 && d > 1_500_000_000 { // 1s base * 1.5 jitter
			t.Fatalf("attempt 0: backoff %v exceeds 1.5s", d)
		}
		if attempt >= 5 && d < 15_000_000_000 { // saturated: 30s cap * 0.5 jitter
			t.Fatalf("attempt %d: backoff %v below saturated floor of 15s", attempt, d)
		}
	}
}

func TestReconnectBackoffNeverExceedsCapEvenWithJitter(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := reconnectBackoff(attempt)
			if d > 30_000_000_000 {
				t.Fatalf("attempt %d: backoff %v exceeds 30s cap", attempt, d)
			}
		}
	}
}
