package observability

import (
	"sync/atomic"
	"time"
)

// EventMetrics is a lightweight in-process counter set, independent of
// the Prometheus registry. Workers update it as they claim and finalize
// events; Snapshot returns the current totals and duration stats.
type EventMetrics struct {
	claimed  atomic.Uint64
	done     atomic.Uint64
	failed   atomic.Uint64
	retried  atomic.Uint64
	unrouted atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewEventMetrics() *EventMetrics {
	m := &EventMetrics{}
	m.durationMax.Store(0)
	return m
}

func (m *EventMetrics) IncClaimed() {
	m.claimed.Add(1)
}
func (m *EventMetrics) IncDone() {
	m.done.Add(1)
}
func (m *EventMetrics) IncFailed() {
	m.failed.Add(1)
}

func (m *EventMetrics) IncRetried() {
	m.retried.Add(1)
}

func (m *EventMetrics) IncUnrouted() {
	m.unrouted.Add(1)
}

func (m *EventMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type EventMetricsSnapshot struct {
	Claimed         uint64
	Done            uint64
	Failed          uint64
	Retried         uint64
	Unrouted        uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *EventMetrics) Snapshot() EventMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return EventMetricsSnapshot{
		Claimed:         m.claimed.Load(),
		Done:            m.done.Load(),
		Failed:          m.failed.Load(),
		Retried:         m.retried.Load(),
		Unrouted:        m.unrouted.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
