package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Events (worker pool)

	EventDuration  *prometheus.HistogramVec
	EventResults   *prometheus.CounterVec
	EventsInFlight prometheus.Gauge

	// Hand-off queue
	QueueDepth   prometheus.Gauge
	QueueDropped prometheus.Counter

	// Notification listener
	ListenerReconnects prometheus.Counter
	ListenerConnected  prometheus.Gauge
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pgebus",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed by the health/readiness/metrics server",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pgebus",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pgebus",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pgebus",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pgebus",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),

		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pgebus",
				Subsystem: "events",
				Name:      "duration_seconds",
				Help:      "Handler execution duration by event type and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"event_type", "result"}, // result=done|retry|failed|unrouted
		),
		EventResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pgebus",
				Subsystem: "events",
				Name:      "results_total",
				Help:      "Event outcomes by type and result.",
			},
			[]string{"event_type", "result"}, // result=done|retry|failed|unrouted
		),
		EventsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pgebus",
				Subsystem: "events",
				Name:      "in_flight",
				Help:      "Current number of events being handled across workers (per process)",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pgebus",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of ids buffered in the hand-off queue",
			},
		),
		QueueDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pgebus",
				Subsystem: "queue",
				Name:      "dropped_total",
				Help:      "Notification ids dropped because the hand-off queue was full",
			},
		),
		ListenerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pgebus",
				Subsystem: "listener",
				Name:      "reconnects_total",
				Help:      "Number of times the notification listener reconnected",
			},
		),
		ListenerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pgebus",
				Subsystem: "listener",
				Name:      "connected",
				Help:      "1 if the notification listener currently holds a LISTEN connection, else 0",
			},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.EventDuration, p.EventResults, p.EventsInFlight,
		p.QueueDepth, p.QueueDropped,
		p.ListenerReconnects, p.ListenerConnected,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
