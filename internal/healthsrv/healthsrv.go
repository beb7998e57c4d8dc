// Package healthsrv exposes liveness, readiness and Prometheus
// endpoints on a small gin server, grounded on the teacher's
// queue/worker.HealthHandler (the readyMu/ready flag and gin+promhttp
// shape) and generalized to pull readiness from a *pgebus.System
// instead of a single worker.
package healthsrv

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SystemStatus is the slice of *pgebus.System healthsrv reports on.
type SystemStatus interface {
	GetQueueSize() int
	GetWorkerCount() int
}

// Server wraps a gin engine exposing /healthz, /readyz and /metrics.
type Server struct {
	engine *gin.Engine

	mu    sync.RWMutex
	ready bool
	sys   SystemStatus
}

// New builds a Server. reg is the Prometheus registry the rest of the
// process registers its collectors against.
func New(reg *prometheus.Registry, sys SystemStatus) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("pgebus"))

	s := &Server{engine: r, sys: sys}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		if !s.isReady() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		body := gin.H{"status": "ready"}
		if s.sys != nil {
			body["queue_size"] = s.sys.GetQueueSize()
			body["worker_count"] = s.sys.GetWorkerCount()
		}
		c.JSON(http.StatusOK, body)
	})

	handler := promhttp.Handler()
	if reg != nil {
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(handler))

	return s
}

// SetReady flips the readiness flag. Call with true once Start has
// returned successfully, and with false at the beginning of shutdown
// so load balancers stop routing traffic before Stop tears anything
// down.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}
