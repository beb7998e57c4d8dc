package healthsrv

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSystem struct{}

func (fakeSystem) GetQueueSize() int   { return 3 }
func (fakeSystem) GetWorkerCount() int { return 2 }

func TestHealthzAlwaysOK(t *testing.T) {
	s := New(nil, fakeSystem{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzReflectsFlag(t *testing.T) {
	s := New(nil, fakeSystem{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before ready = %d, want 503", rec.Code)
	}

	s.SetReady(true)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after ready = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	s := New(nil, fakeSystem{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
