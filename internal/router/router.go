// Package router implements the hierarchical, decorator-style handler
// registry spec.md §9 asks for, grounded on the Python original's
// EventRouter.on()/include_router() (original_source/pg_event_bus/routing.py):
// dotted-path type matching with prefix-composing mounts. Individual
// handler implementations stay external to this module; only the
// dispatch mechanism lives here.
package router

import (
	"context"
	"fmt"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
)

// HandlerFunc processes one event inside the caller-supplied session.
// Returning an error is the sole retry trigger per spec.md §4.4.
type HandlerFunc func(ctx context.Context, sess postgres.Session, e event.Event) error

// Router maps dotted event types to handlers. Mounting a sub-router
// under a prefix concatenates it into this router's table at
// registration time, matching include_router's "prefix + child path"
// composition rather than doing a runtime tree walk.
type Router struct {
	handlers map[string]HandlerFunc
}

func New() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// On registers handler for the exact dotted path, mirroring the
// Python original's @router.on(path) decorator. Re-registering a path
// replaces the previous handler.
func (r *Router) On(path string, handler HandlerFunc) {
	r.handlers[path] = handler
}

// Mount copies every route of sub into this router, prefixed by
// "prefix.". An empty prefix mounts sub's routes unprefixed.
func (r *Router) Mount(prefix string, sub *Router) {
	for path, h := range sub.handlers {
		full := path
		if prefix != "" {
			full = prefix + "." + path
		}
		r.handlers[full] = h
	}
}

// Handle dispatches e to its registered handler inside sess, satisfying
// worker.Dispatcher. matched reports whether a route was found; per
// spec.md §9 an unmatched event is not an error — the core commits it
// as done to avoid infinite retries of unroutable events.
func (r *Router) Handle(ctx context.Context, sess postgres.Session, e event.Event) (matched bool, err error) {
	h, ok := r.handlers[e.Type]
	if !ok {
		return false, nil
	}
	if err := h(ctx, sess, e); err != nil {
		return true, fmt.Errorf("handler for %q: %w", e.Type, err)
	}
	return true, nil
}
