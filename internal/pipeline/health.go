package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// DefaultFailureBudget is how many consecutive persistence failures are
// tolerated before the process reports itself unhealthy so an external
// supervisor can restart it. A stretch of failures this long means the
// relational store is gone, not flaky.
const DefaultFailureBudget = 10

const probeTimeout = 2 * time.Second

// Check is a named readiness probe against a backing store.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Health tracks the consumer's persistence failure streak and exposes the
// liveness/readiness endpoints.
type Health struct {
	failureBudget int64
	consecutive   atomic.Int64
	checks        []Check
}

// NewHealth creates a Health tracker. A non-positive budget falls back to
// DefaultFailureBudget.
func NewHealth(budget int, checks ...Check) *Health {
	if budget <= 0 {
		budget = DefaultFailureBudget
	}
	return &Health{
		failureBudget: int64(budget),
		checks:        checks,
	}
}

// RecordFailure notes one failed persistence attempt.
func (h *Health) RecordFailure() {
	h.consecutive.Add(1)
}

// RecordSuccess resets the failure streak.
func (h *Health) RecordSuccess() {
	h.consecutive.Store(0)
}

// Streak returns the current consecutive-failure count.
func (h *Health) Streak() int64 {
	return h.consecutive.Load()
}

// Exhausted reports whether the failure budget has been spent.
func (h *Health) Exhausted() bool {
	return h.consecutive.Load() >= h.failureBudget
}

// Router builds the HTTP router serving /healthz, /readyz and /metrics.
func (h *Health) Router(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.handleReadiness).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	return r
}

// handleLiveness fails once the persistence failure budget is exhausted;
// everything short of that is a recoverable condition.
func (h *Health) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	if h.Exhausted() {
		http.Error(w, "persistence failure budget exhausted", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadiness additionally probes the backing stores.
func (h *Health) handleReadiness(w http.ResponseWriter, req *http.Request) {
	if h.Exhausted() {
		http.Error(w, "persistence failure budget exhausted", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), probeTimeout)
	defer cancel()

	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			http.Error(w, fmt.Sprintf("%s: %v", check.Name, err), http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
