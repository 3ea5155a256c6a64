// Package handlers implements the warden HTTP API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/3leaps/warden/internal/errors"
)

// Checker reports the health of one dependency.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a healthy /health reply.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager aggregates named checkers behind the health endpoints.
type HealthManager struct {
	version string

	mu       sync.Mutex
	checkers map[string]Checker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
	}
}

func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs every checker; any failure yields 503 with per-check
// detail in the error envelope.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	failures := make(map[string]any)

	m.mu.Lock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	snapshot := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		snapshot[name] = c
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := snapshot[name].CheckHealth(r.Context()); err != nil {
			checks[name] = "unhealthy"
			failures[name] = err.Error()
			continue
		}
		checks[name] = "healthy"
	}

	if len(failures) > 0 {
		apperrors.WriteDetails(w, r, http.StatusServiceUnavailable,
			"SERVICE_UNAVAILABLE", "one or more health checks failed", failures)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "healthy",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler reports only that the process is serving requests.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "healthy",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}
