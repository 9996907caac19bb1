// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc reports whether one dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthChecker runs named readiness checks.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	timeout   time.Duration
	logger    *zap.Logger
	lastCheck time.Time
	lastState map[string]string
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
		logger:  logger,
	}
}

// AddCheck registers a readiness check under name, replacing any previous one.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check and reports whether all passed.
func (h *HealthChecker) Check(ctx context.Context) (bool, map[string]string) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "healthy"
	}

	h.mu.Lock()
	h.lastCheck = time.Now()
	h.lastState = results
	h.mu.Unlock()

	return healthy, results
}

// LastCheck returns the time and results of the most recent Check.
func (h *HealthChecker) LastCheck() (time.Time, map[string]string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCheck, h.lastState
}

// LivenessHandler handles liveness checks
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness checks
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	healthy, checks := h.Check(r.Context())

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
