// Package handlers contains the HTTP handlers served behind the edge filter.
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthResponse represents the response for the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// ReadyResponse represents the response for the ready endpoint.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc reports whether a component is ready.
type CheckFunc func() bool

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	started time.Time
	ready   bool
	checks  map[string]CheckFunc
	mu      sync.RWMutex
}

// NewHealthHandler creates a new HealthHandler that starts out ready.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		started: time.Now(),
		ready:   true,
		checks:  make(map[string]CheckFunc),
	}
}

// Health handles the /health endpoint. It answers as long as the
// process is serving.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Ready handles the /ready endpoint. It fails while the server is
// draining or when any registered check fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	allReady := h.ready
	names := h.checkNames()
	funcs := make(map[string]CheckFunc, len(names))
	for _, name := range names {
		funcs[name] = h.checks[name]
	}
	h.mu.RUnlock()

	var checks map[string]string
	if len(names) > 0 {
		checks = make(map[string]string, len(names))
	}

	// Checks may dial out, so they run without holding mu.
	for _, name := range names {
		if funcs[name]() {
			checks[name] = "ok"
		} else {
			checks[name] = "fail"
			allReady = false
		}
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not ready", http.StatusServiceUnavailable
	}

	writeJSON(w, code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// checkNames returns registered checks in a stable order. Caller holds mu.
func (h *HealthHandler) checkNames() []string {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetReady sets the ready state.
func (h *HealthHandler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current ready state.
func (h *HealthHandler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// AddCheck registers a readiness check.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
