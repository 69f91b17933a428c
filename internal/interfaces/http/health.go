package http

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/sawpanic/postlaunch/internal/infrastructure/db"
)

// LedgerHealth reports on the ledger store
type LedgerHealth interface {
	Health(ctx context.Context) db.HealthCheck
}

// Probe checks one non-critical dependency, such as the resume journal
type Probe func(ctx context.Context) error

// Health serves the service health report
type Health struct {
	ledger    LedgerHealth
	probes    map[string]Probe
	active    func() int
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealth creates the health handler. Ledger failures make the service
// unhealthy; probe failures only degrade it.
func NewHealth(ledger LedgerHealth, version string) *Health {
	return &Health{
		ledger:    ledger,
		probes:    map[string]Probe{},
		startTime: time.Now(),
		version:   version,
		timeout:   3 * time.Second,
	}
}

// WithProbe adds a named dependency check
func (h *Health) WithProbe(name string, p Probe) *Health {
	h.probes[name] = p
	return h
}

// WithActive reports the number of launches in progress
func (h *Health) WithActive(fn func() int) *Health {
	h.active = fn
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string                 `json:"status"` // healthy, degraded or unhealthy
	Timestamp      time.Time              `json:"timestamp"`
	Uptime         string                 `json:"uptime"`
	Version        string                 `json:"version"`
	ActiveLaunches int                    `json:"active_launches"`
	System         SystemInfo             `json:"system"`
	Ledger         db.HealthCheck         `json:"ledger"`
	Checks         map[string]CheckResult `json:"checks"`
}

type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status     string `json:"status"` // pass or fail
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := h.gather(ctx)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Health) gather(ctx context.Context) HealthResponse {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
		Checks: make(map[string]CheckResult, len(h.probes)),
	}
	if h.active != nil {
		resp.ActiveLaunches = h.active()
	}

	resp.Ledger = h.ledger.Health(ctx)
	if !resp.Ledger.Healthy {
		resp.Status = "unhealthy"
	}

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		start := time.Now()
		res := CheckResult{Status: "pass"}
		if err := h.probes[name](ctx); err != nil {
			res.Status = "fail"
			res.Message = err.Error()
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
		res.DurationMS = time.Since(start).Milliseconds()
		resp.Checks[name] = res
	}
	return resp
}

var _ http.Handler = (*Health)(nil)
