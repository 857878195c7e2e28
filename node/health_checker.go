package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Status constants.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded marks a check result as degraded rather than unhealthy.
var ErrDegraded = errors.New("degraded")

// CheckFunc reports the health of one subsystem. A nil error is healthy;
// ErrDegraded (or an error wrapping it) is degraded; anything else is
// unhealthy.
type CheckFunc func() error

// SubsystemHealth describes the health of a single subsystem.
type SubsystemHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	// Latency is how long the check took.
	Latency time.Duration `json:"latencyNs"`
}

// HealthReport is the aggregate result of checking all subsystems.
type HealthReport struct {
	// Status is healthy if all subsystems are healthy, degraded if any are
	// degraded but none unhealthy, and unhealthy otherwise.
	Status     string             `json:"status"`
	Subsystems []*SubsystemHealth `json:"subsystems"`
	CheckedAt  time.Time          `json:"checkedAt"`
	Uptime     time.Duration      `json:"uptimeNs"`
}

// HealthChecker aggregates health from registered subsystem checks.
// All methods are safe for concurrent use.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	order   []string // insertion order
	started time.Time
}

// NewHealthChecker creates a new HealthChecker with no registered subsystems.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
	}
}

// Register registers a named subsystem check, replacing any check with
// the same name.
func (hc *HealthChecker) Register(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if _, exists := hc.checks[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.checks[name] = check
}

// CheckAll runs all registered checks in registration order.
func (hc *HealthChecker) CheckAll() *HealthReport {
	hc.mu.RLock()
	names := make([]string, len(hc.order))
	copy(names, hc.order)
	checks := make(map[string]CheckFunc, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	started := hc.started
	hc.mu.RUnlock()

	now := time.Now()
	report := &HealthReport{
		Status:     StatusHealthy,
		Subsystems: make([]*SubsystemHealth, 0, len(names)),
		CheckedAt:  now,
		Uptime:     now.Sub(started),
	}
	for _, name := range names {
		h := runCheck(name, checks[name])
		report.Subsystems = append(report.Subsystems, h)
		switch h.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status != StatusUnhealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func runCheck(name string, check CheckFunc) *SubsystemHealth {
	start := time.Now()
	err := check()
	h := &SubsystemHealth{Name: name, Status: StatusHealthy, Latency: time.Since(start)}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		h.Status = StatusDegraded
		h.Message = err.Error()
	default:
		h.Status = StatusUnhealthy
		h.Message = err.Error()
	}
	return h
}

// ServeHTTP writes the health report as JSON, with status 503 when any
// subsystem is unhealthy.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := hc.CheckAll()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
