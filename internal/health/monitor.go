package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// ComponentHealth reports the state of one collaborator.
type ComponentHealth struct {
	Component string `json:"component"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// CheckFunc probes a single collaborator.
type CheckFunc func(ctx context.Context) error

// Monitor aggregates health status from the engine's collaborators.
type Monitor struct {
	checks     map[string]CheckFunc
	required   map[string]bool
	lastCheck  time.Time
	lastReport map[string]ComponentHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks:     make(map[string]CheckFunc),
		required:   make(map[string]bool),
		lastReport: make(map[string]ComponentHealth),
	}
}

// Register adds a component check. Required components turn the aggregate
// status critical when failing, optional ones only degrade it.
func (m *Monitor) Register(name string, required bool, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
	m.required[name] = required
}

// CheckHealth probes all registered components. Checks are rate limited to
// once per 10s to avoid hammering collaborators.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ComponentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && len(m.lastReport) > 0 {
		return m.lastReport
	}

	report := make(map[string]ComponentHealth, len(m.checks))
	for name, check := range m.checks {
		health := ComponentHealth{
			Component: name,
			Status:    StatusHealthy,
		}

		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(checkCtx)
		cancel()
		health.LatencyMs = time.Since(start).Milliseconds()

		if err != nil {
			health.Error = err.Error()
			if m.required[name] {
				health.Status = StatusCritical
			} else {
				health.Status = StatusDegraded
			}
		}
		report[name] = health
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
