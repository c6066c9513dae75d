// Package health aggregates liveness checks from the process's components
// and exposes them over HTTP (SPEC_FULL §6: "cmd/executiond/main.go exposes
// only a /healthz and /metrics endpoint").
package health

import (
	"sync"

	"executioncore/internal/core"
)

// Manager aggregates health status from independently-registered checks,
// adapted from the teacher's infrastructure/health.HealthManager.
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
	}
}

// Register adds a named check; re-registering a name replaces its check.
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Status runs every registered check and returns a human-readable result
// per component.
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
		} else {
			status[component] = "healthy"
		}
	}
	return status
}

// Healthy reports whether every registered check currently passes.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
