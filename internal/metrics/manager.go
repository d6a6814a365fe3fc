package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns process-wide metric state: the Prometheus collectors, the
// service start time, and the last reported health of each component. The
// health snapshot backs the detailed health endpoint, so the gauges and
// the JSON surface can never disagree.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time

	mu     sync.Mutex
	health map[string]bool
}

// NewManager creates a new metrics manager
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
		health:     make(map[string]bool),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// SetComponentHealth records a component's health and mirrors it to the
// component gauge.
func (m *Manager) SetComponentHealth(component string, healthy bool) {
	m.mu.Lock()
	m.health[component] = healthy
	m.mu.Unlock()
	m.prometheus.UpdateComponentHealth(component, healthy)
}

// ComponentHealth returns a copy of the last reported health per component.
func (m *Manager) ComponentHealth() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]bool, len(m.health))
	for component, healthy := range m.health {
		snapshot[component] = healthy
	}
	return snapshot
}

// Uptime returns how long the service has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// UpdateSystemMetrics refreshes the runtime gauges: memory, goroutines
// and uptime.
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
