package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-dblock/v1/syncbus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithParallel sets the maximum number of requests granted at the same time.
// Zero or a negative value leaves the manager unbounded.
func WithParallel(n int) Option {
	return func(m *Manager) {
		m.gate.limit = n
	}
}

// WithBus publishes lock and unlock events on bus. See LockKey, UnlockKey
// and ChangedKey for the keys used. Events are published asynchronously;
// call Close to stop the publisher.
func WithBus(bus syncbus.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithLogger sets the logger used for debug output. The standard logrus
// logger is used by default.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTracing records an OpenTelemetry span for every Acquire call.
func WithTracing() Option {
	return func(m *Manager) {
		m.traceEnabled = true
	}
}

// WithMetrics exposes the manager's active, waiting, granted and cancelled
// counts on reg, labelled with the manager name (see WithName). The process
// wide collectors of the metrics package are registered separately with
// metrics.RegisterLockMetrics.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithName sets the name the manager reports its metrics under. Managers
// sharing a registry need distinct names.
func WithName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.name = name
		}
	}
}
