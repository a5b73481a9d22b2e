package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquiredCounter tracks the number of granted lock requests.
	AcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warp_lock_acquired_total",
		Help: "Total number of granted lock requests",
	})
	// CancelledCounter tracks requests aborted while waiting.
	CancelledCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warp_lock_cancelled_total",
		Help: "Total number of lock requests cancelled while waiting",
	})
	// ActiveGauge reports the number of granted requests summed over every
	// manager in the process.
	ActiveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warp_lock_active",
		Help: "Current number of granted lock requests",
	})
	// WaitingGauge reports the number of queued requests summed over every
	// manager in the process.
	WaitingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warp_lock_waiting",
		Help: "Current number of queued lock requests",
	})
	// WaitHistogram observes how long requests waited before being granted.
	WaitHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warp_lock_wait_seconds",
		Help:    "Time spent waiting for a lock request to be granted",
		Buckets: prometheus.DefBuckets,
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers the lock manager metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquiredCounter, CancelledCounter, ActiveGauge, WaitingGauge, WaitHistogram)
}
