package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterLockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)
	AcquiredCounter.Inc()
	CancelledCounter.Inc()
	ActiveGauge.Set(2)
	WaitingGauge.Set(1)
	WaitHistogram.Observe(0.01)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 5 {
		t.Fatalf("expected metrics registered")
	}
}

func TestRegisterLockMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterLockMetrics(reg)
}
