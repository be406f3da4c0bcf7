package transaction

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.observeOutcome("commit")
	m.observeOutcome("commit")
	m.observeCommand("insert")
	m.observePasses(3)
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("commit")); got != 2 {
		t.Fatalf("transactions counter = %v", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("insert")); got != 1 {
		t.Fatalf("commands counter = %v", got)
	}
}

func TestNilMetricsObserversAreSafe(t *testing.T) {
	var m *Metrics
	m.observeOutcome("commit")
	m.observeCommand("insert")
	m.observePasses(1)
}

func TestDuplicateRegistrationPanicsWithoutNilGuard(t *testing.T) {
	// Registering the same collectors twice on one registry is a programmer
	// error; make sure NewMetrics with a nil registerer sidesteps it.
	m := NewMetrics(nil)
	m.observeOutcome("rollback")
}
