package transaction

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates engine counters for Prometheus scraping.
type Metrics struct {
	transactions *prometheus.CounterVec
	commands     *prometheus.CounterVec
	passes       prometheus.Histogram
}

// NewMetrics builds the engine collectors and registers them with the given
// registerer (nil skips registration, useful for tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Name:      "transactions_total",
			Help:      "Completed unit-of-work runs by outcome.",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Name:      "commands_total",
			Help:      "Commands handed to the runner by kind.",
		}, []string{"kind"}),
		passes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stratum",
			Name:      "pool_passes",
			Help:      "Pool walk passes needed per transaction.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.commands, m.passes)
	}
	return m
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCommand(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

func (m *Metrics) observePasses(n int) {
	if m == nil {
		return
	}
	m.passes.Observe(float64(n))
}
