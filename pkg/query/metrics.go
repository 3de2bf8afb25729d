package query

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache activity. A nil *Metrics records nothing.
type Metrics struct {
	lookups       *prometheus.CounterVec
	fetches       prometheus.Counter
	fetchErrors   prometheus.Counter
	shares        prometheus.Counter
	invalidations prometheus.Counter
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "lookups_total",
			Help:      "Cache reads by result (hit or miss).",
		}, []string{"result"}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "fetches_total",
			Help:      "Fetches started against the backend.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "fetch_errors_total",
			Help:      "Fetches that returned an error.",
		}),
		shares: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "shared_fetches_total",
			Help:      "Callers served by a fetch already in flight.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "invalidated_entries_total",
			Help:      "Entries marked stale by invalidation.",
		}),
	}

	for _, collector := range []prometheus.Collector{m.lookups, m.fetches, m.fetchErrors, m.shares, m.invalidations} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Lookups exposes the hit/miss counter.
func (m *Metrics) Lookups() *prometheus.CounterVec {
	return m.lookups
}

func (m *Metrics) hit() {
	if m != nil {
		m.lookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) fetch() {
	if m != nil {
		m.fetches.Inc()
	}
}

func (m *Metrics) fetchError() {
	if m != nil {
		m.fetchErrors.Inc()
	}
}

func (m *Metrics) shared() {
	if m != nil {
		m.shares.Inc()
	}
}

func (m *Metrics) invalidated(n int) {
	if m != nil && n > 0 {
		m.invalidations.Add(float64(n))
	}
}
