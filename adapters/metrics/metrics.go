// Package metrics exposes Prometheus instrumentation for the zkLogin agent.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the agent's collectors
type Metrics struct {
	proofCacheHits   prometheus.Counter
	proofCacheMisses prometheus.Counter
	proverFailures   *prometheus.CounterVec
	transactions     *prometheus.CounterVec
	sessionEvents    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		proofCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkauth",
			Name:      "proof_cache_hits_total",
			Help:      "Proof requests served from the cache.",
		}),
		proofCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkauth",
			Name:      "proof_cache_misses_total",
			Help:      "Proof requests sent to the proving service.",
		}),
		proverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkauth",
			Name:      "prover_failures_total",
			Help:      "Proving service failures by kind.",
		}, []string{"kind"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkauth",
			Name:      "transactions_total",
			Help:      "Signing flow stages reached.",
		}, []string{"stage"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkauth",
			Name:      "session_events_total",
			Help:      "Session lifecycle events emitted.",
		}, []string{"event"}),
	}

	reg.MustRegister(m.proofCacheHits, m.proofCacheMisses, m.proverFailures, m.transactions, m.sessionEvents)
	return m
}

func (m *Metrics) ProofCacheHit() {
	if m == nil {
		return
	}
	m.proofCacheHits.Inc()
}

func (m *Metrics) ProofCacheMiss() {
	if m == nil {
		return
	}
	m.proofCacheMisses.Inc()
}

// ProverFailure counts a failed proving call; kind is "deprecated", "incomplete" or "error"
func (m *Metrics) ProverFailure(kind string) {
	if m == nil {
		return
	}
	m.proverFailures.WithLabelValues(kind).Inc()
}

// Transaction counts a signing flow reaching stage
func (m *Metrics) Transaction(stage string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(stage).Inc()
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}
