// Package metrics exposes the node's prometheus counters and gauges as a
// plain struct built by New and passed by reference into components — never
// registered against the global prometheus.DefaultRegisterer, consistent
// with the design note against process-wide singletons.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the node's components touch. Callers create
// one with New and register it with whatever prometheus.Registerer they
// choose (a fresh prometheus.NewRegistry() in tests, the process default in
// production).
type Registry struct {
	BlocksAccepted  prometheus.Counter
	BlocksOrphaned  *prometheus.CounterVec // labeled by reason
	ChainReorgs     prometheus.Counter
	DAGRoundSize    *prometheus.GaugeVec // labeled by round, set on insert
	CertsCommitted  prometheus.Counter
	CommitsAccepted *prometheus.CounterVec // labeled by contract_id
	PredicateGas    prometheus.Histogram
}

// New constructs a Registry and registers every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modalnode_blocks_accepted_total",
			Help: "Miner blocks accepted onto the canonical chain.",
		}),
		BlocksOrphaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modalnode_blocks_orphaned_total",
			Help: "Miner blocks stored as orphans, labeled by reason.",
		}, []string{"reason"}),
		ChainReorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modalnode_chain_reorgs_total",
			Help: "Adopted heavier-chain reorganizations.",
		}),
		DAGRoundSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modalnode_dag_round_size",
			Help: "Certificate count for the most recently touched round.",
		}, []string{"round"}),
		CertsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modalnode_certificates_committed_total",
			Help: "Certificates committed by the ordering engine.",
		}),
		CommitsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modalnode_contract_commits_total",
			Help: "Contract commits accepted, labeled by contract id.",
		}, []string{"contract_id"}),
		PredicateGas: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modalnode_predicate_gas_used",
			Help:    "Gas consumed per predicate evaluation.",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
	}
	reg.MustRegister(
		r.BlocksAccepted, r.BlocksOrphaned, r.ChainReorgs, r.DAGRoundSize,
		r.CertsCommitted, r.CommitsAccepted, r.PredicateGas,
	)
	return r
}

// Noop returns a Registry backed by a private, unregistered prometheus
// registry — useful for components under test that don't want to assert on
// metrics but still need a non-nil Registry to pass in.
func Noop() *Registry {
	return New(prometheus.NewRegistry())
}
