// Package metrics declares the prometheus counters the block builder
// exposes for its request, proposal, signature, and post-task pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "requests_accepted_total",
		Help:      "Total tx requests accepted into the intake queue, by category.",
	}, []string{"is_registration"})

	ProposalsAssembled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "proposals_assembled_total",
		Help:      "Total proposal memos assembled from queued requests.",
	}, []string{"is_registration"})

	SignaturesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "signatures_received_total",
		Help:      "Total sender signatures accepted against a live proposal.",
	})

	TasksEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "tasks_enqueued_total",
		Help:      "Total block post tasks enqueued, by priority.",
	}, []string{"priority"})

	PostsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "posts_succeeded_total",
		Help:      "Total blocks successfully posted on-chain, by category.",
	}, []string{"is_registration"})

	PostsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "posts_expired_total",
		Help:      "Total block post tasks dropped for expiring before they could post.",
	})

	RuleEEliminations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "rule_e_eliminations_total",
		Help:      "Total senders excluded from a registration block's aggregate signature because they were already registered.",
	})

	NonceWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "block_builder",
		Name:      "nonce_waits_total",
		Help:      "Total times the poster polled smallest_reserved_nonce and found it wasn't its turn yet.",
	})
)

// Register adds every collector in this package to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestsAccepted,
		ProposalsAssembled,
		SignaturesReceived,
		TasksEnqueued,
		PostsSucceeded,
		PostsExpired,
		RuleEEliminations,
		NonceWaits,
	)
}
