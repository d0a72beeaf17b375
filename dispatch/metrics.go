// Package dispatch implements the central processCommand pipeline (spec.md
// §4.4) and the call() execution envelope (spec.md §4.5): the one place
// that ties together the command registry, keyspace, client registry,
// propagation buffer, shared-object registry and the eviction/durable-log/
// replica sinks.
package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the dispatcher updates on every
// call, mirroring the per-command Calls/Microseconds/RejectedCalls/
// FailedCalls counters of command.Stats but exported for scraping — the
// teacher never exposed stats this way (its CacheStats were logged, not
// scraped), but prometheus/client_golang is wired here as the idiomatic Go
// answer to "expose counters externally" per the rest of the example pack.
type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	CommandErrors   *prometheus.CounterVec
	CommandLatency  *prometheus.HistogramVec
	RejectedTotal   *prometheus.CounterVec
	PropagatedTotal prometheus.Counter
}

// NewMetrics registers and returns a fresh collector set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registerer across test binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcore",
			Name:      "commands_total",
			Help:      "Total commands executed, by command name.",
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcore",
			Name:      "command_errors_total",
			Help:      "Total commands that produced an error reply, by command name.",
		}, []string{"command"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvcore",
			Name:      "command_latency_seconds",
			Help:      "Per-command execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"command"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvcore",
			Name:      "commands_rejected_total",
			Help:      "Total commands rejected pre-execution, by reason.",
		}, []string{"reason"}),
		PropagatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvcore",
			Name:      "propagated_entries_total",
			Help:      "Total propagation-buffer entries flushed to AOF/replicas.",
		}),
	}
	reg.MustRegister(m.CommandsTotal, m.CommandErrors, m.CommandLatency, m.RejectedTotal, m.PropagatedTotal)
	return m
}
