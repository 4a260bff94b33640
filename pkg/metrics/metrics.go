// Package metrics collects the Prometheus series the pipeline emits:
// stage transition counts, adapter latency, ledger mining duration and
// chain length, and intervention queue depth. NewMetricsWithRegistry
// accepts an explicit registry so tests can use a fresh one per spec,
// matching the corpus's constructor shape; NewMetrics registers against
// the global default registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage transition outcome labels for StageTransitionsTotal.
const (
	OutcomeAdvanced    = "advanced"
	OutcomeGateWaiting = "gate_waiting"
	OutcomeFailed      = "failed"
)

// Metrics holds every series this service publishes. Fields are public
// so callers can record against them directly (metrics.Foo.Inc()),
// the same shape the corpus's Metrics struct uses.
type Metrics struct {
	StageTransitionsTotal    *prometheus.CounterVec
	StageDurationSeconds     *prometheus.HistogramVec
	AdapterLatencySeconds    *prometheus.HistogramVec
	AdapterFailuresTotal     *prometheus.CounterVec
	LedgerMiningSeconds      prometheus.Histogram
	LedgerChainLength        prometheus.Gauge
	InterventionQueueDepth   *prometheus.GaugeVec
	InterventionsOpenedTotal *prometheus.CounterVec
}

// NewMetrics registers against the global default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, "", prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers every series under namespace_subsystem
// against registerer, so unit tests can pass a fresh prometheus.Registry
// and avoid the duplicate-registration panics a shared default registerer
// causes across parallel specs.
func NewMetricsWithRegistry(namespace, subsystem string, registerer prometheus.Registerer) *Metrics {
	f := promauto.With(registerer)
	return &Metrics{
		StageTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_transitions_total",
			Help:      "Count of pipeline stage-transition attempts by origin stage, destination stage, and outcome.",
		}, []string{"from_stage", "to_stage", "outcome"}),
		StageDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock time spent running one stage transition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		AdapterLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "adapter_latency_seconds",
			Help:      "Latency of a single call through an external-service adapter.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"adapter"}),
		AdapterFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "adapter_failures_total",
			Help:      "Count of adapter calls that exhausted their retry budget.",
		}, []string{"adapter"}),
		LedgerMiningSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_mining_seconds",
			Help:      "Time spent searching for a block's nonce under the configured difficulty.",
			Buckets:   prometheus.DefBuckets,
		}),
		LedgerChainLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_chain_length",
			Help:      "Number of blocks currently in the ledger.",
		}),
		InterventionQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "intervention_queue_depth",
			Help:      "Number of open (unclaimed or claimed, unresolved) interventions by priority.",
		}, []string{"priority"}),
		InterventionsOpenedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "interventions_opened_total",
			Help:      "Count of interventions opened, by reason and priority.",
		}, []string{"reason", "priority"}),
	}
}
