// Package metrics exposes the dataflow core's runtime counters as
// Prometheus collectors: microbatches observed in/out of a stage, sync
// tokens coalesced by the fan-out fabric, and iteration rounds executed.
// Registration is optional: a nil Registerer yields live, working
// counters that simply aren't exported anywhere, keeping observability
// additive rather than required.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a bundle of counters threaded through the executor and the
// fan-out fabric. The zero value is not usable; construct with New.
type Metrics struct {
	BatchesIn       *prometheus.CounterVec
	BatchesOut      *prometheus.CounterVec
	SyncCoalesced   *prometheus.CounterVec
	IterationRounds prometheus.Counter
}

// New builds a Metrics bundle and, if reg is non-nil, registers every
// collector with it. Registration failures (e.g. a duplicate collector from
// a second Executor sharing a Registerer) are ignored: metrics are a
// best-effort observability layer, never load-bearing for correctness.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataflow_microbatches_in_total",
			Help: "Number of data microbatches consumed by a stage, labeled by stage.",
		}, []string{"stage"}),
		BatchesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataflow_microbatches_out_total",
			Help: "Number of data microbatches emitted by a stage, labeled by stage.",
		}, []string{"stage"}),
		SyncCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataflow_sync_tokens_coalesced_total",
			Help: "Number of control tokens forwarded downstream after fan-in coalescing, labeled by kind.",
		}, []string{"kind"}),
		IterationRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataflow_iteration_rounds_total",
			Help: "Number of iteration-construct rounds executed.",
		}),
	}
	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{m.BatchesIn, m.BatchesOut, m.SyncCoalesced, m.IterationRounds} {
		_ = reg.Register(c)
	}
	return m
}

// ObserveBatchIn increments the in-counter for stage.
func (m *Metrics) ObserveBatchIn(stage string) {
	if m == nil {
		return
	}
	m.BatchesIn.WithLabelValues(stage).Inc()
}

// ObserveBatchOut increments the out-counter for stage.
func (m *Metrics) ObserveBatchOut(stage string) {
	if m == nil {
		return
	}
	m.BatchesOut.WithLabelValues(stage).Inc()
}

// ObserveCoalesced increments the coalesced-sync counter for kind.
func (m *Metrics) ObserveCoalesced(kind string) {
	if m == nil {
		return
	}
	m.SyncCoalesced.WithLabelValues(kind).Inc()
}

// ObserveIterationRound increments the iteration-round counter.
func (m *Metrics) ObserveIterationRound() {
	if m == nil {
		return
	}
	m.IterationRounds.Inc()
}
