// Package metrics holds the Prometheus collectors exported by curia.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "curia"

// Outcome label values.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeNotFound   = "not_found"
	OutcomeUnchanged  = "unchanged"
	OutcomeSuperseded = "superseded"
)

// Dispatch instruments the mutation dispatcher.
type Dispatch struct {
	Writes    *prometheus.CounterVec
	Coalesced prometheus.Counter
	InFlight  prometheus.Gauge
	Latency   prometheus.Histogram
}

// NewDispatch creates dispatcher collectors and registers them with reg
// when reg is non-nil.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	m := &Dispatch{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "writes_total",
			Help:      "Listing writes sent to the store, by outcome.",
		}, []string{"outcome"}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "coalesced_total",
			Help:      "Submitted drafts replaced by a newer draft before being sent.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Listing writes currently in flight.",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "write_duration_seconds",
			Help:      "Duration of listing writes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Writes, m.Coalesced, m.InFlight, m.Latency)
	}
	return m
}

// Poll instruments the polling refresher.
type Poll struct {
	Runs    *prometheus.CounterVec
	Changes prometheus.Counter
}

// NewPoll creates poller collectors and registers them with reg when reg
// is non-nil.
func NewPoll(reg prometheus.Registerer) *Poll {
	m := &Poll{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "runs_total",
			Help:      "Listing polls, by outcome.",
		}, []string{"outcome"}),
		Changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "changes_total",
			Help:      "Polls that observed a changed listing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Changes)
	}
	return m
}

// Store instruments store operations served over HTTP.
type Store struct {
	Operations *prometheus.CounterVec
}

// NewStore creates store collectors and registers them with reg when reg
// is non-nil.
func NewStore(reg prometheus.Registerer) *Store {
	m := &Store{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations served, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations)
	}
	return m
}
