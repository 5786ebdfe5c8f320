// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/braingenix/bglog/internal/engine"
)

const namespace = "bglog"

// Source is the part of the logger metrics are read from.
type Source interface {
	Stats() engine.Stats
	QueueDepth() int
	SpoolPending() int
	State() engine.SinkState
}

// Register adds the pipeline collectors for src to reg. Values are read
// from src at scrape time.
func Register(reg prometheus.Registerer, src Source) error {
	counter := func(name, help string, get func(engine.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(src.Stats())) })
	}
	gauge := func(name, help string, get func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, get)
	}

	collectors := []prometheus.Collector{
		counter("records_logged_total", "Records passed to Log.",
			func(s engine.Stats) uint64 { return s.Logged }),
		counter("records_enqueued_total", "Records handed to the transmission worker.",
			func(s engine.Stats) uint64 { return s.Enqueued }),
		counter("records_persisted_total", "Records committed to the central store.",
			func(s engine.Stats) uint64 { return s.Persisted }),
		counter("records_spooled_total", "Records written to the spool.",
			func(s engine.Stats) uint64 { return s.Spooled }),
		counter("records_replayed_total", "Spooled records later committed to the central store.",
			func(s engine.Stats) uint64 { return s.Replayed }),
		counter("records_dropped_total", "Records that could not be stored or spooled.",
			func(s engine.Stats) uint64 { return s.Dropped }),
		counter("store_failures_total", "Failed central store operations.",
			func(s engine.Stats) uint64 { return s.StoreFailures }),
		counter("file_failures_total", "Failed local file writes.",
			func(s engine.Stats) uint64 { return s.FileFailures }),
		gauge("queue_depth", "Records waiting in the record channel.",
			func() float64 { return float64(src.QueueDepth()) }),
		gauge("spool_pending", "Spooled records awaiting replay.",
			func() float64 { return float64(src.SpoolPending()) }),
		gauge("sink_state", "Store sink state: 0 disabled, 1 healthy, 2 backlog, 3 degraded.",
			func() float64 { return float64(src.State()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
