package storeengine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters the engine exposes about its own activity.
// Each Engine gets its own registry-less counter set so multiple engines
// (as in tests) never collide on metric names; callers that want these
// exported should register them explicitly with MustRegister.
type Metrics struct {
	recordsAppended       prometheus.Counter
	transactionsStarted   prometheus.Counter
	transactionsCommitted prometheus.Counter
	transactionsAborted   prometheus.Counter
	transactionConflicts  prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		recordsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "immuxdb",
			Subsystem: "storeengine",
			Name:      "records_appended_total",
			Help:      "Number of records appended to the log.",
		}),
		transactionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "immuxdb",
			Subsystem: "storeengine",
			Name:      "transactions_started_total",
			Help:      "Number of transactions begun.",
		}),
		transactionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "immuxdb",
			Subsystem: "storeengine",
			Name:      "transactions_committed_total",
			Help:      "Number of transactions committed.",
		}),
		transactionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "immuxdb",
			Subsystem: "storeengine",
			Name:      "transactions_aborted_total",
			Help:      "Number of transactions aborted.",
		}),
		transactionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "immuxdb",
			Subsystem: "storeengine",
			Name:      "transaction_conflicts_total",
			Help:      "Number of commits rejected by the lost-update check.",
		}),
	}
}

// Collectors returns every metric so a caller can register them on its
// own prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recordsAppended,
		m.transactionsStarted,
		m.transactionsCommitted,
		m.transactionsAborted,
		m.transactionConflicts,
	}
}
