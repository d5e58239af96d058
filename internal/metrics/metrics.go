// Package metrics holds the Prometheus collectors of the ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SettlementOutcomes  *prometheus.CounterVec
	TransactionRetries  *prometheus.CounterVec
	SettledTransactions prometheus.Counter
	Erasures            *prometheus.CounterVec
	ErasedDocuments     prometheus.Counter
	OperationDuration   *prometheus.HistogramVec
	RPCs                *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SettlementOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duoledger",
			Name:      "settlement_requests_total",
			Help:      "Settlement requests answered, by resulting status or error kind.",
		}, []string{"outcome"}),
		TransactionRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duoledger",
			Name:      "transaction_conflicts_total",
			Help:      "Store transactions that lost an optimistic race, by operation.",
		}, []string{"operation"}),
		SettledTransactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duoledger",
			Name:      "settled_transactions_total",
			Help:      "Expense transactions marked settled.",
		}),
		Erasures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duoledger",
			Name:      "account_erasures_total",
			Help:      "Account erasures, by result.",
		}, []string{"result"}),
		ErasedDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duoledger",
			Name:      "erased_documents_total",
			Help:      "Documents deleted by account erasure.",
		}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duoledger",
			Name:      "operation_duration_seconds",
			Help:      "Latency of core operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		RPCs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duoledger",
			Name:      "rpc_requests_total",
			Help:      "Handled RPCs, by procedure and status code.",
		}, []string{"procedure", "code"}),
	}
	reg.MustRegister(
		m.SettlementOutcomes,
		m.TransactionRetries,
		m.SettledTransactions,
		m.Erasures,
		m.ErasedDocuments,
		m.OperationDuration,
		m.RPCs,
	)
	return m
}

// ObserveSettlement records the outcome of a confirm call.
func (m *Metrics) ObserveSettlement(outcome string, settled int) {
	if m == nil {
		return
	}
	m.SettlementOutcomes.WithLabelValues(outcome).Inc()
	m.SettledTransactions.Add(float64(settled))
}

// ObserveConflict records a transaction attempt lost to a concurrent writer.
func (m *Metrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.TransactionRetries.WithLabelValues(operation).Inc()
}

// ObserveErasure records an account erasure.
func (m *Metrics) ObserveErasure(err error, deleted int) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Erasures.WithLabelValues(result).Inc()
	m.ErasedDocuments.Add(float64(deleted))
}

// Since records the time elapsed since start for operation.
func (m *Metrics) Since(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveRPC records a handled RPC and its latency.
func (m *Metrics) ObserveRPC(procedure, code string, start time.Time) {
	if m == nil {
		return
	}
	m.RPCs.WithLabelValues(procedure, code).Inc()
	m.OperationDuration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
}
