// Package metrics exposes the provider agent's Prometheus collectors,
// following the same NewWithRegistry/New split used across the retrieved
// example pack's metrics packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the agent's core components update.
type Metrics struct {
	DebitNotesIssuedTotal  *prometheus.CounterVec
	DebitNotesFailedTotal  *prometheus.CounterVec
	InvoicesIssuedTotal    prometheus.Counter
	InvoicesSettledTotal   prometheus.Counter
	EarningsTotal          prometheus.Counter
	TrackedAgreementsGauge prometheus.Gauge

	OffersReceivedTotal     *prometheus.CounterVec
	OffersPropagatedTotal   prometheus.Counter
	PropagationStoppedTotal *prometheus.CounterVec

	DeadlinesElapsedTotal prometheus.Counter
}

// New creates a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// for tests that want an isolated registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		DebitNotesIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provideragent_debit_notes_issued_total",
				Help: "Total debit notes issued, labeled by whether this was the final debit note for the activity.",
			},
			[]string{"final"},
		),
		DebitNotesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provideragent_debit_notes_failed_total",
				Help: "Total debit note issue/send attempts that failed.",
			},
			[]string{"final"},
		),
		InvoicesIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provideragent_invoices_issued_total",
				Help: "Total invoices issued.",
			},
		),
		InvoicesSettledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provideragent_invoices_settled_total",
				Help: "Total invoices settled by the requestor.",
			},
		),
		EarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provideragent_earnings_total",
				Help: "Cumulative settled earnings.",
			},
		),
		TrackedAgreementsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "provideragent_tracked_agreements",
				Help: "Number of agreements currently tracked by the payments engine.",
			},
		),
		OffersReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provideragent_offers_received_total",
				Help: "Total inbound OfferReceived events, labeled by local store state observed.",
			},
			[]string{"state"},
		),
		OffersPropagatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provideragent_offers_propagated_total",
				Help: "Total inbound offers re-broadcast after a NotFound ingestion.",
			},
		),
		PropagationStoppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provideragent_propagation_stopped_total",
				Help: "Total inbound offer/demand events dropped, labeled by stop reason.",
			},
			[]string{"reason"},
		),
		DeadlinesElapsedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provideragent_deadlines_elapsed_total",
				Help: "Total payment deadlines that elapsed without acceptance.",
			},
		),
	}

	registerer.MustRegister(
		m.DebitNotesIssuedTotal,
		m.DebitNotesFailedTotal,
		m.InvoicesIssuedTotal,
		m.InvoicesSettledTotal,
		m.EarningsTotal,
		m.TrackedAgreementsGauge,
		m.OffersReceivedTotal,
		m.OffersPropagatedTotal,
		m.PropagationStoppedTotal,
		m.DeadlinesElapsedTotal,
	)

	return m
}
