// Package payments implements the Payments Engine: the single-consumer state
// machine that tracks approved agreements, meters their activities, issues
// and delivers debit notes, enforces payment deadlines, and issues/resends
// the final invoice. See SPEC_FULL.md §4.4 for the full contract.
package payments

import (
	"time"

	"github.com/golem-market/provideragent/internal/ledger"
	"github.com/golem-market/provideragent/internal/paymentmodel"
	"github.com/shopspring/decimal"
)

// AgreementDescriptor carries the negotiated parameters for one agreement:
// the payment-model descriptor plus how often to update cost and whether (and
// for how long) a payment deadline applies to the final debit note.
type AgreementDescriptor struct {
	AgreementID     ledger.AgreementId
	Model           paymentmodel.Descriptor
	UpdateInterval  time.Duration
	PaymentDeadline time.Duration // zero means "no deadline"
}

// DebitNoteInfo is the request shape for issuing a debit note. PaymentDeadline
// is non-nil only for the final debit note derived from ActivityDestroyed.
type DebitNoteInfo struct {
	AgreementID     ledger.AgreementId
	ActivityID      ledger.ActivityId
	TotalAmountDue  decimal.Decimal
	UsageCounterVec []float64
	PaymentDeadline *time.Time
}

// InvoiceInfo is the request shape for issuing the final invoice for an
// agreement.
type InvoiceInfo struct {
	AgreementID    ledger.AgreementId
	ActivityIDs    []ledger.ActivityId
	Amount         decimal.Decimal
	PaymentDueDate time.Time
}

// AgreementSummary is the result of GetAgreementSummary: the finalized cost
// and activity set an invoice is built from.
type AgreementSummary struct {
	AgreementID ledger.AgreementId
	CostSummary ledger.CostInfo
	ActivityIDs []ledger.ActivityId
}

// Invoice is the payment interface's own record of an issued invoice,
// fetched by id via GetInvoice rather than trusted from local bookkeeping:
// the amount it states is what the requestor actually owes and pays,
// independent of whatever the local ledger happens to compute.
type Invoice struct {
	ID             string
	AgreementID    ledger.AgreementId
	Amount         decimal.Decimal
	PaymentDueDate time.Time
}

// InvoiceEventKind enumerates the payment-interface invoice event variants
// the engine understands.
type InvoiceEventKind int

const (
	InvoiceEventUnknown InvoiceEventKind = iota
	InvoiceEventAccepted
	InvoiceEventSettled
)

// InvoiceEvent is one entry from GetInvoiceEvents.
type InvoiceEvent struct {
	InvoiceID string
	Kind      InvoiceEventKind
	Timestamp time.Time
}

// DebitNoteEventKind enumerates the payment-interface debit-note event
// variants the engine understands.
type DebitNoteEventKind int

const (
	DebitNoteEventUnknown DebitNoteEventKind = iota
	DebitNoteEventAccepted
)

// DebitNoteEvent is one entry from GetDebitNoteEvents.
type DebitNoteEvent struct {
	DebitNoteID string
	Kind        DebitNoteEventKind
	Timestamp   time.Time
}

// agreementState is the exactly-once invoice state machine described in
// SPEC_FULL.md §4.4: Open -> AwaitingActivities -> Summarized -> InvoiceIssued
// -> InvoiceSent -> Settled.
type agreementState int

const (
	stateOpen agreementState = iota
	stateAwaitingActivities
	stateSummarized
	stateInvoiceIssued
	stateInvoiceSent
	stateSettled
)

func (s agreementState) String() string {
	switch s {
	case stateOpen:
		return "Open"
	case stateAwaitingActivities:
		return "AwaitingActivities"
	case stateSummarized:
		return "Summarized"
	case stateInvoiceIssued:
		return "InvoiceIssued"
	case stateInvoiceSent:
		return "InvoiceSent"
	case stateSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// trackedAgreement bundles an agreement's ledger with the engine-private
// bookkeeping needed to drive it through the invoice state machine.
type trackedAgreement struct {
	ledger *ledger.Ledger
	model  paymentmodel.Model
	desc   AgreementDescriptor

	state agreementState

	// invoiceID is set once IssueInvoice succeeds; InvoiceSettled events are
	// matched to their agreement through it. Duplicate AgreementClosed
	// detection uses state, not this field.
	invoiceID string
}
