package payments

import (
	"context"
	"time"

	"github.com/golem-market/provideragent/internal/ledger"
)

// ActivityAPI is the consumed Activity API: get_activity_usage.
type ActivityAPI interface {
	GetActivityUsage(ctx context.Context, activityID ledger.ActivityId) ([]float64, error)
}

// PaymentAPI is the consumed Payment API.
type PaymentAPI interface {
	IssueDebitNote(ctx context.Context, info DebitNoteInfo) (id string, err error)
	SendDebitNote(ctx context.Context, id string) error
	IssueInvoice(ctx context.Context, info InvoiceInfo) (id string, err error)
	SendInvoice(ctx context.Context, id string) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	GetInvoiceEvents(ctx context.Context, after time.Time, timeout time.Duration, sessionID string) ([]InvoiceEvent, error)
	GetDebitNoteEvents(ctx context.Context, after time.Time, timeout time.Duration, sessionID string) ([]DebitNoteEvent, error)
}

// DeadlineTracker is the subset of internal/deadline.Tracker the payments
// engine depends on, kept as an interface so unit tests can substitute a
// fake without spinning up a real tracker goroutine.
type DeadlineTracker interface {
	Track(ownerID, itemID string, deadline time.Time)
	StopTracking(itemID string)
}

// Config bundles the process-wide options from SPEC_FULL.md §6.
type Config struct {
	GetEventsTimeout       time.Duration
	GetEventsErrorTimeout  time.Duration
	InvoiceReissueInterval time.Duration
	InvoiceResendInterval  time.Duration
	SessionID              string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig(sessionID string) Config {
	return Config{
		GetEventsTimeout:       50 * time.Second,
		GetEventsErrorTimeout:  5 * time.Second,
		InvoiceReissueInterval: 5 * time.Second,
		InvoiceResendInterval:  50 * time.Second,
		SessionID:              sessionID,
	}
}

// providerCtx bundles the API clients, the deadline tracker, and config --
// the immutable, shared-by-reference handle background goroutines close
// over. It never changes after construction, matching the teacher's
// ProviderCtx/ya-Rust's Arc<ProviderCtx> pattern (see SPEC_FULL.md §9).
type providerCtx struct {
	activityAPI ActivityAPI
	paymentAPI  PaymentAPI
	deadlines   DeadlineTracker
	config      Config
}
