package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golem-market/provideragent/internal/ledger"
	"github.com/golem-market/provideragent/internal/paymentmodel"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeActivityAPI struct {
	mu    sync.Mutex
	usage map[ledger.ActivityId][]float64
}

func newFakeActivityAPI() *fakeActivityAPI {
	return &fakeActivityAPI{usage: make(map[ledger.ActivityId][]float64)}
}

func (f *fakeActivityAPI) setUsage(id ledger.ActivityId, usage []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[id] = usage
}

func (f *fakeActivityAPI) GetActivityUsage(ctx context.Context, activityID ledger.ActivityId) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[activityID], nil
}

type debitNoteRecord struct {
	id   string
	info DebitNoteInfo
	sent bool
}

type invoiceRecord struct {
	id   string
	info InvoiceInfo
	sent bool
}

// fakePaymentAPI simulates the requestor side of the Payment API.
// failIssueDebitNoteTimes and failSendDebitNoteTimes let tests simulate a
// temporarily offline requestor (scenario S2).
type fakePaymentAPI struct {
	mu sync.Mutex

	debitNotes map[string]*debitNoteRecord
	invoices   map[string]*invoiceRecord
	nextID     int

	failIssueDebitNoteTimes int
	failSendDebitNoteTimes  int

	invoiceEvents   []InvoiceEvent
	debitNoteEvents []DebitNoteEvent
}

func newFakePaymentAPI() *fakePaymentAPI {
	return &fakePaymentAPI{
		debitNotes: make(map[string]*debitNoteRecord),
		invoices:   make(map[string]*invoiceRecord),
	}
}

func (f *fakePaymentAPI) newID(prefix string) string {
	f.nextID++
	return prefix + string(rune('0'+f.nextID))
}

func (f *fakePaymentAPI) IssueDebitNote(ctx context.Context, info DebitNoteInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIssueDebitNoteTimes > 0 {
		f.failIssueDebitNoteTimes--
		return "", errTransient
	}
	id := f.newID("dn")
	f.debitNotes[id] = &debitNoteRecord{id: id, info: info}
	return id, nil
}

func (f *fakePaymentAPI) SendDebitNote(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSendDebitNoteTimes > 0 {
		f.failSendDebitNoteTimes--
		return errTransient
	}
	if rec, ok := f.debitNotes[id]; ok {
		rec.sent = true
	}
	return nil
}

func (f *fakePaymentAPI) IssueInvoice(ctx context.Context, info InvoiceInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID("inv")
	f.invoices[id] = &invoiceRecord{id: id, info: info}
	return id, nil
}

func (f *fakePaymentAPI) SendInvoice(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.invoices[id]; ok {
		rec.sent = true
	}
	return nil
}

func (f *fakePaymentAPI) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.invoices[id]
	if !ok {
		return Invoice{}, errInvoiceNotFound
	}
	return Invoice{
		ID:             rec.id,
		AgreementID:    rec.info.AgreementID,
		Amount:         rec.info.Amount,
		PaymentDueDate: rec.info.PaymentDueDate,
	}, nil
}

func (f *fakePaymentAPI) GetInvoiceEvents(ctx context.Context, after time.Time, timeout time.Duration, sessionID string) ([]InvoiceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.invoiceEvents
	f.invoiceEvents = nil
	if len(evs) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	return evs, nil
}

func (f *fakePaymentAPI) GetDebitNoteEvents(ctx context.Context, after time.Time, timeout time.Duration, sessionID string) ([]DebitNoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.debitNoteEvents
	f.debitNoteEvents = nil
	if len(evs) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	return evs, nil
}

func (f *fakePaymentAPI) pushInvoiceAccepted(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiceEvents = append(f.invoiceEvents, InvoiceEvent{InvoiceID: id, Kind: InvoiceEventAccepted, Timestamp: time.Now()})
}

func (f *fakePaymentAPI) pushInvoiceSettled(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiceEvents = append(f.invoiceEvents, InvoiceEvent{InvoiceID: id, Kind: InvoiceEventSettled, Timestamp: time.Now()})
}

type fakeErr struct{ s string }

func (e *fakeErr) Error() string { return e.s }

var errTransient = &fakeErr{"transient failure"}
var errInvoiceNotFound = &fakeErr{"invoice not found"}

type noopDeadlines struct{}

func (noopDeadlines) Track(ownerID, itemID string, deadline time.Time) {}
func (noopDeadlines) StopTracking(itemID string)                       {}

func newTestEngine(activityAPI *fakeActivityAPI, paymentAPI *fakePaymentAPI) *Engine {
	cfg := DefaultConfig("test-session")
	cfg.InvoiceReissueInterval = 10 * time.Millisecond
	cfg.InvoiceResendInterval = 10 * time.Millisecond
	e := New(activityAPI, paymentAPI, noopDeadlines{}, cfg, paymentmodel.LinearBuilder{})
	e.Start()
	return e
}

// TestHappyPathSingleActivity covers scenario S1: one agreement, one
// activity, normal close, invoice accepted then settled.
func TestHappyPathSingleActivity(t *testing.T) {
	activityAPI := newFakeActivityAPI()
	paymentAPI := newFakePaymentAPI()
	e := newTestEngine(activityAPI, paymentAPI)
	defer e.Stop()

	agreementID := ledger.AgreementId("agreement-1")
	activityID := ledger.ActivityId("activity-1")

	err := e.AgreementApproved(AgreementDescriptor{
		AgreementID: agreementID,
		Model: paymentmodel.Descriptor{
			Name:   "linear",
			Params: map[string]string{"fixed_fee": "0", "coeff.0": "1"},
		},
		UpdateInterval:  50 * time.Millisecond,
		PaymentDeadline: time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, e.ActivityCreated(agreementID, activityID))

	activityAPI.setUsage(activityID, []float64{10})
	require.Eventually(t, func() bool {
		paymentAPI.mu.Lock()
		defer paymentAPI.mu.Unlock()
		return len(paymentAPI.debitNotes) >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.ActivityDestroyed(agreementID, activityID))
	require.NoError(t, e.AgreementClosed(agreementID, true))

	var invoiceID string
	require.Eventually(t, func() bool {
		paymentAPI.mu.Lock()
		defer paymentAPI.mu.Unlock()
		for id, rec := range paymentAPI.invoices {
			if rec.sent {
				invoiceID = id
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	paymentAPI.pushInvoiceAccepted(invoiceID)
	time.Sleep(30 * time.Millisecond)
	paymentAPI.pushInvoiceSettled(invoiceID)

	require.Eventually(t, func() bool {
		return e.Earnings().GreaterThan(decimal.Zero)
	}, time.Second, 5*time.Millisecond)
}

// TestFinalDebitNoteSurvivesTransientFailures covers scenario S2: the
// requestor is temporarily unreachable for the final debit note, which must
// be retried until it succeeds rather than abandoned.
func TestFinalDebitNoteSurvivesTransientFailures(t *testing.T) {
	activityAPI := newFakeActivityAPI()
	paymentAPI := newFakePaymentAPI()
	paymentAPI.failIssueDebitNoteTimes = 3

	cfg := DefaultConfig("test-session")
	cfg.InvoiceReissueInterval = 10 * time.Millisecond
	cfg.InvoiceResendInterval = 5 * time.Millisecond
	e := New(activityAPI, paymentAPI, noopDeadlines{}, cfg, paymentmodel.LinearBuilder{})
	e.Start()
	defer e.Stop()

	agreementID := ledger.AgreementId("agreement-2")
	activityID := ledger.ActivityId("activity-2")

	require.NoError(t, e.AgreementApproved(AgreementDescriptor{
		AgreementID: agreementID,
		Model: paymentmodel.Descriptor{
			Name:   "linear",
			Params: map[string]string{"fixed_fee": "0", "coeff.0": "1"},
		},
		UpdateInterval: time.Hour,
	}))
	require.NoError(t, e.ActivityCreated(agreementID, activityID))
	activityAPI.setUsage(activityID, []float64{5})

	require.NoError(t, e.ActivityDestroyed(agreementID, activityID))

	require.Eventually(t, func() bool {
		paymentAPI.mu.Lock()
		defer paymentAPI.mu.Unlock()
		for _, rec := range paymentAPI.debitNotes {
			if rec.sent {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

// TestDuplicateAgreementClosedIsIdempotent covers invariant property 7: a
// second AgreementClosed for the same agreement must not re-enter the
// pipeline.
func TestDuplicateAgreementClosedIsIdempotent(t *testing.T) {
	activityAPI := newFakeActivityAPI()
	paymentAPI := newFakePaymentAPI()
	e := newTestEngine(activityAPI, paymentAPI)
	defer e.Stop()

	agreementID := ledger.AgreementId("agreement-3")
	require.NoError(t, e.AgreementApproved(AgreementDescriptor{
		AgreementID: agreementID,
		Model: paymentmodel.Descriptor{
			Name:   "linear",
			Params: map[string]string{"fixed_fee": "0"},
		},
		UpdateInterval: time.Hour,
	}))

	require.NoError(t, e.AgreementClosed(agreementID, true))
	require.NoError(t, e.AgreementClosed(agreementID, true))
}

// TestActivityCreatedUnknownAgreement verifies ErrAgreementUnknown surfaces
// for an ActivityCreated referencing an untracked agreement.
func TestActivityCreatedUnknownAgreement(t *testing.T) {
	activityAPI := newFakeActivityAPI()
	paymentAPI := newFakePaymentAPI()
	e := newTestEngine(activityAPI, paymentAPI)
	defer e.Stop()

	err := e.ActivityCreated(ledger.AgreementId("missing"), ledger.ActivityId("a"))
	require.ErrorIs(t, err, ErrAgreementUnknown)
}
