package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/golem-market/provideragent/internal/ledger"
	"github.com/golem-market/provideragent/internal/paymentmodel"
	"github.com/golem-market/provideragent/metrics"
	"github.com/shopspring/decimal"
)

// Errors surfaced to callers of the public API. Only ValidationError-class
// failures are returned this way; everything else is absorbed internally
// per SPEC_FULL.md §7.
var (
	ErrAgreementUnknown = errors.New("agreement not registered")
	ErrAgreementExists  = errors.New("agreement already tracked")
	ErrNotMyAgreement   = errors.New("not my agreement")
)

// Engine is the Payments Engine: a single-consumer event loop processing the
// inbound control events documented in SPEC_FULL.md §4.4.
type Engine struct {
	ctx     *providerCtx
	builder paymentmodel.Builder

	agreements map[ledger.AgreementId]*trackedAgreement

	invoicesToPay []string // invoice ids awaiting settlement
	earnings      decimal.Decimal

	mailbox chan func()
	quit    chan struct{}
	wg      sync.WaitGroup

	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics recorder. Optional; a nil metrics field is
// valid and every recording call below is a no-op in that case, so tests and
// lightweight embeddings can skip it entirely.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// New constructs an Engine. Start must be called before use.
func New(activityAPI ActivityAPI, paymentAPI PaymentAPI, deadlines DeadlineTracker, cfg Config, builder paymentmodel.Builder) *Engine {
	return &Engine{
		ctx: &providerCtx{
			activityAPI: activityAPI,
			paymentAPI:  paymentAPI,
			deadlines:   deadlines,
			config:      cfg,
		},
		builder:    builder,
		agreements: make(map[ledger.AgreementId]*trackedAgreement),
		earnings:   decimal.Zero,
		mailbox:    make(chan func(), 64),
		quit:       make(chan struct{}),
	}
}

// Start launches the engine's owning goroutine and the two inbound event
// pollers.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.loop()

	e.wg.Add(2)
	go e.invoiceEventPoller()
	go e.debitNoteEventPoller()
}

// Stop signals the engine to shut down. Per SPEC_FULL.md §5, orderly
// shutdown while agreements remain in flight is not specified; Stop simply
// stops accepting new mailbox work and waits for the owning goroutines to
// observe quit. Guaranteed-delivery background goroutines (final debit note,
// invoice issue/send) are not cancelled -- they run to completion or forever,
// deliberately.
func (e *Engine) Stop() {
	close(e.quit)
	e.wg.Wait()
}

// submit enqueues fn to run on the owning goroutine and blocks until it has
// run, returning whatever error fn produced. This is the "awaitable handle"
// pattern from SPEC_FULL.md §5: callers are external to the loop; fn is the
// only code that touches e.agreements.
func (e *Engine) submit(fn func() error) error {
	done := make(chan error, 1)
	wrapped := func() { done <- fn() }
	select {
	case e.mailbox <- wrapped:
	case <-e.quit:
		return errors.New("engine stopped")
	}
	select {
	case err := <-done:
		return err
	case <-e.quit:
		return errors.New("engine stopped")
	}
}

// post enqueues fn to run on the owning goroutine without waiting for it to
// complete. Used for self-messages emitted from background goroutines
// (FinalizeActivity, InvoiceAccepted, InvoiceSettled, DeadlineElapsed) so
// they serialize with everything else on the mailbox.
func (e *Engine) post(fn func()) {
	select {
	case e.mailbox <- fn:
	case <-e.quit:
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.mailbox:
			fn()
		case <-e.quit:
			return
		}
	}
}

// AgreementApproved seeds the ledger for a newly approved agreement. Failure
// to build the payment model is logged and the agreement is left untracked
// (§4.4): the requestor-side will eventually time out.
func (e *Engine) AgreementApproved(desc AgreementDescriptor) error {
	return e.submit(func() error {
		if _, ok := e.agreements[desc.AgreementID]; ok {
			log.Warnf("AgreementApproved: agreement [%s] already tracked", desc.AgreementID)
			return nil
		}

		model, err := e.builder.Build(desc.Model)
		if err != nil {
			log.Errorf("Failed to create payment model for agreement [%s]. Error: %v",
				desc.AgreementID, err)
			return nil
		}

		e.agreements[desc.AgreementID] = &trackedAgreement{
			ledger: ledger.New(desc.AgreementID),
			model:  model,
			desc:   desc,
			state:  stateOpen,
		}
		if e.metrics != nil {
			e.metrics.TrackedAgreementsGauge.Set(float64(len(e.agreements)))
		}
		log.Infof("Payments got signed agreement [%s]. Waiting for activities creation...",
			desc.AgreementID)
		return nil
	})
}

// ActivityCreated registers a new Running activity and schedules its first
// UpdateCost tick after one update_interval.
func (e *Engine) ActivityCreated(agreementID ledger.AgreementId, activityID ledger.ActivityId) error {
	return e.submit(func() error {
		ta, ok := e.agreements[agreementID]
		if !ok {
			err := fmt.Errorf("%w: [%s]", ErrAgreementUnknown, agreementID)
			log.Warnf("%v", err)
			return err
		}

		if err := ta.ledger.AddCreatedActivity(activityID); err != nil {
			log.Warnf("ActivityCreated: %v", err)
			return err
		}

		log.Infof("Payments - activity [%s] created. Start computing costs.", activityID)
		e.scheduleUpdateCost(agreementID, activityID, ta.desc.UpdateInterval)
		return nil
	})
}

// scheduleUpdateCost arms a timer that, after d, posts an updateCost message
// back to the owning loop. Must only be called from the owning goroutine.
func (e *Engine) scheduleUpdateCost(agreementID ledger.AgreementId, activityID ledger.ActivityId, d time.Duration) {
	time.AfterFunc(d, func() {
		e.post(func() { e.handleUpdateCost(agreementID, activityID) })
	})
}

// handleUpdateCost implements the per-activity periodic cost update chain
// documented in SPEC_FULL.md §4.4. Must only run on the owning goroutine.
func (e *Engine) handleUpdateCost(agreementID ledger.AgreementId, activityID ledger.ActivityId) {
	ta, ok := e.agreements[agreementID]
	if !ok {
		// Agreement no longer tracked: drop silently.
		return
	}
	if !ta.ledger.IsRunning(activityID) {
		log.Infof("Stopped sending debit notes, because activity [%s] was destroyed.", activityID)
		return
	}

	model := ta.model
	updateInterval := ta.desc.UpdateInterval
	ctxSnapshot := e.ctx

	go func() {
		info := DebitNoteInfo{
			AgreementID: agreementID,
			ActivityID:  activityID,
		}
		if _, _, err := e.computeAndSendDebitNote(context.Background(), ctxSnapshot, model, info, false); err != nil {
			log.Errorf("%v", err)
		}
		// Unconditionally reschedule: a failed send must not pause
		// metering (§4.4 step 4).
		e.post(func() { e.scheduleUpdateCost(agreementID, activityID, updateInterval) })
	}()
}

// computeAndSendDebitNote computes cost via the payment model, then issues
// and sends the resulting debit note through the payment interface, finally
// registering the payment deadline (if any) with the deadline tracker on
// success. isFinal only affects which metrics label the attempt is recorded
// under.
func (e *Engine) computeAndSendDebitNote(ctx context.Context, pctx *providerCtx, model paymentmodel.Model, info DebitNoteInfo, isFinal bool) (string, ledger.CostInfo, error) {
	finalLabel := "false"
	if isFinal {
		finalLabel = "true"
	}

	cost, err := model.ComputeCost(ctx, pctx.activityAPI, info.ActivityID)
	if err != nil {
		e.recordDebitNoteFailure(finalLabel)
		return "", ledger.CostInfo{}, fmt.Errorf("compute cost for activity [%s]: %w", info.ActivityID, err)
	}

	log.Infof("Updating cost for activity [%s]: %s, usage %v.", info.ActivityID, cost.Cost, cost.Usage)

	info.TotalAmountDue = cost.Cost
	info.UsageCounterVec = cost.Usage

	id, err := pctx.paymentAPI.IssueDebitNote(ctx, info)
	if err != nil {
		e.recordDebitNoteFailure(finalLabel)
		return "", ledger.CostInfo{}, fmt.Errorf("issue debit note for activity [%s]: %w", info.ActivityID, err)
	}
	if err := pctx.paymentAPI.SendDebitNote(ctx, id); err != nil {
		e.recordDebitNoteFailure(finalLabel)
		return "", ledger.CostInfo{}, fmt.Errorf("send debit note [%s] for activity [%s]: %w", id, info.ActivityID, err)
	}

	log.Infof("Debit note [%s] for activity [%s] sent.", id, info.ActivityID)

	if info.PaymentDeadline != nil {
		pctx.deadlines.Track(string(info.AgreementID), id, *info.PaymentDeadline)
	}

	if e.metrics != nil {
		e.metrics.DebitNotesIssuedTotal.WithLabelValues(finalLabel).Inc()
	}

	return id, cost, nil
}

func (e *Engine) recordDebitNoteFailure(finalLabel string) {
	if e.metrics != nil {
		e.metrics.DebitNotesFailedTotal.WithLabelValues(finalLabel).Inc()
	}
}

// ActivityDestroyed transitions the activity to Destroyed and launches the
// guaranteed-delivery final-debit-note loop documented in SPEC_FULL.md §4.4.
func (e *Engine) ActivityDestroyed(agreementID ledger.AgreementId, activityID ledger.ActivityId) error {
	return e.submit(func() error {
		ta, ok := e.agreements[agreementID]
		if !ok {
			err := fmt.Errorf("%w: [%s]", ErrAgreementUnknown, agreementID)
			log.Warnf("Can't find activity [%s] and agreement [%s].", activityID, agreementID)
			return err
		}

		if err := ta.ledger.ActivityDestroyed(activityID); err != nil {
			log.Warnf("ActivityDestroyed: %v", err)
			return err
		}

		var deadline *time.Time
		if ta.desc.PaymentDeadline > 0 {
			d := time.Now().Add(ta.desc.PaymentDeadline)
			deadline = &d
		}

		model := ta.model
		ctxSnapshot := e.ctx
		resendInterval := e.ctx.config.InvoiceResendInterval

		go e.finalDebitNoteLoop(ctxSnapshot, model, DebitNoteInfo{
			AgreementID:     agreementID,
			ActivityID:      activityID,
			PaymentDeadline: deadline,
		}, resendInterval)

		return nil
	})
}

// finalDebitNoteLoop is the guaranteed-delivery loop for the final debit
// note: it retries indefinitely until the debit note is issued and sent,
// since FinalizeActivity (and therefore the invoice) depends on it.
func (e *Engine) finalDebitNoteLoop(pctx *providerCtx, model paymentmodel.Model, info DebitNoteInfo, resendInterval time.Duration) {
	for {
		_, cost, err := e.computeAndSendDebitNote(context.Background(), pctx, model, info, true)
		if err == nil {
			log.Infof("Final cost for activity [%s]: %s.", info.ActivityID, cost.Cost)
			e.post(func() { e.handleFinalizeActivity(info.AgreementID, info.ActivityID, cost) })
			return
		}

		log.Errorf("%v Final debit note will be resent after %s.", err, resendInterval)
		time.Sleep(resendInterval)
	}
}

// handleFinalizeActivity applies FinishActivity to the ledger. Must only run
// on the owning goroutine.
func (e *Engine) handleFinalizeActivity(agreementID ledger.AgreementId, activityID ledger.ActivityId, cost ledger.CostInfo) {
	ta, ok := e.agreements[agreementID]
	if !ok {
		log.Warnf("Not my activity - agreement [%s].", agreementID)
		return
	}

	log.Infof("Activity [%s] finished.", activityID)
	if err := ta.ledger.FinishActivity(activityID, cost); err != nil {
		log.Errorf("Finalizing activity failed. Error: %v", err)
	}
}

// AgreementClosed handles both AgreementClosed and the normalized form of
// AgreementBroken (see AgreementBroken below). sendTerminate is carried only
// for the benefit of the external agreement-lifecycle subsystem (§9 open
// question) and is not otherwise consumed by the payments core.
func (e *Engine) AgreementClosed(agreementID ledger.AgreementId, sendTerminate bool) error {
	return e.submit(func() error {
		ta, ok := e.agreements[agreementID]
		if !ok {
			return fmt.Errorf("%w: [%s]", ErrNotMyAgreement, agreementID)
		}

		// Idempotence (§8 property 7): a duplicate AgreementClosed past
		// Open is a no-op.
		if ta.state != stateOpen {
			log.Infof("AgreementClosed: agreement [%s] already in state %s, ignoring duplicate.",
				agreementID, ta.state)
			return nil
		}
		ta.state = stateAwaitingActivities

		log.Infof("Payments - agreement [%s] closed. Computing cost summary...", agreementID)

		watch := ta.ledger.ActivitiesWatch()

		go func() {
			<-watch
			e.post(func() { e.proceedToSummary(agreementID) })
		}()

		return nil
	})
}

// AgreementBroken is normalized to AgreementClosed{SendTerminate: false} per
// SPEC_FULL.md §4.4.
func (e *Engine) AgreementBroken(agreementID ledger.AgreementId) error {
	return e.AgreementClosed(agreementID, false)
}

// proceedToSummary runs once the agreement's activities_watch has resolved.
// Must only run on the owning goroutine.
func (e *Engine) proceedToSummary(agreementID ledger.AgreementId) {
	ta, ok := e.agreements[agreementID]
	if !ok || ta.state != stateAwaitingActivities {
		return
	}
	ta.state = stateSummarized

	summary := e.agreementSummary(ta)
	ctxSnapshot := e.ctx
	reissueInterval := ctxSnapshot.config.InvoiceReissueInterval

	go func() {
		id := issueInvoiceLoop(ctxSnapshot, summary, reissueInterval)
		e.post(func() { e.onInvoiceIssued(agreementID, id) })
	}()
}

// agreementSummary builds the {agreement_id, cost_summary, activities}
// tuple the invoice is issued from. This corresponds to the original
// source's GetAgreementSummary self-message (see SPEC_FULL.md's
// "Supplemented Features" section): kept as its own method, invoked only
// from the owning goroutine, so the summarize step stays independently
// testable without a real mailbox round-trip.
func (e *Engine) agreementSummary(ta *trackedAgreement) AgreementSummary {
	return AgreementSummary{
		AgreementID: ta.desc.AgreementID,
		CostSummary: ta.ledger.CostSummary(),
		ActivityIDs: ta.ledger.ListActivities(),
	}
}

// issueInvoiceLoop is the guaranteed-delivery loop for invoice issuance: it
// retries every invoice_reissue_interval until the payment interface accepts
// it, and returns the issued invoice id.
//
// NOTE (open question, §9): invoices are issued with payment_due_date =
// now, making them immediately overdue. This preserves the original
// source's observable behavior; flagged for redesign in DESIGN.md.
func issueInvoiceLoop(pctx *providerCtx, summary AgreementSummary, reissueInterval time.Duration) string {
	log.Infof("Final cost for agreement [%s]: %s, usage %v.",
		summary.AgreementID, summary.CostSummary.Cost, summary.CostSummary.Usage)

	info := InvoiceInfo{
		AgreementID:    summary.AgreementID,
		ActivityIDs:    summary.ActivityIDs,
		Amount:         summary.CostSummary.Cost,
		PaymentDueDate: time.Now(),
	}

	for {
		id, err := pctx.paymentAPI.IssueInvoice(context.Background(), info)
		if err == nil {
			log.Infof("Invoice [%s] issued.", id)
			return id
		}
		log.Errorf("Error issuing invoice: %v Retry in %s.", err, reissueInterval)
		time.Sleep(reissueInterval)
	}
}

// onInvoiceIssued dispatches SendInvoice without awaiting it, so delivery to
// a possibly-offline requestor never blocks further negotiations (§4.4 step
// 4). Must only run on the owning goroutine.
func (e *Engine) onInvoiceIssued(agreementID ledger.AgreementId, invoiceID string) {
	ta, ok := e.agreements[agreementID]
	if !ok || ta.state != stateSummarized {
		return
	}
	ta.state = stateInvoiceIssued
	ta.invoiceID = invoiceID
	if e.metrics != nil {
		e.metrics.InvoicesIssuedTotal.Inc()
	}

	ctxSnapshot := e.ctx
	resendInterval := ctxSnapshot.config.InvoiceResendInterval

	go sendInvoiceLoop(ctxSnapshot, invoiceID, resendInterval)

	ta.state = stateInvoiceSent
}

// sendInvoiceLoop is the guaranteed-delivery loop for invoice delivery: it
// retries every invoice_resend_interval until the payment interface accepts
// the send.
func sendInvoiceLoop(pctx *providerCtx, invoiceID string, resendInterval time.Duration) {
	for {
		err := pctx.paymentAPI.SendInvoice(context.Background(), invoiceID)
		if err == nil {
			return
		}
		log.Errorf("Error sending invoice [%s]: %v Retry in %s.", invoiceID, err, resendInterval)
		time.Sleep(resendInterval)
	}
}

// handleInvoiceAccepted fetches the invoice by id to confirm the payment
// interface actually holds it, then appends it to invoicesToPay. Must only
// run on the owning goroutine.
func (e *Engine) handleInvoiceAccepted(invoiceID string) {
	ctxSnapshot := e.ctx
	go func() {
		if _, err := ctxSnapshot.paymentAPI.GetInvoice(context.Background(), invoiceID); err != nil {
			log.Errorf("GetInvoice(%s) failed: %v", invoiceID, err)
			return
		}
		e.post(func() { e.recordInvoiceAccepted(invoiceID) })
	}()
}

// recordInvoiceAccepted must only run on the owning goroutine.
func (e *Engine) recordInvoiceAccepted(invoiceID string) {
	log.Infof("Invoice [%s] accepted by requestor.", invoiceID)
	e.invoicesToPay = append(e.invoicesToPay, invoiceID)
}

// handleInvoiceSettled removes the agreement from the ledger, removes the
// invoice from invoicesToPay, and adds its amount to cumulative earnings.
// This is the terminal transition (§4.4). Must only run on the owning
// goroutine.
func (e *Engine) handleInvoiceSettled(invoiceID string, amount decimal.Decimal) {
	log.Infof("Invoice [%s] settled by requestor.", invoiceID)

	for id, ta := range e.agreements {
		if ta.invoiceID == invoiceID {
			ta.state = stateSettled
			delete(e.agreements, id)
			break
		}
	}

	kept := e.invoicesToPay[:0]
	for _, id := range e.invoicesToPay {
		if id != invoiceID {
			kept = append(kept, id)
		}
	}
	e.invoicesToPay = kept

	e.earnings = e.earnings.Add(amount)

	if e.metrics != nil {
		e.metrics.InvoicesSettledTotal.Inc()
		amountF, _ := amount.Float64()
		e.metrics.EarningsTotal.Add(amountF)
		e.metrics.TrackedAgreementsGauge.Set(float64(len(e.agreements)))
	}
}

// handleDeadlineElapsed logs a missed payment deadline. Further policy is
// out of scope per §4.4.
func (e *Engine) handleDeadlineElapsed(ownerID, itemID string, deadline time.Time) {
	log.Warnf("Payment deadline elapsed for debit note [%s] (agreement [%s], deadline %s).",
		itemID, ownerID, deadline)
	if e.metrics != nil {
		e.metrics.DeadlinesElapsedTotal.Inc()
	}
}

// Earnings returns cumulative settled earnings. Exposed for tests and
// operator introspection (cmd/provideragentd).
func (e *Engine) Earnings() decimal.Decimal {
	result := make(chan decimal.Decimal, 1)
	e.post(func() { result <- e.earnings })
	select {
	case v := <-result:
		return v
	case <-e.quit:
		return decimal.Zero
	}
}

// HandleDeadlineElapsed feeds a DeadlineElapsed event from the deadline
// tracker's subscription channel into the engine's mailbox, preserving
// single-consumer ordering with everything else the engine processes.
func (e *Engine) HandleDeadlineElapsed(ownerID, itemID string, deadline time.Time) {
	e.post(func() { e.handleDeadlineElapsed(ownerID, itemID, deadline) })
}
