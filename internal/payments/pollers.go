package payments

import (
	"context"
	"time"
)

// invoiceEventPoller long-polls GetInvoiceEvents with a watermark, dispatching
// each event onto the owning goroutine via post. On error it backs off for
// GetEventsErrorTimeout and retries from the same watermark, per SPEC_FULL.md
// §4.4's inbound event pollers.
func (e *Engine) invoiceEventPoller() {
	defer e.wg.Done()

	after := time.Now()
	for {
		select {
		case <-e.quit:
			return
		default:
		}

		events, err := e.ctx.paymentAPI.GetInvoiceEvents(context.Background(), after, e.ctx.config.GetEventsTimeout, e.ctx.config.SessionID)
		if err != nil {
			log.Errorf("GetInvoiceEvents failed: %v Retry in %s.", err, e.ctx.config.GetEventsErrorTimeout)
			select {
			case <-time.After(e.ctx.config.GetEventsErrorTimeout):
			case <-e.quit:
				return
			}
			continue
		}

		for _, ev := range events {
			if ev.Timestamp.After(after) {
				after = ev.Timestamp
			}
			ev := ev
			switch ev.Kind {
			case InvoiceEventAccepted:
				e.post(func() { e.handleInvoiceAccepted(ev.InvoiceID) })
			case InvoiceEventSettled:
				e.post(func() { e.handleInvoiceSettledByID(ev.InvoiceID) })
			default:
				log.Warnf("Unknown invoice event kind %d for invoice [%s], ignoring.", ev.Kind, ev.InvoiceID)
			}
		}
	}
}

// handleInvoiceSettledByID fetches the settled invoice by id so the amount
// booked to earnings is what the payment interface actually recorded, not
// whatever the local ledger happens to compute, then delegates to
// handleInvoiceSettled. Must only run on the owning goroutine.
func (e *Engine) handleInvoiceSettledByID(invoiceID string) {
	tracked := false
	for _, ta := range e.agreements {
		if ta.invoiceID == invoiceID {
			tracked = true
			break
		}
	}
	if !tracked {
		log.Warnf("InvoiceSettled for unknown invoice [%s], ignoring.", invoiceID)
		return
	}

	ctxSnapshot := e.ctx
	go func() {
		inv, err := ctxSnapshot.paymentAPI.GetInvoice(context.Background(), invoiceID)
		if err != nil {
			log.Errorf("GetInvoice(%s) failed: %v", invoiceID, err)
			return
		}
		e.post(func() { e.handleInvoiceSettled(invoiceID, inv.Amount) })
	}()
}

// debitNoteEventPoller mirrors invoiceEventPoller for debit note events. Only
// DebitNoteEventAccepted is acted on: it stops the deadline tracker's watch
// for that debit note, so a late DeadlineElapsed never fires after
// acceptance (scenario S5).
func (e *Engine) debitNoteEventPoller() {
	defer e.wg.Done()

	after := time.Now()
	for {
		select {
		case <-e.quit:
			return
		default:
		}

		events, err := e.ctx.paymentAPI.GetDebitNoteEvents(context.Background(), after, e.ctx.config.GetEventsTimeout, e.ctx.config.SessionID)
		if err != nil {
			log.Errorf("GetDebitNoteEvents failed: %v Retry in %s.", err, e.ctx.config.GetEventsErrorTimeout)
			select {
			case <-time.After(e.ctx.config.GetEventsErrorTimeout):
			case <-e.quit:
				return
			}
			continue
		}

		for _, ev := range events {
			if ev.Timestamp.After(after) {
				after = ev.Timestamp
			}
			ev := ev
			switch ev.Kind {
			case DebitNoteEventAccepted:
				id := ev.DebitNoteID
				e.post(func() { e.ctx.deadlines.StopTracking(id) })
			default:
				log.Warnf("Unknown debit note event kind %d for debit note [%s], ignoring.", ev.Kind, ev.DebitNoteID)
			}
		}
	}
}
