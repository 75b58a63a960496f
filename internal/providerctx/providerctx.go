// Package providerctx wires the agent's long-lived components -- the
// Deadline Tracker, the Offer/Demand Store, the Matcher, and the Payments
// Engine -- into the single shared handle described in SPEC_FULL.md §9.
package providerctx

import (
	"time"

	"github.com/golem-market/provideragent/internal/deadline"
	"github.com/golem-market/provideragent/internal/matcher"
	"github.com/golem-market/provideragent/internal/payments"
	"github.com/golem-market/provideragent/internal/paymentmodel"
	"github.com/golem-market/provideragent/internal/store"
	"github.com/golem-market/provideragent/metrics"
)

// Ctx bundles every long-lived component the agent's RPC-facing handlers
// dispatch into. It is immutable after construction; background tasks and
// handlers alike reference it, never copy its fields out to their own
// long-lived state.
type Ctx struct {
	Store     store.Store
	Deadlines *deadline.Tracker
	Matcher   *matcher.Matcher
	Payments  *payments.Engine

	done chan struct{}
}

// Deps collects the externally-provided capabilities Ctx needs to wire the
// core components together: the consumed Activity/Payment/Discovery APIs
// and an offer-identity validator.
type Deps struct {
	ActivityAPI  payments.ActivityAPI
	PaymentAPI   payments.PaymentAPI
	Discovery    matcher.Discovery
	Validator    matcher.Validator
	Store              store.Store
	ModelBuilder       paymentmodel.Builder
	Config             payments.Config
	Metrics            *metrics.Metrics
	OfferSweepInterval time.Duration
}

// New constructs a Ctx, starting the Deadline Tracker and Payments Engine
// goroutines. Callers must call Stop on shutdown.
func New(d Deps) *Ctx {
	tracker := deadline.New()
	tracker.Start()

	engine := payments.New(d.ActivityAPI, d.PaymentAPI, tracker, d.Config, d.ModelBuilder)
	if d.Metrics != nil {
		engine.SetMetrics(d.Metrics)
	}
	engine.Start()

	sink := make(chan deadline.Elapsed, 64)
	tracker.Subscribe(sink)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev := <-sink:
				engine.HandleDeadlineElapsed(ev.OwnerID, ev.ItemID, ev.Deadline)
			case <-done:
				return
			}
		}
	}()

	m := matcher.New(d.Store, d.Discovery, d.Validator)
	if d.Metrics != nil {
		m.SetMetrics(d.Metrics)
	}
	m.Start(d.OfferSweepInterval)

	return &Ctx{
		Store:     d.Store,
		Deadlines: tracker,
		Matcher:   m,
		Payments:  engine,
		done:      done,
	}
}

// Stop tears down the owned background components. The injected Store,
// ActivityAPI, PaymentAPI, and Discovery capabilities are not owned by Ctx
// and are left for the caller to close.
func (c *Ctx) Stop() {
	close(c.done)
	c.Payments.Stop()
	c.Deadlines.Stop()
	c.Matcher.Stop()
}
