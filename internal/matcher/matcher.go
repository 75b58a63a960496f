// Package matcher implements the Matcher / Offer Propagation Engine: local
// subscribe/unsubscribe for the agent's own Offers, plus the gossip
// stop-condition logic that keeps inbound OfferReceived/OfferUnsubscribed
// events from re-broadcasting forever. See SPEC_FULL.md §4.6.
package matcher

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-errors/errors"
	"github.com/golem-market/provideragent/internal/store"
	"github.com/golem-market/provideragent/metrics"
	"github.com/golem-market/provideragent/queue"
	"github.com/golem-market/provideragent/ticker"
)

// StopReason explains why an inbound offer event will not be re-broadcast.
type StopReason int

const (
	StopReasonNone StopReason = iota
	StopReasonAlreadyExists
	StopReasonAlreadyUnsubscribed
	StopReasonExpired
	StopReasonError
)

func (r StopReason) String() string {
	switch r {
	case StopReasonAlreadyExists:
		return "AlreadyExists"
	case StopReasonAlreadyUnsubscribed:
		return "AlreadyUnsubscribed"
	case StopReasonExpired:
		return "Expired"
	case StopReasonError:
		return "Error"
	default:
		return "None"
	}
}

// Propagate is the verdict returned by the inbound handlers: whether this
// node should re-broadcast the event, and if not, why.
type Propagate struct {
	Allow  bool
	Reason StopReason
	Detail string // only meaningful when Reason == StopReasonError
}

func propagateOK() Propagate { return Propagate{Allow: true} }

func stop(reason StopReason) Propagate { return Propagate{Allow: false, Reason: reason} }

func stopErr(detail string) Propagate {
	return Propagate{Allow: false, Reason: StopReasonError, Detail: detail}
}

// Discovery is the injected gossip transport capability.
type Discovery interface {
	BroadcastOffer(offer store.Record) error
	BroadcastUnsubscribe(authorID string, id store.SubscriptionId) error
}

// Validator checks that an inbound offer's id is the correct hash over its
// content, defending against forged identifiers (§4.6).
type Validator interface {
	Validate(offer store.Record) error
}

// ErrValidationFailed is returned by SubscribeOffer when Validator rejects
// the record. OfferReceived reports a rejection as a StopReasonError verdict
// instead.
var ErrValidationFailed = errors.New("offer failed identity validation")

// Matcher owns local Offer/Demand state and the propagation decision logic.
// Unlike the Payments Engine, its mutable state lives entirely in the
// injected Store, which is already safe for concurrent use (§5), so Matcher
// itself carries no mailbox: each handler runs synchronously to completion.
type Matcher struct {
	store     store.Store
	discovery Discovery
	validator Validator
	metrics   *metrics.Metrics

	broadcastQueue *queue.ConcurrentQueue
	broadcastQuit  chan struct{}
	broadcastDone  chan struct{}

	sweepTicker ticker.Ticker
	sweepQuit   chan struct{}
	sweepWG     sync.WaitGroup
}

// broadcastOfferJob and broadcastUnsubscribeJob are the two work items
// carried by broadcastQueue, keeping a slow discovery transport from ever
// stalling the caller that enqueued the broadcast.
type broadcastOfferJob struct {
	offer store.Record
}

type broadcastUnsubscribeJob struct {
	authorID string
	id       store.SubscriptionId
}

// New constructs a Matcher over the given store, discovery capability, and
// identity validator. The outbound broadcast dispatcher is live immediately,
// so SubscribeOffer/UnsubscribeOffer/gossip re-broadcast never need to wait
// for Start.
func New(s store.Store, discovery Discovery, validator Validator) *Matcher {
	m := &Matcher{
		store:          s,
		discovery:      discovery,
		validator:      validator,
		broadcastQueue: queue.NewConcurrentQueue(64),
		broadcastQuit:  make(chan struct{}),
		broadcastDone:  make(chan struct{}),
	}
	m.broadcastQueue.Start()
	go m.broadcastLoop()
	return m
}

// SetMetrics attaches a metrics recorder. Optional; see payments.Engine's
// SetMetrics for the same nil-safe convention.
func (m *Matcher) SetMetrics(rec *metrics.Metrics) {
	m.metrics = rec
}

// Start launches the background offer/demand expiry sweep: a ticker that
// eagerly transitions Active-past-TTL records to Expired independent of
// lookup traffic, grounded on the teacher's discovery/syncer.go periodic
// staggerChanRangeQuery-style ticker. interval <= 0 disables the sweep.
func (m *Matcher) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.sweepTicker = ticker.New(interval)
	m.sweepTicker.Resume()
	m.sweepQuit = make(chan struct{})
	m.sweepWG.Add(1)
	go m.sweepLoop()
}

func (m *Matcher) sweepLoop() {
	defer m.sweepWG.Done()
	for {
		select {
		case <-m.sweepTicker.Ticks():
			if n := m.store.SweepExpired(); n > 0 {
				log.Debugf("Swept %d expired subscription(s).", n)
			}
		case <-m.sweepQuit:
			return
		}
	}
}

// broadcastLoop drains broadcastQueue and performs the actual Discovery
// calls, decoupling SubscribeOffer/UnsubscribeOffer/gossip re-broadcast
// callers from however long the transport takes.
func (m *Matcher) broadcastLoop() {
	defer close(m.broadcastDone)
	for {
		select {
		case job := <-m.broadcastQueue.ChanOut():
			switch j := job.(type) {
			case broadcastOfferJob:
				if err := m.discovery.BroadcastOffer(j.offer); err != nil {
					log.Warnf("Failed to broadcast offer [%s]: %v", j.offer.ID, err)
				}
			case broadcastUnsubscribeJob:
				if err := m.discovery.BroadcastUnsubscribe(j.authorID, j.id); err != nil {
					log.Warnf("Failed to broadcast unsubscribe for offer [%s]: %v", j.id, err)
				}
			}
		case <-m.broadcastQuit:
			return
		}
	}
}

// EnqueueBroadcastOffer schedules an offer for outbound gossip broadcast
// without blocking the caller on the discovery transport.
func (m *Matcher) EnqueueBroadcastOffer(offer store.Record) {
	m.broadcastQueue.ChanIn() <- broadcastOfferJob{offer: offer}
}

// EnqueueBroadcastUnsubscribe schedules an unsubscribe for outbound gossip
// broadcast without blocking the caller on the discovery transport.
func (m *Matcher) EnqueueBroadcastUnsubscribe(authorID string, id store.SubscriptionId) {
	m.broadcastQueue.ChanIn() <- broadcastUnsubscribeJob{authorID: authorID, id: id}
}

// Stop halts the broadcast dispatcher and, if running, the background
// sweep started by Start. Safe to call even if Start was never called.
func (m *Matcher) Stop() {
	close(m.broadcastQuit)
	<-m.broadcastDone
	m.broadcastQueue.Stop()

	if m.sweepQuit == nil {
		return
	}
	m.sweepTicker.Stop()
	close(m.sweepQuit)
	m.sweepWG.Wait()
}

// SubscribeOffer validates and persists a locally authored offer, then
// enqueues it for broadcast. The local subscription is authoritative
// regardless of how (or how slowly) gossip delivery proceeds.
func (m *Matcher) SubscribeOffer(offer store.Record) error {
	if err := m.validator.Validate(offer); err != nil {
		return errors.Errorf("%w: %v", ErrValidationFailed, err)
	}

	if err := m.store.CreateOffer(offer); err != nil {
		return err
	}

	m.EnqueueBroadcastOffer(offer)
	return nil
}

// UnsubscribeOffer marks a locally authored offer as unsubscribed (the
// tombstone that prevents future re-ingestion) then enqueues the
// unsubscription for broadcast.
func (m *Matcher) UnsubscribeOffer(authorID string, id store.SubscriptionId) error {
	if err := m.store.MarkOfferAsUnsubscribed(id); err != nil {
		return err
	}

	m.EnqueueBroadcastUnsubscribe(authorID, id)
	return nil
}

// OfferReceived is the critical stop-condition handler (§4.6): local
// storage presence or tombstone state is the only stop predicate, so an
// already-expired offer is rejected on every gossip pass rather than
// re-ingested.
func (m *Matcher) OfferReceived(offer store.Record) Propagate {
	log.Tracef("Inbound offer: %s", spew.Sdump(offer))

	_, status := m.store.GetOfferState(offer.ID)
	m.recordReceived(status)

	switch status {
	case store.StatusActive:
		return m.recordStop(stop(StopReasonAlreadyExists))
	case store.StatusUnsubscribed:
		return m.recordStop(stop(StopReasonAlreadyUnsubscribed))
	case store.StatusExpired:
		return m.recordStop(stop(StopReasonExpired))
	}

	if err := m.validator.Validate(offer); err != nil {
		return m.recordStop(stopErr(err.Error()))
	}

	if err := m.store.CreateOffer(offer); err != nil {
		// Lost a race against a concurrent gossip delivery of the same
		// offer: map CreateOffer's distinguished errors to the same stop
		// reasons the state switch above uses.
		switch {
		case stderrors.Is(err, store.ErrAlreadyUnsubscribed):
			return m.recordStop(stop(StopReasonAlreadyUnsubscribed))
		case stderrors.Is(err, store.ErrExpired):
			return m.recordStop(stop(StopReasonExpired))
		case stderrors.Is(err, store.ErrAlreadyExists):
			return m.recordStop(stop(StopReasonAlreadyExists))
		default:
			return m.recordStop(stopErr(err.Error()))
		}
	}

	if m.metrics != nil {
		m.metrics.OffersPropagatedTotal.Inc()
	}
	return propagateOK()
}

func (m *Matcher) recordReceived(status store.Status) {
	if m.metrics != nil {
		m.metrics.OffersReceivedTotal.WithLabelValues(status.String()).Inc()
	}
}

func (m *Matcher) recordStop(p Propagate) Propagate {
	if m.metrics != nil {
		m.metrics.PropagationStoppedTotal.WithLabelValues(p.Reason.String()).Inc()
	}
	return p
}

// OfferUnsubscribed handles an inbound unsubscription for an offer owned by
// another node: the full record is removed (not retained as a local
// tombstone, since only locally-authored offers need tombstones here -- the
// remote node's own store already holds its tombstone) and the event is
// propagated onward.
func (m *Matcher) OfferUnsubscribed(id store.SubscriptionId) Propagate {
	err := m.store.MarkOfferAsUnsubscribed(id)
	switch {
	case err == nil:
		if rmErr := m.store.RemoveOffer(id); rmErr != nil {
			log.Errorf("Failed to remove unsubscribed offer [%s]: %v", id, rmErr)
		}
		return propagateOK()
	case stderrors.Is(err, store.ErrExpired):
		return m.recordStop(stop(StopReasonExpired))
	case stderrors.Is(err, store.ErrAlreadyUnsubscribed):
		return m.recordStop(stop(StopReasonAlreadyUnsubscribed))
	default:
		return m.recordStop(stopErr(err.Error()))
	}
}

// RetrieveOffers answers a peer's catch-up request with up to maxResults
// locally Active offers; maxResults <= 0 returns every Active offer. The
// retrieve_offers_max_batch configuration option is not applied here or by
// the caller. An empty response remains a valid degraded answer
// (§4.6): it only slows convergence, never breaks correctness.
func (m *Matcher) RetrieveOffers(maxResults int) []store.Record {
	return m.store.ListActiveOffers(maxResults)
}
