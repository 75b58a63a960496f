// Package store implements the Offer/Demand Store: a keyed DAO over
// subscription records, each carrying a tombstone state once retired so the
// matcher can distinguish "never seen" from "seen and already handled" and
// stop gossip from looping forever. See SPEC_FULL.md §4.5.
package store

import (
	"time"

	"github.com/go-errors/errors"
)

// SubscriptionId is a verifiable hash over a subscription's contents.
type SubscriptionId string

// Kind distinguishes Offers from Demands; both sides of the store share the
// same record shape and state machine.
type Kind int

const (
	KindOffer Kind = iota
	KindDemand
)

// Status is the state a subscription is found in. NotFound is never
// persisted: it is the value GetOfferState/GetDemandState return when no
// record (active or tombstone) exists for the id.
type Status int

const (
	StatusNotFound Status = iota
	StatusActive
	StatusUnsubscribed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusUnsubscribed:
		return "Unsubscribed"
	case StatusExpired:
		return "Expired"
	default:
		return "NotFound"
	}
}

// Record is a stored subscription: the full Active payload, or a tombstone
// retaining only enough identity to answer future lookups.
type Record struct {
	ID          SubscriptionId
	Kind        Kind
	Status      Status
	AuthorID    string // set for Offers; empty for Demands
	Properties  map[string]string
	Constraints string
	ExpiresAt   time.Time
}

// nowFunc is overridable in tests that need deterministic expiry.
var nowFunc = time.Now

// Distinguished errors driving the matcher's stop-reason mapping (§4.6).
var (
	ErrAlreadyExists       = errors.New("subscription already exists")
	ErrAlreadyUnsubscribed = errors.New("subscription already unsubscribed")
	ErrExpired             = errors.New("subscription expired")
	ErrNotFound            = errors.New("subscription not found")
)

// Store is the DAO contract. Implementations must be safe for concurrent
// use: the matcher has no mailbox of its own, so its local
// subscribe/unsubscribe calls, inbound gossip handlers and background expiry
// sweep all call into the store directly and may run at the same time.
type Store interface {
	CreateOffer(r Record) error
	GetOfferState(id SubscriptionId) (Record, Status)
	MarkOfferAsUnsubscribed(id SubscriptionId) error
	RemoveOffer(id SubscriptionId) error

	// ListActiveOffers returns up to limit currently Active offers, for
	// RetrieveOffers catch-up responses. limit <= 0 means unbounded.
	ListActiveOffers(limit int) []Record

	// SweepExpired eagerly transitions every Active-but-past-TTL offer or
	// demand to Expired and returns how many it swept.
	SweepExpired() int

	CreateDemand(r Record) error
	GetDemandState(id SubscriptionId) (Record, Status)
	MarkDemandAsUnsubscribed(id SubscriptionId) error
	RemoveDemand(id SubscriptionId) error
}
