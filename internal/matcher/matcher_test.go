package matcher

import (
	"testing"
	"time"

	"github.com/golem-market/provideragent/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeDiscovery struct {
	broadcastOfferCalls       int
	broadcastUnsubscribeCalls int
	failBroadcast             bool
}

func (d *fakeDiscovery) BroadcastOffer(offer store.Record) error {
	d.broadcastOfferCalls++
	if d.failBroadcast {
		return errTest
	}
	return nil
}

func (d *fakeDiscovery) BroadcastUnsubscribe(authorID string, id store.SubscriptionId) error {
	d.broadcastUnsubscribeCalls++
	if d.failBroadcast {
		return errTest
	}
	return nil
}

type allowAllValidator struct{}

func (allowAllValidator) Validate(offer store.Record) error { return nil }

type rejectingValidator struct{}

func (rejectingValidator) Validate(offer store.Record) error { return errTest }

type testErr struct{}

func (testErr) Error() string { return "test error" }

var errTest = testErr{}

func TestSubscribeOfferBroadcastFailureIsSwallowed(t *testing.T) {
	s := store.NewMemStore()
	d := &fakeDiscovery{failBroadcast: true}
	m := New(s, d, allowAllValidator{})

	err := m.SubscribeOffer(store.Record{ID: "o1"})
	require.NoError(t, err)
	// The broadcast runs on the matcher's background dispatcher, so wait for it.
	require.Eventually(t, func() bool { return d.broadcastOfferCalls == 1 }, time.Second, 5*time.Millisecond)

	_, status := s.GetOfferState("o1")
	require.Equal(t, store.StatusActive, status)
}

func TestSubscribeOfferValidationFailure(t *testing.T) {
	s := store.NewMemStore()
	d := &fakeDiscovery{}
	m := New(s, d, rejectingValidator{})

	err := m.SubscribeOffer(store.Record{ID: "o1"})
	require.Error(t, err)
	require.Equal(t, 0, d.broadcastOfferCalls)

	_, status := s.GetOfferState("o1")
	require.Equal(t, store.StatusNotFound, status)
}

// TestOfferReceivedDecisionTable exercises the NotFound, Active and
// Unsubscribed rows of the stop-condition table from SPEC_FULL.md §4.6.
func TestOfferReceivedDecisionTable(t *testing.T) {
	s := store.NewMemStore()
	d := &fakeDiscovery{}
	m := New(s, d, allowAllValidator{})

	// NotFound -> propagate.
	p := m.OfferReceived(store.Record{ID: "fresh"})
	require.True(t, p.Allow)

	// Active -> AlreadyExists.
	p = m.OfferReceived(store.Record{ID: "fresh"})
	require.False(t, p.Allow)
	require.Equal(t, StopReasonAlreadyExists, p.Reason)

	// Unsubscribed -> AlreadyUnsubscribed.
	require.NoError(t, s.MarkOfferAsUnsubscribed("fresh"))
	p = m.OfferReceived(store.Record{ID: "fresh"})
	require.False(t, p.Allow)
	require.Equal(t, StopReasonAlreadyUnsubscribed, p.Reason)
}

func TestOfferReceivedValidationFailureNotStored(t *testing.T) {
	s := store.NewMemStore()
	d := &fakeDiscovery{}
	m := New(s, d, rejectingValidator{})

	p := m.OfferReceived(store.Record{ID: "forged"})
	require.False(t, p.Allow)
	require.Equal(t, StopReasonError, p.Reason)

	_, status := s.GetOfferState("forged")
	require.Equal(t, store.StatusNotFound, status)
}

func TestOfferUnsubscribedRemovesRecordAndPropagates(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.CreateOffer(store.Record{ID: "o1"}))
	d := &fakeDiscovery{}
	m := New(s, d, allowAllValidator{})

	p := m.OfferUnsubscribed("o1")
	require.True(t, p.Allow)

	_, status := s.GetOfferState("o1")
	require.Equal(t, store.StatusNotFound, status)
}

func TestRetrieveOffersReturnsActiveOnly(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.CreateOffer(store.Record{ID: "o1"}))
	require.NoError(t, s.CreateOffer(store.Record{ID: "o2"}))
	require.NoError(t, s.MarkOfferAsUnsubscribed("o2"))
	m := New(s, &fakeDiscovery{}, allowAllValidator{})

	offers := m.RetrieveOffers(10)
	require.Len(t, offers, 1)
	require.Equal(t, store.SubscriptionId("o1"), offers[0].ID)
}

func TestOfferUnsubscribedAlreadyUnsubscribedStops(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.CreateOffer(store.Record{ID: "o1"}))
	require.NoError(t, s.MarkOfferAsUnsubscribed("o1"))
	d := &fakeDiscovery{}
	m := New(s, d, allowAllValidator{})

	p := m.OfferUnsubscribed("o1")
	require.False(t, p.Allow)
	require.Equal(t, StopReasonAlreadyUnsubscribed, p.Reason)
}
