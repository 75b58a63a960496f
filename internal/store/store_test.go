package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateThenGetIsActive(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.CreateOffer(Record{ID: "o1"}))

	_, status := s.GetOfferState("o1")
	require.Equal(t, StatusActive, status)
}

// TestGossipStormPrevention covers scenario S3: the same offer delivered
// repeatedly must be stored exactly once.
func TestGossipStormPrevention(t *testing.T) {
	s := NewMemStore()

	require.NoError(t, s.CreateOffer(Record{ID: "o1"}))
	for i := 0; i < 4; i++ {
		err := s.CreateOffer(Record{ID: "o1"})
		require.ErrorIs(t, err, ErrAlreadyExists)
	}
}

// TestUnsubscribeRacesGossip covers scenario S4 at the store level:
// subscribe, unsubscribe, then a late re-create of the same id (what an
// OfferReceived ingestion would attempt) must be rejected with
// ErrAlreadyUnsubscribed rather than re-accepted.
func TestUnsubscribeRacesGossip(t *testing.T) {
	s := NewMemStore()

	require.NoError(t, s.CreateOffer(Record{ID: "o1"}))
	require.NoError(t, s.MarkOfferAsUnsubscribed("o1"))

	err := s.CreateOffer(Record{ID: "o1"})
	require.ErrorIs(t, err, ErrAlreadyUnsubscribed)

	_, status := s.GetOfferState("o1")
	require.Equal(t, StatusUnsubscribed, status)
}

func TestMarkUnsubscribedTwiceFails(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.CreateOffer(Record{ID: "o1"}))
	require.NoError(t, s.MarkOfferAsUnsubscribed("o1"))

	err := s.MarkOfferAsUnsubscribed("o1")
	require.ErrorIs(t, err, ErrAlreadyUnsubscribed)
}

func TestExpiredOfferRejectsReCreate(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.CreateOffer(Record{ID: "o1", ExpiresAt: time.Now().Add(-time.Second)}))

	_, status := s.GetOfferState("o1")
	require.Equal(t, StatusExpired, status)

	err := s.CreateOffer(Record{ID: "o1"})
	require.ErrorIs(t, err, ErrExpired)
}

func TestRemoveOfferThenGetIsNotFound(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.CreateOffer(Record{ID: "o1"}))
	require.NoError(t, s.RemoveOffer("o1"))

	_, status := s.GetOfferState("o1")
	require.Equal(t, StatusNotFound, status)
}

func TestOfferAndDemandNamespacesAreIndependent(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.CreateOffer(Record{ID: "shared-id"}))
	require.NoError(t, s.CreateDemand(Record{ID: "shared-id"}))

	_, offerStatus := s.GetOfferState("shared-id")
	_, demandStatus := s.GetDemandState("shared-id")
	require.Equal(t, StatusActive, offerStatus)
	require.Equal(t, StatusActive, demandStatus)
}
