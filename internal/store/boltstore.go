package store

import (
	"encoding/json"
	"fmt"

	"github.com/coreos/bbolt"
)

var (
	// offerBucket holds every Offer record keyed by its SubscriptionId,
	// active records and tombstones alike.
	offerBucket = []byte("offer-bucket")

	// demandBucket is offerBucket's counterpart for Demands.
	demandBucket = []byte("demand-bucket")
)

// BoltStore is a Store backed by a bbolt database, for deployments that need
// the subscription set (in particular unsubscribe tombstones, which are the
// broadcast-storm stop predicate) to survive a process restart.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path and
// ensures both top-level buckets exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(offerBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(demandBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt database handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateOffer(r Record) error {
	return s.create(offerBucket, r)
}

func (s *BoltStore) GetOfferState(id SubscriptionId) (Record, Status) {
	return s.get(offerBucket, id)
}

func (s *BoltStore) MarkOfferAsUnsubscribed(id SubscriptionId) error {
	return s.markUnsubscribed(offerBucket, id)
}

func (s *BoltStore) RemoveOffer(id SubscriptionId) error {
	return s.remove(offerBucket, id)
}

func (s *BoltStore) ListActiveOffers(limit int) []Record {
	return s.listActive(offerBucket, limit)
}

func (s *BoltStore) SweepExpired() int {
	return s.sweepExpired(offerBucket) + s.sweepExpired(demandBucket)
}

func (s *BoltStore) CreateDemand(r Record) error {
	return s.create(demandBucket, r)
}

func (s *BoltStore) GetDemandState(id SubscriptionId) (Record, Status) {
	return s.get(demandBucket, id)
}

func (s *BoltStore) MarkDemandAsUnsubscribed(id SubscriptionId) error {
	return s.markUnsubscribed(demandBucket, id)
}

func (s *BoltStore) RemoveDemand(id SubscriptionId) error {
	return s.remove(demandBucket, id)
}

func (s *BoltStore) create(bucket []byte, r Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		key := []byte(r.ID)
		if existing := b.Get(key); existing != nil {
			var prev Record
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			switch statusOf(prev) {
			case StatusUnsubscribed:
				return ErrAlreadyUnsubscribed
			case StatusExpired:
				return ErrExpired
			default:
				return ErrAlreadyExists
			}
		}

		r.Status = StatusActive
		buf, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(key, buf)
	})
}

func (s *BoltStore) get(bucket []byte, id SubscriptionId) (Record, Status) {
	var r Record
	var status Status

	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			status = StatusNotFound
			return nil
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			log.Errorf("corrupt record for subscription [%s]: %v", id, err)
			status = StatusNotFound
			return nil
		}

		status = statusOf(r)
		if status == StatusExpired && r.Status != StatusExpired {
			r.Status = StatusExpired
			if buf, err := json.Marshal(r); err == nil {
				return b.Put([]byte(id), buf)
			}
		}
		return nil
	})

	return r, status
}

func (s *BoltStore) markUnsubscribed(bucket []byte, id SubscriptionId) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}

		switch statusOf(r) {
		case StatusUnsubscribed:
			return ErrAlreadyUnsubscribed
		case StatusExpired:
			return ErrExpired
		}

		r.Status = StatusUnsubscribed
		buf, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), buf)
	})
}

func (s *BoltStore) remove(bucket []byte, id SubscriptionId) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

func (s *BoltStore) listActive(bucket []byte, limit int) []Record {
	var out []Record
	_ = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var r Record
			if err := json.Unmarshal(raw, &r); err != nil {
				continue
			}
			if statusOf(r) != StatusActive {
				continue
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out
}

func (s *BoltStore) sweepExpired(bucket []byte) int {
	swept := 0
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		c := b.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var r Record
			if err := json.Unmarshal(raw, &r); err != nil {
				continue
			}
			if r.Status != StatusActive || r.ExpiresAt.IsZero() || r.ExpiresAt.After(nowFunc()) {
				continue
			}
			r.Status = StatusExpired
			buf, err := json.Marshal(r)
			if err != nil {
				continue
			}
			if err := b.Put(k, buf); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	return swept
}

// statusOf recomputes Expired from ExpiresAt, mirroring MemStore's
// lazily-evaluated expiry so both implementations agree on when a record
// crosses from Active to Expired without a background sweep.
func statusOf(r Record) Status {
	if r.Status == StatusActive && !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(nowFunc()) {
		return StatusExpired
	}
	return r.Status
}
