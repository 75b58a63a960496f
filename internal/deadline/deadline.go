// Package deadline implements the Deadline Tracker: a single-consumer event
// loop that tracks per-item firing deadlines and delivers a DeadlineElapsed
// event to subscribers if an item is not cancelled (StopTracking) before its
// deadline arrives. It is shared by the payments engine (as a Track/Stop
// producer for debit-note payment deadlines) and the event pollers (as a
// StopTracking producer once a debit note is accepted).
package deadline

import (
	"sync"
	"time"
)

// Elapsed is delivered to subscribers when a tracked item's deadline passes
// without a matching StopTracking call.
type Elapsed struct {
	OwnerID  string
	ItemID   string
	Deadline time.Time
}

type entry struct {
	ownerID  string
	itemID   string
	deadline time.Time
	seq      uint64 // insertion order, used to break same-instant ties
}

type trackMsg struct {
	ownerID  string
	itemID   string
	deadline time.Time
}

type stopMsg struct {
	itemID string
}

type subscribeMsg struct {
	sink chan<- Elapsed
}

// Tracker is the Deadline Tracker. Construct with New and call Start before
// use; call Stop to shut down the owning goroutine.
type Tracker struct {
	track     chan trackMsg
	stop      chan stopMsg
	subscribe chan subscribeMsg
	quit      chan struct{}
	wg        sync.WaitGroup

	// newTimer constructs the timer used to wake the loop; New sets it to
	// time.NewTimer.
	newTimer func(d time.Duration) *time.Timer
}

// New constructs a Tracker. The loop is not yet running; call Start.
func New() *Tracker {
	return &Tracker{
		track:     make(chan trackMsg),
		stop:      make(chan stopMsg),
		subscribe: make(chan subscribeMsg),
		quit:      make(chan struct{}),
		newTimer:  time.NewTimer,
	}
}

// Start launches the tracker's owning goroutine.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.loop()
}

// Stop signals the owning goroutine to exit and waits for it to finish.
func (t *Tracker) Stop() {
	close(t.quit)
	t.wg.Wait()
}

// Track inserts or replaces the entry keyed by itemID with the given
// deadline. Blocks until the owning loop has accepted the message.
func (t *Tracker) Track(ownerID, itemID string, deadline time.Time) {
	select {
	case t.track <- trackMsg{ownerID: ownerID, itemID: itemID, deadline: deadline}:
	case <-t.quit:
	}
}

// StopTracking removes the entry keyed by itemID, if present. It is a no-op
// if the entry has already fired or was never tracked -- including the race
// where the deadline fires concurrently with this call; whichever message
// reaches the loop first determines the outcome, guaranteeing at-most-once
// delivery.
func (t *Tracker) StopTracking(itemID string) {
	select {
	case t.stop <- stopMsg{itemID: itemID}:
	case <-t.quit:
	}
}

// Subscribe registers sink to receive DeadlineElapsed events. sink should be
// buffered or drained promptly; the tracker's loop sends to it directly and
// a stalled subscriber stalls the whole tracker.
func (t *Tracker) Subscribe(sink chan<- Elapsed) {
	select {
	case t.subscribe <- subscribeMsg{sink: sink}:
	case <-t.quit:
	}
}

func (t *Tracker) loop() {
	defer t.wg.Done()

	entries := make(map[string]*entry)
	var order []string // itemIDs in insertion order, for tie-breaking
	var seq uint64
	var subscribers []chan<- Elapsed

	timer := t.newTimer(time.Hour)
	timer.Stop()
	armed := false

	rearm := func() {
		if armed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			armed = false
		}
		if len(entries) == 0 {
			return
		}
		var next *entry
		for _, id := range order {
			e, ok := entries[id]
			if !ok {
				continue
			}
			if next == nil || e.deadline.Before(next.deadline) ||
				(e.deadline.Equal(next.deadline) && e.seq < next.seq) {
				next = e
			}
		}
		if next == nil {
			return
		}
		d := time.Until(next.deadline)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
		armed = true
	}

	compactOrder := func() {
		if len(order) <= len(entries)*2+4 {
			return
		}
		fresh := make([]string, 0, len(entries))
		for _, id := range order {
			if _, ok := entries[id]; ok {
				fresh = append(fresh, id)
			}
		}
		order = fresh
	}

	fire := func() {
		// Find every entry whose deadline has passed, in insertion
		// order, and deliver+remove them one at a time so ties break
		// by insertion order.
		for {
			var earliest *entry
			for _, id := range order {
				e, ok := entries[id]
				if !ok {
					continue
				}
				if e.deadline.After(time.Now()) {
					continue
				}
				if earliest == nil || e.seq < earliest.seq {
					earliest = e
				}
			}
			if earliest == nil {
				return
			}
			delete(entries, earliest.itemID)
			ev := Elapsed{
				OwnerID:  earliest.ownerID,
				ItemID:   earliest.itemID,
				Deadline: earliest.deadline,
			}
			for _, sink := range subscribers {
				select {
				case sink <- ev:
				case <-t.quit:
					return
				}
			}
		}
	}

	for {
		select {
		case msg := <-t.track:
			entries[msg.itemID] = &entry{
				ownerID:  msg.ownerID,
				itemID:   msg.itemID,
				deadline: msg.deadline,
				seq:      seq,
			}
			seq++
			order = append(order, msg.itemID)
			compactOrder()
			rearm()

		case msg := <-t.stop:
			delete(entries, msg.itemID)
			rearm()

		case msg := <-t.subscribe:
			subscribers = append(subscribers, msg.sink)

		case <-timer.C:
			armed = false
			fire()
			rearm()

		case <-t.quit:
			return
		}
	}
}
