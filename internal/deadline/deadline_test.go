package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := New()
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr
}

// TestTrackThenStopYieldsNoEvent verifies that Track followed by StopTracking
// before the deadline fires delivers zero DeadlineElapsed events.
func TestTrackThenStopYieldsNoEvent(t *testing.T) {
	tr := newTestTracker(t)

	sink := make(chan Elapsed, 1)
	tr.Subscribe(sink)

	tr.Track("owner1", "item1", time.Now().Add(30*time.Millisecond))
	tr.StopTracking("item1")

	select {
	case ev := <-sink:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestTrackWithoutStopYieldsOneEvent verifies that omitting StopTracking
// yields exactly one DeadlineElapsed delivery.
func TestTrackWithoutStopYieldsOneEvent(t *testing.T) {
	tr := newTestTracker(t)

	sink := make(chan Elapsed, 1)
	tr.Subscribe(sink)

	deadline := time.Now().Add(20 * time.Millisecond)
	tr.Track("owner1", "item1", deadline)

	select {
	case ev := <-sink:
		require.Equal(t, "owner1", ev.OwnerID)
		require.Equal(t, "item1", ev.ItemID)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected DeadlineElapsed, got none")
	}

	select {
	case ev := <-sink:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestDeadlineElapsesThenAcceptanceArrives covers scenario S5: a deadline
// fires, then a later StopTracking for the same (already fired) item is a
// safe no-op.
func TestDeadlineElapsesThenAcceptanceArrives(t *testing.T) {
	tr := newTestTracker(t)

	sink := make(chan Elapsed, 1)
	tr.Subscribe(sink)

	tr.Track("owner1", "note1", time.Now().Add(10*time.Millisecond))

	select {
	case <-sink:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected DeadlineElapsed, got none")
	}

	// A later DebitNoteAccepted-triggered StopTracking must be a no-op:
	// no second event, no panic.
	tr.StopTracking("note1")

	select {
	case ev := <-sink:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestTieBreakInsertionOrder verifies that entries sharing a firing instant
// fire in the order they were tracked.
func TestTieBreakInsertionOrder(t *testing.T) {
	tr := newTestTracker(t)

	sink := make(chan Elapsed, 3)
	tr.Subscribe(sink)

	deadline := time.Now().Add(20 * time.Millisecond)
	tr.Track("owner", "first", deadline)
	tr.Track("owner", "second", deadline)
	tr.Track("owner", "third", deadline)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sink:
			got = append(got, ev.ItemID)
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	require.Equal(t, []string{"first", "second", "third"}, got)
}

// TestReplaceOnDuplicateTrack verifies that Track on an already-tracked
// itemID replaces the prior deadline rather than creating a second entry.
func TestReplaceOnDuplicateTrack(t *testing.T) {
	tr := newTestTracker(t)

	sink := make(chan Elapsed, 2)
	tr.Subscribe(sink)

	tr.Track("owner", "item", time.Now().Add(10*time.Millisecond))
	tr.Track("owner", "item", time.Now().Add(60*time.Millisecond))

	select {
	case <-sink:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected exactly one DeadlineElapsed")
	}

	select {
	case ev := <-sink:
		t.Fatalf("unexpected second event for replaced entry: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}
