// Package ledger implements the per-agreement bookkeeping the payments engine
// relies on: the set of activities running under an agreement, their
// lifecycle phase, and the accumulated cost once they finalize. A Ledger is
// owned exclusively by the payments engine's single-consumer loop; nothing in
// this package takes its own lock because callers are expected to serialize
// access the same way invoices.InvoiceRegistry serializes access to its
// notification maps -- from one goroutine at a time.
package ledger

import (
	"fmt"

	"github.com/go-errors/errors"
	"github.com/shopspring/decimal"
)

// AgreementId identifies a negotiated agreement between provider and
// requestor.
type AgreementId string

// ActivityId identifies one executable unit running under an agreement.
type ActivityId string

// CostInfo carries the accrued cost and raw usage counters for an activity
// at a point in time. Cost is represented as a decimal rather than a float so
// that billing amounts never pick up binary floating point error.
type CostInfo struct {
	Cost  decimal.Decimal
	Usage []float64
}

// addUsage returns the component-wise sum of a and b. If the vectors differ
// in arity -- which should not happen for a single payment model -- the
// longer vector's trailing values are kept as-is.
func addUsage(a, b []float64) []float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < len(a) {
			out[i] += a[i]
		}
		if i < len(b) {
			out[i] += b[i]
		}
	}
	return out
}

// phase is the tagged lifecycle state of an ActivityPayment.
type phase int

const (
	phaseRunning phase = iota
	phaseDestroyed
	phaseFinalized
)

// activityPayment is the internal representation of one activity's billing
// state. Only cost is populated once phase reaches phaseFinalized.
type activityPayment struct {
	phase phase
	cost  CostInfo
}

var (
	// ErrDuplicateActivity is returned by AddCreatedActivity when the
	// activity is already tracked.
	ErrDuplicateActivity = errors.New("activity already tracked")

	// ErrActivityNotFound is returned when an operation references an
	// activity id the ledger has never seen.
	ErrActivityNotFound = errors.New("activity not found")

	// ErrNotRunning is returned by ActivityDestroyed when the activity is
	// not currently in the Running phase.
	ErrNotRunning = errors.New("activity is not running")

	// ErrNotDestroyed is returned by FinishActivity when the activity is
	// not currently in the Destroyed phase.
	ErrNotDestroyed = errors.New("activity is not destroyed")
)

// Ledger tracks the activities of a single agreement and their billing
// lifecycle. The zero value is not usable; construct with New.
type Ledger struct {
	AgreementID AgreementId

	activities map[ActivityId]*activityPayment

	// watchClosed is closed exactly once, the moment every activity
	// present in the ledger has reached phaseFinalized. ActivitiesWatch
	// returns this channel. It is re-armed (replaced with a fresh,
	// unclosed channel) whenever a new non-finalized activity is added
	// after a prior resolution.
	watchClosed chan struct{}
	resolved    bool
}

// New constructs an empty ledger for the given agreement.
func New(id AgreementId) *Ledger {
	l := &Ledger{
		AgreementID: id,
		activities:  make(map[ActivityId]*activityPayment),
	}
	l.watchClosed = make(chan struct{})
	l.resolved = true
	close(l.watchClosed)
	return l
}

// AddCreatedActivity inserts a new Running activity. It fails if the
// activity id is already tracked, matching the ledger's at-most-one-entry
// invariant.
func (l *Ledger) AddCreatedActivity(id ActivityId) error {
	if _, ok := l.activities[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateActivity, id)
	}
	l.activities[id] = &activityPayment{phase: phaseRunning}
	l.reopenWatch()
	return nil
}

// ActivityDestroyed transitions an activity from Running to Destroyed. It
// fails if the activity is unknown or not currently Running.
func (l *Ledger) ActivityDestroyed(id ActivityId) error {
	a, ok := l.activities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActivityNotFound, id)
	}
	if a.phase != phaseRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	a.phase = phaseDestroyed
	return nil
}

// FinishActivity transitions an activity from Destroyed to Finalized,
// recording its terminal cost. It fails if the activity is unknown or not
// currently Destroyed.
func (l *Ledger) FinishActivity(id ActivityId, cost CostInfo) error {
	a, ok := l.activities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActivityNotFound, id)
	}
	if a.phase != phaseDestroyed {
		return fmt.Errorf("%w: %s", ErrNotDestroyed, id)
	}
	a.phase = phaseFinalized
	a.cost = cost
	l.checkResolved()
	return nil
}

// IsRunning reports whether id is currently tracked and in the Running
// phase. UpdateCost chains use this to decide whether to keep ticking.
func (l *Ledger) IsRunning(id ActivityId) bool {
	a, ok := l.activities[id]
	return ok && a.phase == phaseRunning
}

// CostSummary sums the cost and concatenation (component-wise sum) of usage
// vectors across all Finalized activities. Callers must only trust this
// value once ActivitiesWatch has resolved; see the package doc.
func (l *Ledger) CostSummary() CostInfo {
	total := CostInfo{Cost: decimal.Zero}
	for _, a := range l.activities {
		if a.phase != phaseFinalized {
			continue
		}
		total.Cost = total.Cost.Add(a.cost.Cost)
		total.Usage = addUsage(total.Usage, a.cost.Usage)
	}
	return total
}

// ListActivities returns the ids of all Finalized activities, the set that
// belongs on the invoice.
func (l *Ledger) ListActivities() []ActivityId {
	ids := make([]ActivityId, 0, len(l.activities))
	for id, a := range l.activities {
		if a.phase == phaseFinalized {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActivitiesWatch returns a channel that is closed once every activity
// present in the ledger is Finalized. If the ledger is currently empty or
// already fully finalized, the returned channel is already closed.
func (l *Ledger) ActivitiesWatch() <-chan struct{} {
	return l.watchClosed
}

// reopenWatch re-arms the watch channel whenever a not-yet-finalized
// activity enters the ledger.
func (l *Ledger) reopenWatch() {
	if l.resolved {
		l.watchClosed = make(chan struct{})
		l.resolved = false
	}
}

// checkResolved closes the watch channel once every tracked activity has
// reached phaseFinalized.
func (l *Ledger) checkResolved() {
	if l.resolved {
		return
	}
	for _, a := range l.activities {
		if a.phase != phaseFinalized {
			return
		}
	}
	l.resolved = true
	close(l.watchClosed)
}
