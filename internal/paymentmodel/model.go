// Package paymentmodel defines the pluggable cost-computation capability the
// payments engine treats as opaque: given an activity's current usage
// counters, produce a CostInfo. Computation is assumed deterministic within a
// single call and is treated by the engine as fallible and retryable.
package paymentmodel

import (
	"context"

	"github.com/golem-market/provideragent/internal/ledger"
)

// UsageSource supplies the raw usage counters for an activity, fetched from
// wherever the activity's runtime reports them (out of scope; see
// rpcclient/activityapi for the concrete adapter).
type UsageSource interface {
	GetActivityUsage(ctx context.Context, activityID ledger.ActivityId) ([]float64, error)
}

// Model computes cost from usage counters. Implementations must be safe for
// concurrent use: the engine calls ComputeCost from background goroutines
// that only hold an immutable snapshot of the model.
type Model interface {
	// ComputeCost fetches current usage for activityID via usage and
	// returns the resulting CostInfo. Implementations are expected to
	// maintain the monotonicity invariant documented on ledger.CostInfo:
	// each successive call for the same activity must return a cost >=
	// the previous one.
	ComputeCost(ctx context.Context, usage UsageSource, activityID ledger.ActivityId) (ledger.CostInfo, error)
}

// Descriptor carries the parameters needed to build a Model for one
// agreement -- the payment-model name/params negotiated as part of the
// agreement. It is immutable once constructed and is the snapshot shared
// across the engine's background goroutines. Scheduling parameters
// (update interval, payment deadline) live on payments.AgreementDescriptor,
// not here: they govern the engine's own scheduling, not the model's cost
// computation.
type Descriptor struct {
	// Name identifies which Model implementation/parameters to build,
	// e.g. "linear".
	Name string

	// Params are the model-specific parameters, opaque to the engine.
	Params map[string]string
}

// Builder constructs a Model from a Descriptor. Supplied by whatever code
// wires up the payments engine; kept as an interface so the engine never
// needs to know about specific payment-model implementations.
type Builder interface {
	Build(d Descriptor) (Model, error)
}
