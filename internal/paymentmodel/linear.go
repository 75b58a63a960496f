package paymentmodel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-errors/errors"
	"github.com/golem-market/provideragent/internal/ledger"
	"github.com/shopspring/decimal"
)

// LinearModel computes cost as a fixed price-per-unit dot product against the
// usage vector, plus a flat fee. This mirrors the linear-coefficients style
// of cost accumulation used throughout the corpus's usage-metering code
// (e.g. mdm.Cost's per-resource accumulation), generalized from fixed
// uint64 resource counters to an arbitrary-length usage vector priced by a
// coefficient vector.
type LinearModel struct {
	// CoeffsPerUsage is the price charged per unit of usage[i].
	CoeffsPerUsage []decimal.Decimal

	// FixedFee is charged regardless of usage, from the first cost update
	// onward.
	FixedFee decimal.Decimal
}

// ComputeCost implements Model.
func (m *LinearModel) ComputeCost(ctx context.Context, usage UsageSource, activityID ledger.ActivityId) (ledger.CostInfo, error) {
	counters, err := usage.GetActivityUsage(ctx, activityID)
	if err != nil {
		return ledger.CostInfo{}, fmt.Errorf("get activity usage: %w", err)
	}

	total := m.FixedFee
	for i, u := range counters {
		if i >= len(m.CoeffsPerUsage) {
			break
		}
		total = total.Add(m.CoeffsPerUsage[i].Mul(decimal.NewFromFloat(u)))
	}

	return ledger.CostInfo{
		Cost:  total,
		Usage: counters,
	}, nil
}

// LinearBuilder builds LinearModel instances from a Descriptor whose Params
// carry "coeff.<i>" and "fixed_fee" string-encoded decimal entries. It is the
// default Builder wired into the daemon; other payment models are expected
// to be supplied externally, per the pluggable-capability contract in §4.2.
type LinearBuilder struct{}

// Build implements Builder.
func (LinearBuilder) Build(d Descriptor) (Model, error) {
	fixedFee := decimal.Zero
	if raw, ok := d.Params["fixed_fee"]; ok {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Errorf("parse fixed_fee: %v", err)
		}
		fixedFee = parsed
	}

	var coeffs []decimal.Decimal
	for i := 0; ; i++ {
		raw, ok := d.Params["coeff."+strconv.Itoa(i)]
		if !ok {
			break
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Errorf("parse coeff.%d: %v", i, err)
		}
		coeffs = append(coeffs, parsed)
	}

	return &LinearModel{
		CoeffsPerUsage: coeffs,
		FixedFee:       fixedFee,
	}, nil
}
