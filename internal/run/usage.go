package run

import (
	"sync"

	"github.com/nvidra/photoflow/pkg/schema"
)

// ThresholdFunc is invoked at most once, when cumulative cost first exceeds
// the configured limit. Advisory only; it never halts processing.
type ThresholdFunc func(costUSD, limitUSD float64)

// UsageAggregator accumulates metered-call usage and derived cost, keyed by
// stage and globally. Safe for concurrent writers; totals are exact sums of
// the appended records regardless of interleaving.
type UsageAggregator struct {
	pricing schema.UsagePricing

	mu       sync.Mutex
	total    schema.UsageSummary
	perStage map[string]schema.UsageSummary

	limitUSD    float64
	onThreshold ThresholdFunc
	notified    bool
}

// NewUsageAggregator creates an aggregator under the given pricing.
func NewUsageAggregator(pricing schema.UsagePricing) *UsageAggregator {
	return &UsageAggregator{
		pricing:  pricing,
		perStage: make(map[string]schema.UsageSummary),
	}
}

// SetCostThreshold arms the advisory cost notification. A limit of zero
// disables it.
func (a *UsageAggregator) SetCostThreshold(limitUSD float64, fn ThresholdFunc) {
	a.mu.Lock()
	a.limitUSD = limitUSD
	a.onThreshold = fn
	a.mu.Unlock()
}

// Pricing returns the pricing in effect.
func (a *UsageAggregator) Pricing() schema.UsagePricing {
	return a.pricing
}

// Record accumulates one usage record, deriving its cost when unset, and
// returns the record with cost filled in.
func (a *UsageAggregator) Record(rec schema.UsageRecord) schema.UsageRecord {
	if rec.CostUSD == 0 {
		rec.CostUSD = a.pricing.Cost(rec.InputUnits, rec.OutputUnits)
	}
	inCost := float64(rec.InputUnits) / 1000 * a.pricing.InputPer1K
	outCost := float64(rec.OutputUnits) / 1000 * a.pricing.OutputPer1K

	a.mu.Lock()
	accumulate(&a.total, rec, inCost, outCost)
	ss := a.perStage[rec.Stage]
	accumulate(&ss, rec, inCost, outCost)
	a.perStage[rec.Stage] = ss

	var notify ThresholdFunc
	var cost, limit float64
	if a.limitUSD > 0 && !a.notified && a.total.CostUSD > a.limitUSD {
		a.notified = true
		notify = a.onThreshold
		cost = a.total.CostUSD
		limit = a.limitUSD
	}
	a.mu.Unlock()

	// Fire outside the lock so the callback can query the aggregator.
	if notify != nil {
		notify(cost, limit)
	}
	return rec
}

func accumulate(s *schema.UsageSummary, rec schema.UsageRecord, inCost, outCost float64) {
	s.Calls++
	s.InputUnits += rec.InputUnits
	s.OutputUnits += rec.OutputUnits
	s.InputCostUSD += inCost
	s.OutputCostUSD += outCost
	s.CostUSD += rec.CostUSD
}

// Summary returns a point-in-time snapshot of all totals.
func (a *UsageAggregator) Summary() schema.UsageTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	perStage := make(map[string]schema.UsageSummary, len(a.perStage))
	for k, v := range a.perStage {
		perStage[k] = v
	}
	return schema.UsageTotals{
		Total:    a.total,
		PerStage: perStage,
		Pricing:  a.pricing,
	}
}
