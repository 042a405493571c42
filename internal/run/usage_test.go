package run

import (
	"math"
	"sync"
	"testing"

	"github.com/nvidra/photoflow/pkg/schema"
)

func TestUsageAggregator_Totals(t *testing.T) {
	agg := NewUsageAggregator(schema.UsagePricing{InputPer1K: 0.1, OutputPer1K: 0.2})

	agg.Record(schema.UsageRecord{Stage: "aesthetic", ItemID: "a", InputUnits: 1000, OutputUnits: 500})
	agg.Record(schema.UsageRecord{Stage: "captions", ItemID: "a", InputUnits: 2000, OutputUnits: 1000})

	sum := agg.Summary()
	if sum.Total.Calls != 2 {
		t.Errorf("calls = %d", sum.Total.Calls)
	}
	if sum.Total.InputUnits != 3000 || sum.Total.OutputUnits != 1500 {
		t.Errorf("units = %d/%d", sum.Total.InputUnits, sum.Total.OutputUnits)
	}
	// 3000/1000*0.1 + 1500/1000*0.2 = 0.3 + 0.3
	if math.Abs(sum.Total.CostUSD-0.6) > 1e-9 {
		t.Errorf("cost = %f", sum.Total.CostUSD)
	}
	if sum.PerStage["aesthetic"].Calls != 1 || sum.PerStage["captions"].Calls != 1 {
		t.Error("per-stage breakdown missing")
	}
}

// Three metered calls across two goroutines must sum exactly regardless of
// interleaving.
func TestUsageAggregator_ConcurrentExactSum(t *testing.T) {
	pricing := schema.UsagePricing{InputPer1K: 1.0}
	agg := NewUsageAggregator(pricing)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.Record(schema.UsageRecord{Stage: "s", ItemID: "1", InputUnits: 100})
		agg.Record(schema.UsageRecord{Stage: "s", ItemID: "2", InputUnits: 200})
	}()
	go func() {
		defer wg.Done()
		agg.Record(schema.UsageRecord{Stage: "s", ItemID: "3", InputUnits: 300})
	}()
	wg.Wait()

	sum := agg.Summary()
	if sum.Total.InputUnits != 600 {
		t.Errorf("input units = %d, want 600", sum.Total.InputUnits)
	}
	want := pricing.Cost(600, 0)
	if math.Abs(sum.Total.CostUSD-want) > 1e-9 {
		t.Errorf("cost = %f, want %f", sum.Total.CostUSD, want)
	}
}

func TestUsageAggregator_DerivesCost(t *testing.T) {
	agg := NewUsageAggregator(schema.DefaultPricing)
	rec := agg.Record(schema.UsageRecord{Stage: "s", ItemID: "1", InputUnits: 10000, OutputUnits: 2000})
	want := schema.DefaultPricing.Cost(10000, 2000)
	if math.Abs(rec.CostUSD-want) > 1e-12 {
		t.Errorf("derived cost = %f, want %f", rec.CostUSD, want)
	}
}

func TestUsageAggregator_ThresholdFiresOnce(t *testing.T) {
	agg := NewUsageAggregator(schema.UsagePricing{InputPer1K: 1.0})

	var fired int
	agg.SetCostThreshold(0.5, func(cost, limit float64) {
		fired++
		if cost <= limit {
			t.Errorf("callback cost %f not above limit %f", cost, limit)
		}
	})

	agg.Record(schema.UsageRecord{Stage: "s", ItemID: "1", InputUnits: 400}) // 0.4, under
	agg.Record(schema.UsageRecord{Stage: "s", ItemID: "2", InputUnits: 400}) // 0.8, crossed
	agg.Record(schema.UsageRecord{Stage: "s", ItemID: "3", InputUnits: 400}) // still over

	if fired != 1 {
		t.Errorf("threshold fired %d times, want 1", fired)
	}
}

func TestUsageAggregator_ZeroLimitDisabled(t *testing.T) {
	agg := NewUsageAggregator(schema.UsagePricing{InputPer1K: 1.0})
	agg.SetCostThreshold(0, func(cost, limit float64) {
		t.Error("threshold must not fire when disabled")
	})
	agg.Record(schema.UsageRecord{Stage: "s", ItemID: "1", InputUnits: 100000})
}
