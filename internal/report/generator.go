// Package report turns a finalized run into the consolidated batch report.
// Generation is a pure read of run state and works the same after a failed
// termination, when only some stages carry results.
package report

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nvidra/photoflow/internal/expressions"
	"github.com/nvidra/photoflow/internal/run"
	"github.com/nvidra/photoflow/pkg/schema"
)

// Field queries used to pull statistics out of heterogeneous stage payloads.
const (
	scoreQuery    = `.quality_score // .overall_aesthetic // empty`
	categoryQuery = `.category // empty`
	selectedQuery = `if .passes_filter == true then 1 else empty end`
	flaggedQuery  = `if .flagged == true then 1 else empty end`
)

// Generator builds reports from finalized runs.
type Generator struct {
	jq *expressions.GoJQEngine
}

// NewGenerator creates a report generator.
func NewGenerator() *Generator {
	return &Generator{jq: expressions.NewGoJQEngine()}
}

// Generate produces the report for a run. The run must no longer be mutated;
// the executor finalizes it before handing it over.
func (g *Generator) Generate(ctx context.Context, r *run.Run) *schema.Report {
	rep := &schema.Report{
		RunID:           r.ID,
		Pipeline:        r.Pipeline.Name,
		Status:          r.Status(),
		GeneratedAt:     time.Now().UTC(),
		ItemsTotal:      len(r.Items),
		DurationSeconds: r.Duration().Seconds(),
		Errors:          r.Errors.Snapshot(),
		Usage:           r.Usage.Summary(),
	}

	flaggedItems := make(map[string]bool)

	// Definition order keeps the stage table stable across runs.
	for i := range r.Pipeline.Stages {
		stage := &r.Pipeline.Stages[i]
		sr := schema.StageReport{
			Name:            stage.Name,
			Status:          r.StageStatus(stage.Name),
			DurationSeconds: r.StageDuration(stage.Name).Seconds(),
		}

		results := r.Results.Stage(stage.Name)
		var scores []float64
		for itemID, res := range results {
			switch res.Status {
			case schema.ResultSuccess:
				sr.Success++
			case schema.ResultPlaceholder:
				sr.Placeholder++
				flaggedItems[itemID] = true
			case schema.ResultFlagged:
				sr.Flagged++
				flaggedItems[itemID] = true
			}
			g.collect(ctx, rep, itemID, res.Payload, &scores, flaggedItems)
		}
		if total := len(results); total > 0 {
			sr.SuccessRate = float64(sr.Success) / float64(total)
		}

		if len(scores) > 0 {
			sum := 0.0
			dist := make(map[string]int)
			for _, s := range scores {
				sum += s
				dist[strconv.Itoa(int(s+0.5))]++
			}
			if rep.ScoreAverages == nil {
				rep.ScoreAverages = make(map[string]float64)
				rep.ScoreDistributions = make(map[string]map[string]int)
			}
			rep.ScoreAverages[stage.Name] = sum / float64(len(scores))
			rep.ScoreDistributions[stage.Name] = dist
		}

		rep.Stages = append(rep.Stages, sr)
	}

	rep.ItemsFlaggedForReview = len(flaggedItems)
	return rep
}

// collect runs the field queries against one payload and folds the values
// into the report accumulators.
func (g *Generator) collect(ctx context.Context, rep *schema.Report, itemID string, payload json.RawMessage, scores *[]float64, flaggedItems map[string]bool) {
	if len(payload) == 0 {
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return
	}

	if v, err := g.jq.Evaluate(ctx, scoreQuery, doc); err == nil {
		if n, ok := v.(float64); ok {
			*scores = append(*scores, n)
		}
	}
	if v, err := g.jq.Evaluate(ctx, categoryQuery, doc); err == nil {
		if cat, ok := v.(string); ok && cat != "" {
			if rep.CategoryDistribution == nil {
				rep.CategoryDistribution = make(map[string]int)
			}
			rep.CategoryDistribution[cat]++
		}
	}
	if v, err := g.jq.Evaluate(ctx, selectedQuery, doc); err == nil && v != nil {
		rep.ItemsSelected++
	}
	if v, err := g.jq.Evaluate(ctx, flaggedQuery, doc); err == nil && v != nil {
		flaggedItems[itemID] = true
	}
}
