package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidra/photoflow/internal/engine"
	"github.com/nvidra/photoflow/internal/scheduler"
	"github.com/nvidra/photoflow/internal/service"
	"github.com/nvidra/photoflow/internal/stages"
	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/internal/validation"
	"github.com/nvidra/photoflow/pkg/schema"
)

// cannedVision answers each stage's prompt with a fixed well-formed response.
// Items whose source contains "broken" fail every vision call, exercising the
// placeholder policy end to end.
type cannedVision struct{}

func (cannedVision) Analyze(_ context.Context, req stages.VisionRequest) (*stages.VisionResponse, error) {
	if strings.Contains(req.ImageRef, "broken") {
		return nil, fmt.Errorf("vision backend unavailable")
	}

	var text string
	switch {
	case strings.Contains(req.Prompt, "technician"):
		text = `{"sharpness": 4, "exposure": 4, "noise": 5, "issues": []}`
	case strings.Contains(req.Prompt, "curator"):
		text = `{"composition": 4, "framing": 4, "lighting": 5, "subject_interest": 4, "notes": "strong composition"}`
	default:
		// Caption lengths must satisfy the built-in contract bounds.
		captions, _ := json.Marshal(map[string]any{
			"concise":  "A view worth keeping",
			"standard": strings.Repeat("A memorable view from the trip. ", 6),
			"detailed": strings.Repeat("A memorable view from the trip, captured in lovely light. ", 6),
			"keywords": []string{"travel", "view"},
		})
		text = string(captions)
	}
	return &stages.VisionResponse{Text: text, InputUnits: 800, OutputUnits: 120}, nil
}

// --- Test harness ---

type harness struct {
	t       *testing.T
	store   *store.LibSQLStore
	events  *store.EventLog
	service *service.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "e2e.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	el := store.NewEventLog(s)

	vision := cannedVision{}
	reg := stages.NewRegistry()
	reg.Register(stages.NewMetadataProcessor(stages.FileMetadataReader{}))
	reg.Register(stages.NewQualityProcessor(stages.NewVisionQualityScorer(vision)))
	reg.Register(stages.NewAestheticProcessor(vision))
	reg.Register(stages.NewCaptionProcessor(vision))

	filterOpts, err := stages.ParseFilteringOptions(nil)
	require.NoError(t, err)
	filtering, err := stages.NewFilteringProcessor(filterOpts)
	require.NoError(t, err)
	reg.Register(filtering)

	validator, err := validation.NewValidator()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(reg, validator, el, logger)
	svc := service.New(eng, s, service.DirItemSource{}, logger)
	svc.RegisterPipeline(travelPipeline())

	return &harness{t: t, store: s, events: el, service: svc}
}

func travelPipeline() *schema.PipelineDefinition {
	return &schema.PipelineDefinition{
		Name: "travel-batch",
		Stages: []schema.StageDefinition{
			{Name: "metadata_extraction"},
			{Name: "quality_assessment", DependsOn: []string{"metadata_extraction"}},
			{Name: "aesthetic_assessment", DependsOn: []string{"metadata_extraction"}},
			{Name: "caption_generation", DependsOn: []string{"metadata_extraction", "aesthetic_assessment"}},
			{
				Name:      "filtering_categorization",
				DependsOn: []string{"metadata_extraction", "quality_assessment", "aesthetic_assessment"},
			},
		},
	}
}

func (h *harness) photoDir(names ...string) string {
	h.t.Helper()
	dir := h.t.TempDir()
	for _, name := range names {
		require.NoError(h.t, os.WriteFile(filepath.Join(dir, name), []byte("fake photo bytes"), 0o644))
	}
	return dir
}

// --- E2E Scenarios ---

// 1. Full five-stage batch over a directory of photos.
func TestFullBatch(t *testing.T) {
	h := newHarness(t)
	dir := h.photoDir("beach_sunset.jpg", "temple_gate.jpg", "street_market.jpg", "broken_shot.jpg")

	source, _ := json.Marshal(service.SourceSpec{Dir: dir})
	r, rep, err := h.service.RunByName(context.Background(), "travel-batch", source)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, r.Status())
	assert.Equal(t, 4, rep.ItemsTotal)
	require.Len(t, rep.Stages, 5)

	// Metadata stage never touches the vision backend.
	assert.Equal(t, 4, rep.Stages[0].Success)

	// The broken item got a placeholder in every vision-backed stage.
	byName := make(map[string]schema.StageReport, len(rep.Stages))
	for _, sr := range rep.Stages {
		byName[sr.Name] = sr
	}
	assert.Equal(t, 1, byName["quality_assessment"].Placeholder)
	assert.Equal(t, 1, byName["aesthetic_assessment"].Placeholder)
	assert.Equal(t, 1, byName["caption_generation"].Placeholder)
	assert.InDelta(t, 0.75, byName["quality_assessment"].SuccessRate, 0.001)

	// Keyword taxonomy routed each filename.
	assert.Equal(t, 1, rep.CategoryDistribution["Landscape"])
	assert.Equal(t, 1, rep.CategoryDistribution["Architecture"])
	assert.Equal(t, 1, rep.CategoryDistribution["Urban"])
	assert.Equal(t, 1, rep.CategoryDistribution["Uncategorized"])

	// Metered stages (aesthetic, caption) succeeded for 3 items.
	assert.Equal(t, int64(6*800), rep.Usage.Total.InputUnits)
	assert.Equal(t, int64(6), rep.Usage.Total.Calls)

	// The broken item produced error records.
	assert.NotEmpty(t, rep.Errors)
}

// 2. The persisted run row carries the final status, report and artifacts.
func TestPersistedOutcome(t *testing.T) {
	h := newHarness(t)
	dir := h.photoDir("beach_walk.jpg", "castle_hill.jpg")

	source, _ := json.Marshal(service.SourceSpec{Dir: dir})
	r, _, err := h.service.RunByName(context.Background(), "travel-batch", source)
	require.NoError(t, err)

	ctx := context.Background()
	row, err := h.store.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, row.Status)
	assert.NotNil(t, row.CompletedAt)

	var rep schema.Report
	require.NoError(t, json.Unmarshal(row.Report, &rep))
	assert.Equal(t, r.ID, rep.RunID)
	assert.Equal(t, 2, rep.ItemsTotal)

	states, err := h.store.ListStageStates(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, states, 5)

	results, err := h.store.ListStageResults(ctx, r.ID, "filtering_categorization")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	usage, err := h.store.ListUsageRecords(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, usage, 4) // 2 items x 2 metered stages

	status, err := h.service.Status(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, status.Run.Status)
}

// 3. The event log captures every transition with a contiguous sequence, and
// replay reconstructs the stage states.
func TestEventLogAndReplay(t *testing.T) {
	h := newHarness(t)
	dir := h.photoDir("lake_view.jpg")

	source, _ := json.Marshal(service.SourceSpec{Dir: dir})
	r, _, err := h.service.RunByName(context.Background(), "travel-batch", source)
	require.NoError(t, err)

	ctx := context.Background()
	events, err := h.events.GetEvents(ctx, r.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events[len(events)-1].Type)

	states, err := h.events.ReplayEvents(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, states, 5)
	assert.Equal(t, schema.StageStatusCompleted, states["metadata_extraction"].Status)
}

// 4. A dependency on an unknown processor fails the run before any item is
// touched, and the failure is persisted.
func TestConfigErrorPersisted(t *testing.T) {
	h := newHarness(t)
	h.service.RegisterPipeline(&schema.PipelineDefinition{
		Name:   "bad-pipeline",
		Stages: []schema.StageDefinition{{Name: "ingest", Processor: "ghost"}},
	})
	dir := h.photoDir("beach_cove.jpg")

	source, _ := json.Marshal(service.SourceSpec{Dir: dir})
	r, _, err := h.service.RunByName(context.Background(), "bad-pipeline", source)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, r.Status())

	row, getErr := h.store.GetRun(context.Background(), r.ID)
	require.NoError(t, getErr)
	assert.Equal(t, schema.RunStatusFailed, row.Status)
}

// 5. A scheduled job left overdue runs on recovery and lands a persisted run.
func TestScheduledBatchRecovery(t *testing.T) {
	h := newHarness(t)
	dir := h.photoDir("forest_trail.jpg")

	ctx := context.Background()
	source, _ := json.Marshal(service.SourceSpec{Dir: dir})
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.store.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID:             "nightly-ingest",
		Pipeline:       "travel-batch",
		CronExpression: "0 2 * * *",
		Source:         source,
		Enabled:        true,
		NextRunAt:      &past,
		CreatedAt:      time.Now().UTC(),
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(h.store, h.service, logger)
	require.NoError(t, sched.RecoverMissed(ctx))

	job, err := h.store.GetScheduledJob(ctx, "nightly-ingest")
	require.NoError(t, err)
	assert.Equal(t, "success", job.LastRunStatus)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))

	runs, err := h.store.ListRuns(ctx, store.RunFilter{Pipeline: "travel-batch"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schema.RunStatusCompleted, runs[0].Status)
}
