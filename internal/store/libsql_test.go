package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidra/photoflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRun(t *testing.T, s *LibSQLStore) *Run {
	t.Helper()
	r := &Run{
		ID:       uuid.New().String(),
		Pipeline: "travel-batch",
		Definition: schema.PipelineDefinition{
			Name:   "travel-batch",
			Stages: []schema.StageDefinition{{Name: "metadata_extraction"}},
		},
		Status:     schema.RunStatusPending,
		ItemsTotal: 12,
	}
	require.NoError(t, s.CreateRun(context.Background(), r))
	return r
}

// --- Run Tests ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "travel-batch", got.Pipeline)
	assert.Equal(t, schema.RunStatusPending, got.Status)
	assert.Equal(t, 12, got.ItemsTotal)
	require.Len(t, got.Definition.Stages, 1)
	assert.Equal(t, "metadata_extraction", got.Definition.Stages[0].Name)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	perr, ok := err.(*schema.PipelineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, perr.Code)
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	status := schema.RunStatusCompleted
	now := time.Now().UTC()
	report := json.RawMessage(`{"items_total": 12}`)
	require.NoError(t, s.UpdateRun(ctx, r.ID, RunUpdate{
		Status:      &status,
		Report:      report,
		CompletedAt: &now,
	}))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.JSONEq(t, string(report), string(got.Report))
	assert.NotNil(t, got.CompletedAt)
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	status := schema.RunStatusRunning
	err := s.UpdateRun(context.Background(), "nonexistent", RunUpdate{Status: &status})
	require.Error(t, err)
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r1 := seedRun(t, s)
	seedRun(t, s)

	status := schema.RunStatusRunning
	require.NoError(t, s.UpdateRun(ctx, r1.ID, RunUpdate{Status: &status}))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := s.ListRuns(ctx, RunFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, r1.ID, running[0].ID)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	require.NoError(t, s.DeleteRun(ctx, r.ID))
	_, err := s.GetRun(ctx, r.ID)
	require.Error(t, err)

	require.Error(t, s.DeleteRun(ctx, r.ID))
}

// --- Event Tests ---

func TestAppendEvent_SequencesPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r1 := seedRun(t, s)
	r2 := seedRun(t, s)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: r1.ID, Type: schema.EventStageStarted, Stage: "metadata_extraction"}))
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: r2.ID, Type: schema.EventRunStarted}))

	events, err := s.GetEvents(ctx, r1.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	events, err = s.GetEvents(ctx, r2.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence)
}

func TestGetEvents_Since(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	for _, typ := range []string{schema.EventRunStarted, schema.EventStageStarted, schema.EventStageCompleted} {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: r.ID, Type: typ}))
	}

	events, err := s.GetEvents(ctx, r.ID, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventStageStarted, events[0].Type)
}

func TestGetEventsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: r.ID, Type: schema.EventItemFlagged, Stage: "quality_assessment", ItemID: "img-001"}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: r.ID, Type: schema.EventStageCompleted, Stage: "quality_assessment"}))

	flagged, err := s.GetEventsByType(ctx, schema.EventItemFlagged, EventFilter{RunID: r.ID})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "img-001", flagged[0].ItemID)
}

// --- Stage State Tests ---

func TestUpsertAndGetStageState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	state := &StageState{
		RunID:   r.ID,
		Stage:   "quality_assessment",
		Status:  schema.StageStatusRunning,
		Success: 3,
	}
	require.NoError(t, s.UpsertStageState(ctx, state))

	state.Status = schema.StageStatusPartial
	state.Success = 9
	state.Placeholder = 1
	state.DurationMs = 4200
	require.NoError(t, s.UpsertStageState(ctx, state))

	got, err := s.GetStageState(ctx, r.ID, "quality_assessment")
	require.NoError(t, err)
	assert.Equal(t, schema.StageStatusPartial, got.Status)
	assert.Equal(t, 9, got.Success)
	assert.Equal(t, 1, got.Placeholder)
	assert.Equal(t, int64(4200), got.DurationMs)

	states, err := s.ListStageStates(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

// --- Artifact Tests ---

func TestPutAndListStageResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	require.NoError(t, s.PutStageResult(ctx, r.ID, &schema.StageResult{
		Stage: "metadata_extraction", ItemID: "img-001", Status: schema.ResultSuccess,
		Payload: json.RawMessage(`{"image_id":"img-001"}`),
	}))
	require.NoError(t, s.PutStageResult(ctx, r.ID, &schema.StageResult{
		Stage: "metadata_extraction", ItemID: "img-002", Status: schema.ResultPlaceholder,
		ErrorKind: schema.ErrCodeProcessing,
	}))

	results, err := s.ListStageResults(ctx, r.ID, "metadata_extraction")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, schema.ResultSuccess, results[0].Status)
	assert.Equal(t, schema.ErrCodeProcessing, results[1].ErrorKind)
}

func TestAppendAndListErrorRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	require.NoError(t, s.AppendErrorRecord(ctx, r.ID, &schema.ErrorRecord{
		ID: uuid.New().String(), Stage: "quality_assessment", ItemID: "img-003",
		Kind: schema.ErrCodeTimeout, Severity: schema.SeverityError, Message: "item timed out",
	}))

	records, err := s.ListErrorRecords(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, schema.ErrCodeTimeout, records[0].Kind)
	assert.Equal(t, schema.SeverityError, records[0].Severity)
}

func TestAppendAndListUsageRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s)

	require.NoError(t, s.AppendUsageRecord(ctx, r.ID, &schema.UsageRecord{
		Stage: "aesthetic_assessment", ItemID: "img-001",
		InputUnits: 1200, OutputUnits: 300, CostUSD: 0.00018,
	}))

	records, err := s.ListUsageRecords(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1200), records[0].InputUnits)
	assert.InDelta(t, 0.00018, records[0].CostUSD, 1e-9)
}

// --- Scheduled Job Tests ---

func TestScheduledJobCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &ScheduledJob{
		ID:             uuid.New().String(),
		Pipeline:       "travel-batch",
		CronExpression: "0 2 * * *",
		Source:         json.RawMessage(`{"dir":"/photos/inbox"}`),
		Enabled:        true,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", got.CronExpression)
	assert.True(t, got.Enabled)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{
		LastRunAt:     &now,
		LastRunStatus: string(schema.RunStatusCompleted),
	}))

	got, err = s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)
	assert.Equal(t, "completed", got.LastRunStatus)

	enabled := true
	jobs, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, s.DeleteScheduledJob(ctx, job.ID))
	_, err = s.GetScheduledJob(ctx, job.ID)
	require.Error(t, err)
}
