package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/pkg/schema"
)

// handleRun processes a batch through a registered pipeline.
func (s *PhotoflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pipeline, err := req.RequireString("pipeline")
	if err != nil {
		return mcp.NewToolResultError("pipeline is required"), nil
	}

	sourceMap := mcp.ParseStringMap(req, "source", nil)
	if sourceMap == nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	source, marshalErr := json.Marshal(sourceMap)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid source: %v", marshalErr)), nil
	}

	r, rep, runErr := s.service.RunByName(ctx, pipeline, source)
	if runErr != nil {
		if r == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
		}
		// The run was created but rejected before processing started; the
		// caller gets the ID so the stored failure remains queryable.
		return mcp.NewToolResultError(fmt.Sprintf("run %s failed: %v", r.ID, runErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id":      r.ID,
		"status":      r.Status(),
		"items_total": rep.ItemsTotal,
		"report":      rep,
	})
}

// handleStatus returns the persisted run row plus its stage states.
func (s *PhotoflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	status, statusErr := s.service.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(status)
}

// handleReport returns the stored report of a finished run.
func (s *PhotoflowServer) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	raw, repErr := s.service.Report(ctx, runID)
	if repErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report query failed: %v", repErr)), nil
	}

	return mcp.NewToolResultJSON(raw)
}

// handleSchedule manages recurring batch jobs.
func (s *PhotoflowServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "create":
		return s.createJob(ctx, req)
	case "enable", "disable":
		return s.setJobEnabled(ctx, req, action == "enable")
	case "delete":
		jobID := req.GetString("job_id", "")
		if jobID == "" {
			return mcp.NewToolResultError("job_id is required for delete"), nil
		}
		if delErr := s.store.DeleteScheduledJob(ctx, jobID); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "job_id": jobID})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

func (s *PhotoflowServer) createJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pipeline := req.GetString("pipeline", "")
	if pipeline == "" {
		return mcp.NewToolResultError("pipeline is required for create"), nil
	}
	cronExpr := req.GetString("cron", "")
	if cronExpr == "" {
		return mcp.NewToolResultError("cron is required for create"), nil
	}

	// Reject bad expressions up front and seed the first due time.
	now := time.Now().UTC()
	next, cronErr := s.scheduler.CalculateNextRun(cronExpr, now)
	if cronErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", cronErr)), nil
	}

	job := &store.ScheduledJob{
		ID:             uuid.New().String(),
		Pipeline:       pipeline,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if sourceMap := mcp.ParseStringMap(req, "source", nil); sourceMap != nil {
		if raw, err := json.Marshal(sourceMap); err == nil {
			job.Source = raw
		}
	}

	if createErr := s.store.CreateScheduledJob(ctx, job); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", createErr)), nil
	}

	return marshalResult(job)
}

func (s *PhotoflowServer) setJobEnabled(ctx context.Context, req mcp.CallToolRequest, enabled bool) (*mcp.CallToolResult, error) {
	jobID := req.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	update := store.ScheduledJobUpdate{Enabled: &enabled}
	if updErr := s.store.UpdateScheduledJob(ctx, jobID, update); updErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", updErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "job_id": jobID, "enabled": enabled})
}

// handleQuery lists runs, events, or scheduled jobs based on filters.
func (s *PhotoflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "jobs":
		return s.queryJobs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *PhotoflowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if pipeline, ok := filter["pipeline"].(string); ok {
		rf.Pipeline = pipeline
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *PhotoflowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if stage, ok := filter["stage"].(string); ok {
		ef.Stage = stage
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if ef.EventType != "" {
		events, err := s.store.GetEventsByType(ctx, ef.EventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// No event type filter; GetEvents requires a run ID.
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *PhotoflowServer) queryJobs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	jf := store.ScheduledJobFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		jf.Enabled = &enabled
	}
	if pipeline, ok := filter["pipeline"].(string); ok {
		jf.Pipeline = pipeline
	}

	jobs, err := s.store.ListScheduledJobs(ctx, jf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"jobs": jobs})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
