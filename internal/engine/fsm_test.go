package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/pkg/schema"
)

// memAppender collects emitted events in memory.
type memAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *memAppender) AppendEvent(_ context.Context, e *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAppender) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func (m *memAppender) countType(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestRunFSM_ValidTransitions(t *testing.T) {
	app := &memAppender{}
	fsm := NewRunFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "r1", schema.RunStatusPending, schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "r1", schema.RunStatusRunning, schema.RunStatusCompleted))

	assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunCompleted}, app.types())
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	fsm := NewRunFSM(nil)
	ctx := context.Background()

	err := fsm.Transition(ctx, "r1", schema.RunStatusCompleted, schema.RunStatusRunning)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, errCode(t, err))

	err = fsm.Transition(ctx, "r1", schema.RunStatusPending, schema.RunStatusCompleted)
	require.Error(t, err)
}

func TestStageFSM_ValidTransitions(t *testing.T) {
	app := &memAppender{}
	fsm := NewStageFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "r1", "score", schema.StageStatusPending, schema.StageStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "r1", "score", schema.StageStatusRunning, schema.StageStatusPartial))
	require.NoError(t, fsm.Transition(ctx, "r1", "caption", schema.StageStatusPending, schema.StageStatusSkipped))

	assert.Equal(t, []string{
		schema.EventStageStarted,
		schema.EventStagePartial,
		schema.EventStageSkipped,
	}, app.types())
}

func TestStageFSM_InvalidTransitions(t *testing.T) {
	fsm := NewStageFSM(nil)
	ctx := context.Background()

	for _, tc := range []struct {
		from, to schema.StageStatus
	}{
		{schema.StageStatusPending, schema.StageStatusCompleted},
		{schema.StageStatusCompleted, schema.StageStatusRunning},
		{schema.StageStatusSkipped, schema.StageStatusRunning},
		{schema.StageStatusAborted, schema.StageStatusPartial},
	} {
		err := fsm.Transition(ctx, "r1", "s", tc.from, tc.to)
		require.Error(t, err, "%s -> %s should be rejected", tc.from, tc.to)
		assert.Equal(t, schema.ErrCodeInvalidTransition, errCode(t, err))
	}
}

func TestStageFSM_NilAppender(t *testing.T) {
	fsm := NewStageFSM(nil)
	require.NoError(t, fsm.Transition(context.Background(), "r1", "s",
		schema.StageStatusPending, schema.StageStatusRunning))
}
