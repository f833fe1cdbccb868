package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohq/automation/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedWorkflow(t *testing.T, s *LibSQLStore, ownerID string) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Status:  schema.WorkflowStatusActive,
		Definition: schema.WorkflowDefinition{
			Name:    "test workflow",
			Status:  schema.WorkflowStatusActive,
			OwnerID: ownerID,
		},
	}
	wf.Definition.ID = wf.ID
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func seedExecution(t *testing.T, s *LibSQLStore, workflowID, conversation string, status schema.ExecutionStatus) *Execution {
	t.Helper()
	ex := &Execution{
		ID:              uuid.New().String(),
		WorkflowID:      workflowID,
		OwnerID:         "owner-1",
		ConversationRef: conversation,
		Status:          status,
	}
	require.NoError(t, s.CreateExecution(context.Background(), ex))
	return ex
}

// --- Workflow tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := seedWorkflow(t, s, "owner-1")

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, schema.WorkflowStatusActive, got.Status)
	assert.Equal(t, "test workflow", got.Definition.Name)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	require.Error(t, err)
	var aerr *schema.AutomationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeNotFound, aerr.Code)
}

func TestUpdateWorkflowStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")

	paused := schema.WorkflowStatusPaused
	require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{Status: &paused}))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusPaused, got.Status)
}

func TestListWorkflows_FilterByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWorkflow(t, s, "owner-1")
	seedWorkflow(t, s, "owner-1")
	seedWorkflow(t, s, "owner-2")

	got, err := s.ListWorkflows(ctx, WorkflowFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	active := schema.WorkflowStatusActive
	got, err = s.ListWorkflows(ctx, WorkflowFilter{Status: &active})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestListWorkflows_PriorityOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := seedWorkflow(t, s, "owner-1")
	p := 10
	require.NoError(t, s.UpdateWorkflow(ctx, low.ID, WorkflowUpdate{Priority: &p}))
	high := seedWorkflow(t, s, "owner-1")
	p2 := 1
	require.NoError(t, s.UpdateWorkflow(ctx, high.ID, WorkflowUpdate{Priority: &p2}))

	got, err := s.ListWorkflows(ctx, WorkflowFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
	assert.Equal(t, low.ID, got[1].ID)
}

// --- Execution tests ---

func TestCreateAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")

	ex := &Execution{
		ID:              uuid.New().String(),
		WorkflowID:      wf.ID,
		OwnerID:         "owner-1",
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		Status:          schema.ExecutionStatusPending,
		TriggerSnapshot: json.RawMessage(`{"type":"message_received"}`),
		Context:         map[string]any{"message_content": "hello"},
	}
	require.NoError(t, s.CreateExecution(ctx, ex))

	got, err := s.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, ex.ID, got.ID)
	assert.Equal(t, "conv-1", got.ConversationRef)
	assert.Equal(t, schema.ExecutionStatusPending, got.Status)
	assert.JSONEq(t, `{"type":"message_received"}`, string(got.TriggerSnapshot))
	assert.Equal(t, "hello", got.Context["message_content"])
}

func TestUpdateExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusPending)

	running := schema.ExecutionStatusRunning
	now := time.Now().UTC()
	require.NoError(t, s.UpdateExecution(ctx, ex.ID, ExecutionUpdate{
		Status:    &running,
		StartedAt: &now,
		Context:   map[string]any{"step": float64(2)},
	}))

	got, err := s.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, float64(2), got.Context["step"])
}

func TestHasActiveExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")

	active, err := s.HasActiveExecution(ctx, wf.ID, "conv-1")
	require.NoError(t, err)
	assert.False(t, active)

	seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)
	active, err = s.HasActiveExecution(ctx, wf.ID, "conv-1")
	require.NoError(t, err)
	assert.True(t, active)

	// A different conversation is unaffected.
	active, err = s.HasActiveExecution(ctx, wf.ID, "conv-2")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestHasCompletedExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	done, err := s.HasCompletedExecution(ctx, wf.ID, "conv-1")
	require.NoError(t, err)
	assert.False(t, done)

	completed := schema.ExecutionStatusCompleted
	require.NoError(t, s.UpdateExecution(ctx, ex.ID, ExecutionUpdate{Status: &completed}))

	done, err = s.HasCompletedExecution(ctx, wf.ID, "conv-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestHasExecutionForEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")

	started, err := s.HasExecutionForEvent(ctx, wf.ID, "evt-1")
	require.NoError(t, err)
	assert.False(t, started)

	ex := &Execution{
		ID:              uuid.New().String(),
		WorkflowID:      wf.ID,
		OwnerID:         "owner-1",
		ConversationRef: "conv-1",
		EventID:         "evt-1",
		Status:          schema.ExecutionStatusCompleted,
	}
	require.NoError(t, s.CreateExecution(ctx, ex))

	// Terminal executions still count; a redelivered event must not refire.
	started, err = s.HasExecutionForEvent(ctx, wf.ID, "evt-1")
	require.NoError(t, err)
	assert.True(t, started)

	started, err = s.HasExecutionForEvent(ctx, wf.ID, "evt-2")
	require.NoError(t, err)
	assert.False(t, started)

	got, err := s.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.EventID)
}

func TestMarkWaitingAndClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	require.NoError(t, s.MarkWaiting(ctx, ex.ID, "node-wait", map[string]any{"k": "v"}))

	got, err := s.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusWaiting, got.Status)
	assert.Equal(t, "node-wait", got.WaitingNodeID)

	// First claim wins.
	claimed, err := s.ClaimWaiting(ctx, ex.ID, "node-wait")
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim (timeout racing a resume) loses.
	claimed, err = s.ClaimWaiting(ctx, ex.ID, "node-wait")
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err = s.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusRunning, got.Status)
	assert.Empty(t, got.WaitingNodeID)
}

func TestClaimWaiting_StaleNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	require.NoError(t, s.MarkWaiting(ctx, ex.ID, "node-b", nil))

	// A timeout carrying the previous waiting node must not fire.
	claimed, err := s.ClaimWaiting(ctx, ex.ID, "node-a")
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusWaiting, got.Status)
	assert.Equal(t, "node-b", got.WaitingNodeID)
}

func TestSingleWaitingPerConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")

	ex1 := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)
	ex2 := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	require.NoError(t, s.MarkWaiting(ctx, ex1.ID, "node-w", nil))
	// The partial unique index rejects a second waiting row for the same
	// workflow+conversation.
	err := s.MarkWaiting(ctx, ex2.ID, "node-w", nil)
	require.Error(t, err)
}

// --- Action execution tests ---

func TestActionExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	now := time.Now().UTC()
	ae := &ActionExecution{
		ID:          uuid.New().String(),
		ExecutionID: ex.ID,
		NodeID:      "node-act",
		ActionType:  "send_message",
		Status:      schema.ActionStatusRunning,
		StartedAt:   &now,
	}
	require.NoError(t, s.CreateActionExecution(ctx, ae))

	require.NoError(t, s.UpdateActionExecution(ctx, ae.ID, schema.ActionStatusCompleted,
		json.RawMessage(`{"message_ref":"m-1"}`), nil))

	got, err := s.ListActionExecutions(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.ActionStatusCompleted, got[0].Status)
	assert.JSONEq(t, `{"message_ref":"m-1"}`, string(got[0].Output))
	assert.NotNil(t, got[0].CompletedAt)
}

func TestFailPendingActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	for _, st := range []schema.ActionStatus{schema.ActionStatusPending, schema.ActionStatusRunning, schema.ActionStatusCompleted} {
		require.NoError(t, s.CreateActionExecution(ctx, &ActionExecution{
			ID:          uuid.New().String(),
			ExecutionID: ex.ID,
			NodeID:      "n",
			ActionType:  "send_message",
			Status:      st,
		}))
	}

	require.NoError(t, s.FailPendingActions(ctx, ex.ID, json.RawMessage(`{"reason":"cancelled"}`)))

	got, err := s.ListActionExecutions(ctx, ex.ID)
	require.NoError(t, err)
	var failed, completed int
	for _, ae := range got {
		switch ae.Status {
		case schema.ActionStatusFailed:
			failed++
		case schema.ActionStatusCompleted:
			completed++
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, completed)
}

// --- Audit log tests ---

func TestAppendAudit_SequencePerExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex1 := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)
	ex2 := seedExecution(t, s, wf.ID, "conv-2", schema.ExecutionStatusRunning)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendAudit(ctx, &AuditEvent{
			ExecutionID: ex1.ID, WorkflowID: wf.ID, Type: schema.AuditNodeEntered,
		}))
	}
	require.NoError(t, s.AppendAudit(ctx, &AuditEvent{
		ExecutionID: ex2.ID, WorkflowID: wf.ID, Type: schema.AuditExecutionStarted,
	}))

	got, err := s.GetAudit(ctx, AuditFilter{ExecutionID: ex1.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	got, err = s.GetAudit(ctx, AuditFilter{ExecutionID: ex2.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Sequence)
}

func TestAppendAudit_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s, "owner-1")
	ex := seedExecution(t, s, wf.ID, "conv-1", schema.ExecutionStatusRunning)

	const n = 10
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errCh <- s.AppendAudit(ctx, &AuditEvent{
				ExecutionID: ex.ID, WorkflowID: wf.ID, Type: schema.AuditNodeEntered,
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errCh)
	}

	got, err := s.GetAudit(ctx, AuditFilter{ExecutionID: ex.ID})
	require.NoError(t, err)
	require.Len(t, got, n)
	seen := make(map[int64]bool)
	for _, e := range got {
		assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		seen[e.Sequence] = true
	}
}

// --- Task queue tests ---

func TestTaskQueue_ClaimAndComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := &Task{
		ID:          uuid.New().String(),
		Kind:        TaskMatchEvent,
		Payload:     json.RawMessage(`{"event_id":"e-1"}`),
		RunAt:       now.Add(-time.Second),
		MaxAttempts: 3,
	}
	future := &Task{
		ID:          uuid.New().String(),
		Kind:        TaskResumeTimeout,
		RunAt:       now.Add(time.Hour),
		MaxAttempts: 1,
	}
	require.NoError(t, s.EnqueueTask(ctx, due))
	require.NoError(t, s.EnqueueTask(ctx, future))

	claimed, err := s.ClaimDueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, TaskStatusRunning, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	// A second poll finds nothing pending.
	claimed, err = s.ClaimDueTasks(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, s.CompleteTask(ctx, due.ID))
}

func TestTaskQueue_RetryAndDead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &Task{
		ID:          uuid.New().String(),
		Kind:        TaskRunAction,
		RunAt:       now.Add(-time.Second),
		MaxAttempts: 2,
	}
	require.NoError(t, s.EnqueueTask(ctx, task))

	claimed, err := s.ClaimDueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.RetryTask(ctx, task.ID, now.Add(-time.Millisecond), "boom"))

	claimed, err = s.ClaimDueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)
	assert.Equal(t, "boom", claimed[0].LastError)

	require.NoError(t, s.DeadTask(ctx, task.ID, "gave up"))
	claimed, err = s.ClaimDueTasks(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
