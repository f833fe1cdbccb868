package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohq/automation/internal/actions"
	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/internal/engine"
	"github.com/convohq/automation/internal/evalctx"
	"github.com/convohq/automation/internal/matcher"
	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/tenant"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

type fixture struct {
	store         *store.LibSQLStore
	runner        *Runner
	messenger     *collab.MemoryMessenger
	conversations *collab.MemoryConversations
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.Default()
	messenger := collab.NewMemoryMessenger()
	customers := collab.NewMemoryCustomers()
	conversations := collab.NewMemoryConversations()
	conversations.Put(&collab.Conversation{ID: "conv-1", OwnerID: "owner-1", UserRef: "user-1", Channel: "chat", Status: collab.ConversationAutomated, MessageCount: 5})
	ai := collab.NewStaticAI("yes")
	state := ttlstate.New(time.Minute)
	sandbox := conditions.NewCodeSandbox(conditions.DefaultCodeBudget, logger)

	registry, err := actions.DefaultRegistry(actions.Deps{
		Messenger:     messenger,
		AI:            ai,
		Customers:     customers,
		Conversations: conversations,
		State:         state,
		Sandbox:       sandbox,
		Logger:        logger,
	})
	require.NoError(t, err)

	guards, err := engine.NewGuardEngine(logger)
	require.NoError(t, err)
	cond := conditions.NewEvaluator(sandbox, ai, logger)
	executor := engine.New(s, registry, cond, guards, messenger, ai, state, logger)

	resolver := tenant.NewResolver(conversations, collab.NewStaticEntitlements("owner-1"), state)
	builder := evalctx.NewBuilder(customers, conversations, logger)
	m := matcher.New(s, builder, cond, resolver, logger)

	runner := NewRunner(s, m, executor, registry, Config{}, logger)
	return &fixture{store: s, runner: runner, messenger: messenger, conversations: conversations}
}

func saveGreetingWorkflow(t *testing.T, s *store.LibSQLStore) *store.Workflow {
	t.Helper()
	id := uuid.New().String()
	wf := &store.Workflow{
		ID:      id,
		OwnerID: "owner-1",
		Status:  schema.WorkflowStatusActive,
		Definition: schema.WorkflowDefinition{
			ID:      id,
			OwnerID: "owner-1",
			Status:  schema.WorkflowStatusActive,
			Nodes: []schema.Node{
				{ID: "start", Kind: schema.NodeKindWhen, Active: true, When: &schema.WhenConfig{
					EventKind: schema.EventMessageReceived,
					Keywords:  []string{"hello"},
				}},
				{ID: "greet", Kind: schema.NodeKindAction, Active: true, Action: &schema.ActionConfig{
					Type: "send_message", Params: []byte(`{"content":"hi, how can we help?"}`),
				}},
			},
			Edges: []schema.Edge{
				{Source: "start", Target: "greet", Kind: schema.EdgeSuccess},
			},
		},
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func (f *fixture) drainQueue(t *testing.T) {
	t.Helper()
	// Poll a few rounds so tasks enqueued by tasks also run.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.runner.Poll(context.Background()))
		f.runner.Drain()
	}
}

func TestSubmitEvent_MatchesAndExecutes(t *testing.T) {
	f := newFixture(t)
	saveGreetingWorkflow(t, f.store)

	id, err := f.runner.SubmitEvent(context.Background(), &schema.EventRecord{
		Type:            schema.EventMessageReceived,
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		Payload:         map[string]any{"content": "hello there", "channel": "chat"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Nothing happens until the queue is drained.
	assert.Empty(t, f.messenger.SentTo("conv-1"))
	f.drainQueue(t)
	assert.Equal(t, []string{"hi, how can we help?"}, f.messenger.SentTo("conv-1"))

	execs, err := f.store.ListExecutions(context.Background(), store.ExecutionFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, schema.ExecutionStatusCompleted, execs[0].Status)
}

func TestSubmitEvent_RedeliveredMatchTaskRunsOnce(t *testing.T) {
	f := newFixture(t)
	saveGreetingWorkflow(t, f.store)

	event := &schema.EventRecord{
		ID:              uuid.New().String(),
		Type:            schema.EventMessageReceived,
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		Payload:         map[string]any{"content": "hello there", "channel": "chat"},
		OccurredAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	taskID := uuid.New().String()
	require.NoError(t, f.store.EnqueueTask(context.Background(), &store.Task{
		ID:          taskID,
		Kind:        store.TaskMatchEvent,
		Payload:     payload,
		RunAt:       time.Now().UTC(),
		MaxAttempts: 3,
		Status:      store.TaskStatusPending,
	}))
	f.drainQueue(t)

	execs, err := f.store.ListExecutions(context.Background(), store.ExecutionFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, schema.ExecutionStatusCompleted, execs[0].Status)
	assert.Equal(t, event.ID, execs[0].EventID)

	// Redelivery: the consumed task comes back pending, as after a worker
	// crash between execute and acknowledge.
	require.NoError(t, f.store.RetryTask(context.Background(), taskID, time.Now().UTC(), ""))
	f.drainQueue(t)

	execs, err = f.store.ListExecutions(context.Background(), store.ExecutionFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	assert.Len(t, execs, 1)
	assert.Equal(t, []string{"hi, how can we help?"}, f.messenger.SentTo("conv-1"))
}

func TestSubmitEvent_NonMatchingEventNoExecution(t *testing.T) {
	f := newFixture(t)
	saveGreetingWorkflow(t, f.store)

	_, err := f.runner.SubmitEvent(context.Background(), &schema.EventRecord{
		Type:            schema.EventMessageReceived,
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		Payload:         map[string]any{"content": "goodbye", "channel": "chat"},
	})
	require.NoError(t, err)
	f.drainQueue(t)

	execs, err := f.store.ListExecutions(context.Background(), store.ExecutionFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestRunner_RetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.runner.cfg.Retry = RetryPolicy{Backoff: "none"}

	attempts := 0
	f.runner.RegisterHandler("flaky", func(ctx context.Context, task *store.Task) error {
		attempts++
		return schema.NewError(schema.ErrCodeCollaborator, "downstream down")
	})

	task := &store.Task{
		ID:          uuid.New().String(),
		Kind:        "flaky",
		Payload:     []byte(`{}`),
		RunAt:       time.Now().UTC(),
		MaxAttempts: 3,
		Status:      store.TaskStatusPending,
	}
	require.NoError(t, f.store.EnqueueTask(context.Background(), task))

	for i := 0; i < 6; i++ {
		require.NoError(t, f.runner.Poll(context.Background()))
		f.runner.Drain()
	}
	assert.Equal(t, 3, attempts)

	// The task must no longer be claimable.
	claimed, err := f.store.ClaimDueTasks(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRunner_NonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(t)

	attempts := 0
	f.runner.RegisterHandler("strict", func(ctx context.Context, task *store.Task) error {
		attempts++
		return schema.NewError(schema.ErrCodeValidation, "bad payload")
	})

	require.NoError(t, f.store.EnqueueTask(context.Background(), &store.Task{
		ID:          uuid.New().String(),
		Kind:        "strict",
		RunAt:       time.Now().UTC(),
		MaxAttempts: 5,
		Status:      store.TaskStatusPending,
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, f.runner.Poll(context.Background()))
		f.runner.Drain()
	}
	assert.Equal(t, 1, attempts)
}

func TestRunner_UnknownKindDeadLetters(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.EnqueueTask(context.Background(), &store.Task{
		ID:     uuid.New().String(),
		Kind:   "no_such_kind",
		RunAt:  time.Now().UTC(),
		Status: store.TaskStatusPending,
	}))

	require.NoError(t, f.runner.Poll(context.Background()))
	f.runner.Drain()

	claimed, err := f.store.ClaimDueTasks(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRunner_MessageRoutedToWaitingExecutionNotMatcher(t *testing.T) {
	f := newFixture(t)
	wfID := uuid.New().String()
	wf := &store.Workflow{
		ID:      wfID,
		OwnerID: "owner-1",
		Status:  schema.WorkflowStatusActive,
		Definition: schema.WorkflowDefinition{
			ID:      wfID,
			OwnerID: "owner-1",
			Status:  schema.WorkflowStatusActive,
			Nodes: []schema.Node{
				{ID: "start", Kind: schema.NodeKindWhen, Active: true, When: &schema.WhenConfig{
					EventKind: schema.EventMessageReceived, Keywords: []string{"hello"},
				}},
				{ID: "ask", Kind: schema.NodeKindWaiting, Active: true, Waiting: &schema.WaitConfig{
					Prompt: "what is your order number?", AnswerShape: "number",
				}},
				{ID: "ack", Kind: schema.NodeKindAction, Active: true, Action: &schema.ActionConfig{
					Type: "send_message", Params: []byte(`{"content":"looking it up"}`),
				}},
			},
			Edges: []schema.Edge{
				{Source: "start", Target: "ask", Kind: schema.EdgeSuccess},
				{Source: "ask", Target: "ack", Kind: schema.EdgeSuccess},
			},
		},
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))

	_, err := f.runner.SubmitEvent(context.Background(), &schema.EventRecord{
		Type:            schema.EventMessageReceived,
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		Payload:         map[string]any{"content": "hello", "channel": "chat"},
	})
	require.NoError(t, err)
	f.drainQueue(t)
	assert.Equal(t, []string{"what is your order number?"}, f.messenger.SentTo("conv-1"))

	// The follow-up contains the trigger keyword, but it must resume the
	// waiting execution instead of starting a second one.
	_, err = f.runner.SubmitEvent(context.Background(), &schema.EventRecord{
		Type:            schema.EventMessageReceived,
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		Payload:         map[string]any{"content": "12345", "channel": "chat"},
	})
	require.NoError(t, err)
	f.drainQueue(t)

	assert.Equal(t, []string{"what is your order number?", "looking it up"}, f.messenger.SentTo("conv-1"))
	execs, err := f.store.ListExecutions(context.Background(), store.ExecutionFilter{ConversationRef: "conv-1"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, schema.ExecutionStatusCompleted, execs[0].Status)
}

func TestEnqueueAction_DetachedRun(t *testing.T) {
	f := newFixture(t)
	id, err := f.runner.EnqueueAction(context.Background(), RunActionPayload{
		OwnerID:         "owner-1",
		ConversationRef: "conv-1",
		UserRef:         "user-1",
		ActionType:      "send_message",
		Params:          map[string]any{"content": "scheduled note"},
	}, time.Now().UTC())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, f.runner.Poll(context.Background()))
	f.runner.Drain()
	assert.Equal(t, []string{"scheduled note"}, f.messenger.SentTo("conv-1"))
}

func TestComputeBackoff(t *testing.T) {
	exp := RetryPolicy{Backoff: "exponential", Delay: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, ComputeBackoff(exp, 1))
	assert.Equal(t, 2*time.Second, ComputeBackoff(exp, 2))
	assert.Equal(t, 4*time.Second, ComputeBackoff(exp, 3))
	assert.Equal(t, 10*time.Second, ComputeBackoff(exp, 10))

	lin := RetryPolicy{Backoff: "linear", Delay: time.Second}
	assert.Equal(t, 3*time.Second, ComputeBackoff(lin, 3))

	assert.Equal(t, time.Duration(0), ComputeBackoff(RetryPolicy{Backoff: "none", Delay: time.Second}, 1))
	assert.Equal(t, time.Second, ComputeBackoff(RetryPolicy{Backoff: "constant", Delay: time.Second}, 7))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeCollaborator, "x")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeStore, "x")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeValidation, "x")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeOwnership, "x")))
}

func TestWorkerPool_ShutdownRejectsNewWork(t *testing.T) {
	p := NewWorkerPool(2)
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(done)
		return nil
	}))
	<-done
	p.Shutdown()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
	assert.Equal(t, int64(1), p.Metrics().Completed)
}
