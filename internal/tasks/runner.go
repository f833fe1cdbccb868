// Package tasks drives the durable work queue. Every effect that must
// survive a restart flows through a persisted task: event matching, wait
// timeouts, delayed continuations, detached action runs. Workers claim
// tasks optimistically, so multiple runner instances can share one store
// without double-processing.
package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/convohq/automation/internal/actions"
	"github.com/convohq/automation/internal/engine"
	"github.com/convohq/automation/internal/matcher"
	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/pkg/schema"
)

const (
	// DefaultPollInterval is how often the runner sweeps for due tasks.
	DefaultPollInterval = time.Second
	// DefaultBatchSize bounds one claim sweep.
	DefaultBatchSize = 32
	// DefaultMaxAttempts applies to tasks enqueued without an explicit cap.
	DefaultMaxAttempts = 5
)

// Handler processes one claimed task.
type Handler func(ctx context.Context, task *store.Task) error

// Config tunes the runner.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	Retry        RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Retry.Delay <= 0 {
		c.Retry = DefaultRetryPolicy
	}
	return c
}

// Runner polls the task queue and dispatches claimed tasks to handlers.
type Runner struct {
	store    store.Store
	matcher  *matcher.Matcher
	executor *engine.Executor
	registry *actions.Registry
	pool     *WorkerPool
	cfg      Config
	logger   *slog.Logger
	handlers map[string]Handler
	now      func() time.Time
}

func NewRunner(s store.Store, m *matcher.Matcher, x *engine.Executor, registry *actions.Registry, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	r := &Runner{
		store:    s,
		matcher:  m,
		executor: x,
		registry: registry,
		pool:     NewWorkerPool(cfg.Concurrency),
		cfg:      cfg,
		logger:   logger.With("component", "tasks"),
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
	r.handlers[store.TaskMatchEvent] = r.handleMatchEvent
	r.handlers[store.TaskResumeTimeout] = r.handleResumeTimeout
	r.handlers[store.TaskDelayedResume] = r.handleDelayedResume
	r.handlers[store.TaskRunAction] = r.handleRunAction
	return r
}

// RegisterHandler installs or replaces the handler for a task kind.
func (r *Runner) RegisterHandler(kind string, h Handler) {
	r.handlers[kind] = h
}

// Run polls until the context is cancelled, then drains in-flight work.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.pool.Shutdown()
			return
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("task poll failed", "error", err)
			}
		}
	}
}

// Poll claims one batch of due tasks and dispatches them. Exported so tests
// and callers with their own loop can drive the runner synchronously.
func (r *Runner) Poll(ctx context.Context) error {
	claimed, err := r.store.ClaimDueTasks(ctx, r.now().UTC(), r.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, task := range claimed {
		task := task
		if err := r.pool.Submit(ctx, func(ctx context.Context) error {
			return r.dispatch(ctx, task)
		}); err != nil {
			// Shutdown raced the claim. Put the task back for the next run.
			return r.store.RetryTask(ctx, task.ID, r.now().UTC(), "runner shutting down")
		}
	}
	return nil
}

// Drain waits for all dispatched tasks to finish. Test helper.
func (r *Runner) Drain() {
	r.pool.Wait()
}

// Metrics exposes the dispatch pool counters.
func (r *Runner) Metrics() PoolMetrics {
	return r.pool.Metrics()
}

func (r *Runner) dispatch(ctx context.Context, task *store.Task) error {
	handler, ok := r.handlers[task.Kind]
	if !ok {
		r.logger.Warn("unknown task kind", "task", task.ID, "kind", task.Kind)
		return r.store.DeadTask(ctx, task.ID, "unknown task kind: "+task.Kind)
	}

	err := handler(ctx, task)
	if err == nil {
		return r.store.CompleteTask(ctx, task.ID)
	}

	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if task.Attempts >= maxAttempts || !IsRetryableError(err) {
		r.logger.Error("task dead", "task", task.ID, "kind", task.Kind, "attempts", task.Attempts, "error", err)
		return r.store.DeadTask(ctx, task.ID, err.Error())
	}

	delay := ComputeBackoff(r.cfg.Retry, task.Attempts)
	r.logger.Warn("task retrying", "task", task.ID, "kind", task.Kind, "attempt", task.Attempts, "delay", delay, "error", err)
	return r.store.RetryTask(ctx, task.ID, r.now().UTC().Add(delay), err.Error())
}

// --- Submission ---

// SubmitEvent durably enqueues an event for matching and returns its ID.
// The caller gets an acknowledgement, not an outcome: matching and any
// executions happen asynchronously on the queue.
func (r *Runner) SubmitEvent(ctx context.Context, event *schema.EventRecord) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "marshal event").WithCause(err)
	}
	task := &store.Task{
		ID:          uuid.New().String(),
		Kind:        store.TaskMatchEvent,
		Payload:     payload,
		RunAt:       r.now().UTC(),
		MaxAttempts: DefaultMaxAttempts,
		Status:      store.TaskStatusPending,
	}
	if err := r.store.EnqueueTask(ctx, task); err != nil {
		return "", err
	}
	return event.ID, nil
}

// --- Built-in handlers ---

func (r *Runner) handleMatchEvent(ctx context.Context, task *store.Task) error {
	var event schema.EventRecord
	if err := json.Unmarshal(task.Payload, &event); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "malformed event payload").WithCause(err)
	}

	// A message on a conversation with a waiting execution is a reply, not
	// a fresh trigger.
	consumed, err := r.executor.TryResume(ctx, &event)
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}

	matches, err := r.matcher.Match(ctx, &event)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if _, err := r.executor.Begin(ctx, m, &event); err != nil {
			return err
		}
	}
	return nil
}

type continuationPayload struct {
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
}

func (r *Runner) handleResumeTimeout(ctx context.Context, task *store.Task) error {
	var p continuationPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "malformed continuation payload").WithCause(err)
	}
	return r.executor.HandleTimeout(ctx, p.ExecutionID, p.NodeID)
}

func (r *Runner) handleDelayedResume(ctx context.Context, task *store.Task) error {
	var p continuationPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "malformed continuation payload").WithCause(err)
	}
	return r.executor.ContinueDelayed(ctx, p.ExecutionID, p.NodeID)
}

// RunActionPayload describes one detached action run: an action executed on
// the queue, outside any graph traversal.
type RunActionPayload struct {
	OwnerID         string         `json:"owner_id"`
	ConversationRef string         `json:"conversation_ref,omitempty"`
	UserRef         string         `json:"user_ref,omitempty"`
	ActionType      string         `json:"action_type"`
	Params          map[string]any `json:"params,omitempty"`
	Env             map[string]any `json:"env,omitempty"`
}

// EnqueueAction durably schedules a detached action run at runAt.
func (r *Runner) EnqueueAction(ctx context.Context, p RunActionPayload, runAt time.Time) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "marshal action payload").WithCause(err)
	}
	task := &store.Task{
		ID:          uuid.New().String(),
		Kind:        store.TaskRunAction,
		Payload:     payload,
		RunAt:       runAt,
		MaxAttempts: DefaultMaxAttempts,
		Status:      store.TaskStatusPending,
	}
	if err := r.store.EnqueueTask(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

func (r *Runner) handleRunAction(ctx context.Context, task *store.Task) error {
	var p RunActionPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "malformed action payload").WithCause(err)
	}
	action, err := r.registry.Get(p.ActionType)
	if err != nil {
		return err
	}
	req := &actions.Request{
		OwnerID:         p.OwnerID,
		ConversationRef: p.ConversationRef,
		UserRef:         p.UserRef,
		Params:          p.Params,
		Env:             p.Env,
	}
	_, err = action.Execute(ctx, req)
	return err
}
