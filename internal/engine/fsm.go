package engine

import (
	"context"
	"sync"

	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/pkg/schema"
)

// TransitionHook is called before or after an execution state transition.
type TransitionHook func(from, to schema.ExecutionStatus) error

// AuditAppender is satisfied by the Store; FSM transitions emit audit
// events through it.
type AuditAppender interface {
	AppendAudit(ctx context.Context, event *store.AuditEvent) error
}

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM validates execution lifecycle transitions and emits the
// corresponding audit events. The caller persists the new status.
type ExecutionFSM struct {
	mu       sync.Mutex
	appender AuditAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

func NewExecutionFSM(appender AuditAppender) *ExecutionFSM {
	return &ExecutionFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes an execution state transition, emitting
// the matching audit event.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID, workflowID string, from, to schema.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if eventType := auditTypeFor(from, to); eventType != "" {
		event := &store.AuditEvent{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			Type:        eventType,
		}
		if err := f.appender.AppendAudit(ctx, event); err != nil {
			return schema.NewError(schema.ErrCodeStore, "emit transition audit").WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// ValidTransitions is the execution lifecycle table. Waiting and Running
// cycle: a waiting execution resumes, and a running one can wait again.
var ValidTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusWaiting, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusWaiting:   {schema.ExecutionStatusRunning, schema.ExecutionStatusTimedOut, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusTimedOut:  {},
	schema.ExecutionStatusCancelled: {},
}

func isValidTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func auditTypeFor(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		if from == schema.ExecutionStatusWaiting {
			return schema.AuditExecutionResumed
		}
		return schema.AuditExecutionStarted
	case schema.ExecutionStatusCompleted:
		return schema.AuditExecutionCompleted
	case schema.ExecutionStatusFailed:
		return schema.AuditExecutionFailed
	case schema.ExecutionStatusWaiting:
		return schema.AuditExecutionWaiting
	case schema.ExecutionStatusTimedOut:
		return schema.AuditExecutionTimedOut
	case schema.ExecutionStatusCancelled:
		return schema.AuditExecutionCancelled
	default:
		return ""
	}
}
