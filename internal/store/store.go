package store

import (
	"context"
	"time"

	"github.com/convohq/automation/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Executions
	CreateExecution(ctx context.Context, ex *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// HasActiveExecution reports whether a running or waiting execution
	// exists for (workflow, conversation). Used by the matcher dedup check.
	HasActiveExecution(ctx context.Context, workflowID, conversationRef string) (bool, error)
	// HasCompletedExecution reports whether a completed execution exists for
	// (workflow, conversation). Used by the run-once-per-conversation guard.
	HasCompletedExecution(ctx context.Context, workflowID, conversationRef string) (bool, error)
	// HasExecutionForEvent reports whether any execution was already started
	// for (workflow, event). A redelivered match task must not fire twice.
	HasExecutionForEvent(ctx context.Context, workflowID, eventID string) (bool, error)

	// MarkWaiting atomically parks a running execution on a waiting node.
	MarkWaiting(ctx context.Context, executionID, nodeID string, execCtx map[string]any) error
	// ClaimWaiting atomically transitions waiting→running if and only if the
	// execution is still waiting on nodeID. Returns false when another
	// worker won the claim or the execution moved on (stale resume/timeout).
	ClaimWaiting(ctx context.Context, executionID, nodeID string) (bool, error)

	// Action executions
	CreateActionExecution(ctx context.Context, ae *ActionExecution) error
	UpdateActionExecution(ctx context.Context, id string, status schema.ActionStatus, output, errInfo []byte) error
	ListActionExecutions(ctx context.Context, executionID string) ([]*ActionExecution, error)
	// FailPendingActions marks all pending/running action records of an
	// execution as failed. Used by administrative cancellation.
	FailPendingActions(ctx context.Context, executionID string, errInfo []byte) error

	// User responses
	CreateUserResponse(ctx context.Context, ur *UserResponse) error
	ListUserResponses(ctx context.Context, executionID string) ([]*UserResponse, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, event *AuditEvent) error
	GetAudit(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error)

	// Task queue
	EnqueueTask(ctx context.Context, task *Task) error
	// ClaimDueTasks atomically flips up to limit due pending tasks to
	// running and returns them. Two pollers never receive the same task.
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*Task, error)
	CompleteTask(ctx context.Context, id string) error
	// RetryTask reschedules a failed task for runAt, recording the error.
	RetryTask(ctx context.Context, id string, runAt time.Time, lastError string) error
	// DeadTask marks a task permanently failed.
	DeadTask(ctx context.Context, id string, lastError string) error

	// Secrets (encrypted blobs; sealing happens in the vault layer)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
