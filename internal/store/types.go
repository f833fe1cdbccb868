package store

import (
	"encoding/json"
	"time"

	"github.com/convohq/automation/pkg/schema"
)

// Workflow is the persisted representation of a workflow definition. The
// queryable columns (status, owner, priority) mirror fields inside the
// definition blob.
type Workflow struct {
	ID         string                    `json:"id"`
	OwnerID    string                    `json:"owner_id"`
	Status     schema.WorkflowStatus     `json:"status"`
	Priority   int                       `json:"priority"`
	Definition schema.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Execution is the persisted, resumable run of one workflow against one
// event/conversation. Context is an opaque structured blob that must
// tolerate unknown keys; the waiting continuation pointer lives inside it
// and is mirrored in WaitingNodeID for the atomic resume claim.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	OwnerID         string                 `json:"owner_id"`
	ConversationRef string                 `json:"conversation_ref,omitempty"`
	UserRef         string                 `json:"user_ref,omitempty"`
	EventID         string                 `json:"event_id,omitempty"`
	Status          schema.ExecutionStatus `json:"status"`
	WaitingNodeID   string                 `json:"waiting_node_id,omitempty"`
	TriggerSnapshot json.RawMessage        `json:"trigger_snapshot,omitempty"`
	Context         map[string]any         `json:"context,omitempty"`
	Result          json.RawMessage        `json:"result,omitempty"`
	Error           json.RawMessage        `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ActionExecution is the audit record of one action node outcome.
type ActionExecution struct {
	ID          string              `json:"id"`
	ExecutionID string              `json:"execution_id"`
	NodeID      string              `json:"node_id"`
	ActionType  string              `json:"action_type"`
	Status      schema.ActionStatus `json:"status"`
	Output      json.RawMessage     `json:"output,omitempty"`
	Error       json.RawMessage     `json:"error,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// UserResponse is the audit record of one raw user reply to a waiting node.
type UserResponse struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Content     string    `json:"content"`
	Valid       bool      `json:"valid"`
	ErrorCount  int       `json:"error_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEvent is an immutable entry in the append-only audit log.
type AuditEvent struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// Task kinds handled by the task runner.
const (
	TaskMatchEvent    = "match_event"
	TaskResumeTimeout = "resume_timeout"
	TaskDelayedResume = "delayed_resume"
	TaskRunAction     = "run_action"
)

// Task statuses.
const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusDead    = "dead"
)

// Task is one row of the durable work queue. Workers claim tasks via an
// optimistic status flip; RunAt in the future makes a scheduled continuation.
type Task struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Status      string          `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status  *schema.WorkflowStatus `json:"status,omitempty"`
	OwnerID string                 `json:"owner_id,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow.
type WorkflowUpdate struct {
	Status     *schema.WorkflowStatus     `json:"status,omitempty"`
	Priority   *int                       `json:"priority,omitempty"`
	Definition *schema.WorkflowDefinition `json:"definition,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID      string                   `json:"workflow_id,omitempty"`
	ConversationRef string                   `json:"conversation_ref,omitempty"`
	OwnerID         string                   `json:"owner_id,omitempty"`
	Statuses        []schema.ExecutionStatus `json:"statuses,omitempty"`
	Limit           int                      `json:"limit,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution.
type ExecutionUpdate struct {
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	Context     map[string]any          `json:"context,omitempty"`
	Result      json.RawMessage         `json:"result,omitempty"`
	Error       json.RawMessage         `json:"error,omitempty"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// AuditFilter specifies criteria for listing audit events.
type AuditFilter struct {
	ExecutionID string `json:"execution_id,omitempty"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}
