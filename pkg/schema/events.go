package schema

// Audit event type constants for the append-only execution log.
const (
	AuditExecutionStarted   = "execution_started"
	AuditExecutionCompleted = "execution_completed"
	AuditExecutionFailed    = "execution_failed"
	AuditExecutionCancelled = "execution_cancelled"
	AuditExecutionWaiting   = "execution_waiting"
	AuditExecutionResumed   = "execution_resumed"
	AuditExecutionTimedOut  = "execution_timed_out"

	AuditNodeEntered     = "node_entered"
	AuditActionCompleted = "action_completed"
	AuditActionFailed    = "action_failed"
	AuditActionSkipped   = "action_skipped"
	AuditActionRetrying  = "action_retrying"

	AuditUserResponse       = "user_response"
	AuditReprompt           = "reprompt"
	AuditConditionEvaluated = "condition_evaluated"

	AuditEventDropped        = "event_dropped"
	AuditOwnershipViolation  = "ownership_violation"
	AuditEntitlementDenied   = "entitlement_denied"
	AuditScheduleTriggered   = "schedule_triggered"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled:
		return true
	}
	return false
}

// ActionStatus represents the lifecycle state of a single action execution.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusSkipped   ActionStatus = "skipped"
)

// EventType enumerates the business events the engine ingests.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventNewCustomer     EventType = "new_customer"
	EventTagAdded        EventType = "tag_added"
	EventSchedule        EventType = "schedule"
	EventPlatformComment EventType = "platform_comment"
)

// KnownEventTypes is the closed set of ingestible event types.
var KnownEventTypes = map[EventType]bool{
	EventMessageReceived: true,
	EventNewCustomer:     true,
	EventTagAdded:        true,
	EventSchedule:        true,
	EventPlatformComment: true,
}
