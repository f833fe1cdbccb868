package schema

import (
	"encoding/json"
	"time"
)

// WorkflowStatus is the authoring lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// WorkflowDefinition is the JSON-serializable workflow format: a graph of
// nodes and edges, or for legacy definitions an ordered flat rule list.
type WorkflowDefinition struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Status   WorkflowStatus `json:"status"`
	OwnerID  string         `json:"owner_id"`
	Priority int            `json:"priority,omitempty"`

	// Validity window. Nil bounds are open.
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// RunOncePerConversation suppresses re-matching against a conversation
	// that already has a completed execution of this workflow.
	RunOncePerConversation bool `json:"run_once_per_conversation,omitempty"`

	Nodes []Node `json:"nodes,omitempty"`
	Edges []Edge `json:"edges,omitempty"`

	// Rules is the legacy flat trigger/condition/action list. Populated only
	// for definitions that predate the node graph format.
	Rules []LegacyRule `json:"rules,omitempty"`
}

// NodeKind enumerates the closed set of node variants.
type NodeKind string

const (
	NodeKindWhen      NodeKind = "when"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindWaiting   NodeKind = "waiting"
)

// Node is the common envelope shared by all node kinds. Exactly one of the
// kind-specific config fields is set, matching Kind.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Title    string   `json:"title,omitempty"`
	Position int      `json:"position,omitempty"`
	Active   bool     `json:"active"`

	When      *WhenConfig      `json:"when,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Waiting   *WaitConfig      `json:"waiting,omitempty"`
}

// WhenConfig encodes which event kind (and filters) starts a run.
type WhenConfig struct {
	EventKind EventType `json:"event_kind"`

	// Keywords match when any appears in the message content (case-insensitive).
	Keywords []string `json:"keywords,omitempty"`
	// Channels restricts matching to the listed channels; "all" or an empty
	// list matches every channel.
	Channels []string `json:"channels,omitempty"`
	// RequiredTags must ALL be present on the customer.
	RequiredTags []string `json:"required_tags,omitempty"`
	// Schedule is a cron expression for time-based triggers.
	Schedule string `json:"schedule,omitempty"`
	// Comment filters apply to platform_comment events.
	Comment *CommentFilter `json:"comment,omitempty"`
}

// CommentFilter narrows platform comment triggers.
type CommentFilter struct {
	PostIDs    []string `json:"post_ids,omitempty"`
	MediaTypes []string `json:"media_types,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// ConditionConfig is an AND/OR combinator over typed predicates.
type ConditionConfig struct {
	Operator   string      `json:"operator"` // "and" | "or"
	Predicates []Predicate `json:"predicates"`
}

// PredicateType enumerates the predicate variants.
type PredicateType string

const (
	PredicateMessage PredicateType = "message"
	PredicateCode    PredicateType = "code"
	PredicateAI      PredicateType = "ai"
)

// Predicate is a single boolean test over the evaluation context.
type Predicate struct {
	Type PredicateType `json:"type"`

	// Message predicate: operator applied to the value at Path.
	Path     string `json:"path,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`

	// Code predicate: sandboxed expression source.
	Source string `json:"source,omitempty"`

	// AI predicate: prompt for the boolean question.
	Prompt string `json:"prompt,omitempty"`

	// Group allows nesting combinators inside a predicate list.
	Group *ConditionConfig `json:"group,omitempty"`
}

// ActionConfig describes a typed side-effecting action.
type ActionConfig struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	// Required actions abort the execution on failure; optional ones are
	// recorded and skipped.
	Required bool `json:"required,omitempty"`
	// DelaySeconds defers the rest of the branch without blocking a worker.
	DelaySeconds int `json:"delay_seconds,omitempty"`
}

// WaitConfig describes a suspension point awaiting a follow-up reply.
type WaitConfig struct {
	Prompt         string   `json:"prompt,omitempty"`
	AnswerShape    string   `json:"answer_shape,omitempty"` // text | number | email | yes_no
	AllowedErrors  int      `json:"allowed_errors,omitempty"`
	ExitKeywords   []string `json:"exit_keywords,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// EdgeKind enumerates edge outcome classes.
type EdgeKind string

const (
	EdgeSuccess EdgeKind = "success"
	EdgeFailure EdgeKind = "failure"
	EdgeTimeout EdgeKind = "timeout"
	EdgeSkip    EdgeKind = "skip"
)

// Edge connects two nodes. Guard is an optional CEL expression over the
// evaluation context; a false guard makes the edge non-matching.
type Edge struct {
	ID     string   `json:"id,omitempty"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
	Guard  string   `json:"guard,omitempty"`
}

// LegacyRule is one entry of the legacy flat association list: a trigger
// filter plus an ordered action, evaluated in stored order.
type LegacyRule struct {
	EventKind EventType        `json:"event_kind"`
	Filter    *ConditionConfig `json:"filter,omitempty"`
	Action    ActionConfig     `json:"action"`
	Position  int              `json:"position"`
}
