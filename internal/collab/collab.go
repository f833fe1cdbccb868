// Package collab defines the contracts for the external subsystems the
// engine coordinates with: messaging, the AI responder, entitlements, and
// the customer/conversation stores. The engine only ever touches these
// through the interfaces; concrete adapters are injected at construction.
package collab

import (
	"context"
	"time"
)

// SendResult reports the outcome of an outbound message dispatch.
type SendResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
}

// Messenger persists and dispatches messages on the originating channel.
type Messenger interface {
	// Send delivers content to a conversation's channel.
	Send(ctx context.Context, conversation, content string) (SendResult, error)
	// MarkHandled flags an inbound message as answered so the separate AI
	// responder does not also reply to it.
	MarkHandled(ctx context.Context, messageRef string) error
}

// AIResponder is the external text-generation collaborator.
type AIResponder interface {
	// AskBoolean poses a strict true/false question about a message.
	// Implementations return the raw model reply; callers parse it.
	AskBoolean(ctx context.Context, prompt, messageText string) (string, error)
	// SetEnabled toggles the automatic responder for a conversation for ttl.
	SetEnabled(ctx context.Context, conversation string, enabled bool, ttl time.Duration) error
	// SetCustomPrompt biases the responder for a conversation for ttl.
	SetCustomPrompt(ctx context.Context, conversation, prompt string, ttl time.Duration) error
}

// Entitlements gates workflow execution on the owner's plan.
type Entitlements interface {
	IsActive(ctx context.Context, ownerID string) (bool, error)
}

// Customer is the subset of customer attributes the engine reads.
type Customer struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// CustomerDirectory reads and mutates tenant-scoped customer records.
type CustomerDirectory interface {
	Get(ctx context.Context, ownerID, userRef string) (*Customer, error)
	AddTag(ctx context.Context, ownerID, userRef, tag string) error
	RemoveTag(ctx context.Context, ownerID, userRef, tag string) error
	GetTags(ctx context.Context, ownerID, userRef string) ([]string, error)
	UpdateAttributes(ctx context.Context, ownerID, userRef string, attrs map[string]any) error
	AddNote(ctx context.Context, ownerID, userRef, note string) error
}

// Conversation service-queue states.
const (
	ConversationAutomated = "automated"
	ConversationQueued    = "queued"
	ConversationAssigned  = "assigned"
	ConversationClosed    = "closed"
)

// Conversation is the subset of conversation attributes the engine reads.
type Conversation struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	UserRef      string         `json:"user_ref,omitempty"`
	Channel      string         `json:"channel,omitempty"`
	Status       string         `json:"status,omitempty"`
	MessageCount int            `json:"message_count,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// ConversationDirectory resolves conversations and transitions their
// service-queue status.
type ConversationDirectory interface {
	Get(ctx context.Context, ref string) (*Conversation, error)
	// SetStatus transitions a conversation's service-queue status. Engines
	// only transition out of the fully-automated state; adapters may reject
	// other transitions.
	SetStatus(ctx context.Context, ref, status string) error
}
