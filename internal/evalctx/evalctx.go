// Package evalctx assembles the evaluation context handed to predicates,
// guards, and interpolation. The context is a plain namespaced map so the
// condition evaluator, the expr sandbox, and CEL guards all read the same
// shape.
package evalctx

import (
	"context"
	"log/slog"
	"time"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/pkg/schema"
)

// Builder resolves event references into a full evaluation context.
type Builder struct {
	customers     collab.CustomerDirectory
	conversations collab.ConversationDirectory
	logger        *slog.Logger
}

func NewBuilder(customers collab.CustomerDirectory, conversations collab.ConversationDirectory, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{customers: customers, conversations: conversations, logger: logger}
}

// Build returns the namespaced evaluation context for an event. Lookups
// that fail degrade to minimal stubs carrying just the reference; Build
// never returns an error because predicate evaluation must stay total.
func (b *Builder) Build(ctx context.Context, ownerID string, event *schema.EventRecord) map[string]any {
	out := map[string]any{
		"event": map[string]any{
			"id":      event.ID,
			"type":    string(event.Type),
			"payload": event.Payload,
		},
		"message_content": event.MessageContent(),
		"channel":         event.Channel(),
		"now":             time.Now().UTC().Format(time.RFC3339),
	}

	out["conversation"] = b.conversationScope(ctx, event)
	out["user"] = b.userScope(ctx, ownerID, event)
	return out
}

func (b *Builder) conversationScope(ctx context.Context, event *schema.EventRecord) map[string]any {
	if event.ConversationRef == "" {
		return map[string]any{}
	}
	conv, err := b.conversations.Get(ctx, event.ConversationRef)
	if err != nil {
		b.logger.Debug("conversation lookup failed, using stub",
			"conversation", event.ConversationRef, "error", err)
		return map[string]any{"id": event.ConversationRef}
	}
	scope := map[string]any{
		"id":            conv.ID,
		"channel":       conv.Channel,
		"status":        conv.Status,
		"message_count": conv.MessageCount,
	}
	for k, v := range conv.Attributes {
		scope[k] = v
	}
	return scope
}

func (b *Builder) userScope(ctx context.Context, ownerID string, event *schema.EventRecord) map[string]any {
	if event.UserRef == "" {
		return map[string]any{}
	}
	if ownerID == "" {
		return map[string]any{"id": event.UserRef}
	}
	cust, err := b.customers.Get(ctx, ownerID, event.UserRef)
	if err != nil {
		b.logger.Debug("customer lookup failed, using stub",
			"user", event.UserRef, "error", err)
		return map[string]any{"id": event.UserRef}
	}
	scope := map[string]any{
		"id":   cust.ID,
		"name": cust.Name,
		"tags": cust.Tags,
	}
	for k, v := range cust.Attributes {
		scope[k] = v
	}
	return scope
}
