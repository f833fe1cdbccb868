package actions

import (
	"context"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/pkg/schema"
)

// RedirectConversation hands the conversation from automation to a human
// queue or agent. It only acts while the conversation is fully automated;
// a conversation a human already touched is left alone.
type RedirectConversation struct {
	conversations collab.ConversationDirectory
}

func NewRedirectConversation(conversations collab.ConversationDirectory) *RedirectConversation {
	return &RedirectConversation{conversations: conversations}
}

func (a *RedirectConversation) Name() string { return "redirect_conversation" }

func (a *RedirectConversation) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.ConversationRef == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "redirect_conversation requires a conversation").WithNode(req.NodeID)
	}
	target := stringParam(req.Params, "target", collab.ConversationQueued)

	conv, err := a.conversations.Get(ctx, req.ConversationRef)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "load conversation failed").WithNode(req.NodeID).WithCause(err)
	}
	if conv.Status != collab.ConversationAutomated {
		return &Result{Skipped: true, Output: map[string]any{"status": conv.Status}}, nil
	}
	if err := a.conversations.SetStatus(ctx, req.ConversationRef, target); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "redirect failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"status": target}}, nil
}

// SetConversationStatus sets an explicit conversation state. Like
// RedirectConversation it only acts while the conversation is fully
// automated; a conversation a human already touched is left alone.
type SetConversationStatus struct {
	conversations collab.ConversationDirectory
}

func NewSetConversationStatus(conversations collab.ConversationDirectory) *SetConversationStatus {
	return &SetConversationStatus{conversations: conversations}
}

func (a *SetConversationStatus) Name() string { return "set_conversation_status" }

func (a *SetConversationStatus) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.ConversationRef == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "set_conversation_status requires a conversation").WithNode(req.NodeID)
	}
	status := stringParam(req.Params, "status", "")
	switch status {
	case collab.ConversationAutomated, collab.ConversationQueued, collab.ConversationAssigned, collab.ConversationClosed:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown conversation status %q", status).WithNode(req.NodeID)
	}

	conv, err := a.conversations.Get(ctx, req.ConversationRef)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "load conversation failed").WithNode(req.NodeID).WithCause(err)
	}
	if conv.Status != collab.ConversationAutomated {
		return &Result{Skipped: true, Output: map[string]any{"status": conv.Status}}, nil
	}
	if err := a.conversations.SetStatus(ctx, req.ConversationRef, status); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "set status failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"status": status}}, nil
}
