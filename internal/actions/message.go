package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

// sendDedupTTL is the window in which an identical outbound message to the
// same conversation is suppressed, covering channel delivery echoes.
const sendDedupTTL = 2 * time.Minute

// SendMessage delivers a templated message to the conversation's channel.
type SendMessage struct {
	messenger collab.Messenger
	state     *ttlstate.Store
	logger    *slog.Logger
}

func NewSendMessage(messenger collab.Messenger, state *ttlstate.Store, logger *slog.Logger) *SendMessage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendMessage{messenger: messenger, state: state, logger: logger}
}

func (a *SendMessage) Name() string { return "send_message" }

func (a *SendMessage) Execute(ctx context.Context, req *Request) (*Result, error) {
	content := Interpolate(stringParam(req.Params, "content", ""), req.Env)
	if content == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message requires content").WithNode(req.NodeID)
	}
	if req.ConversationRef == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message requires a conversation").WithNode(req.NodeID)
	}

	// First caller wins the dedup window; an identical send racing in from
	// a delivery echo is dropped silently.
	key := ttlstate.SendDedupKey(req.ConversationRef, content)
	if a.state != nil && !a.state.SetIfAbsent(key, true, sendDedupTTL) {
		a.logger.Debug("duplicate outbound suppressed", "conversation", req.ConversationRef)
		return &Result{Skipped: true}, nil
	}

	res, err := a.messenger.Send(ctx, req.ConversationRef, content)
	if err != nil {
		if a.state != nil {
			a.state.Clear(key)
		}
		return nil, schema.NewError(schema.ErrCodeCollaborator, "message dispatch failed").
			WithNode(req.NodeID).WithCause(err)
	}

	// Flag the inbound message as answered so the standalone AI responder
	// does not produce a second reply.
	if req.InboundMessageRef != "" {
		if err := a.messenger.MarkHandled(ctx, req.InboundMessageRef); err != nil {
			a.logger.Warn("mark handled failed", "message", req.InboundMessageRef, "error", err)
		}
	}

	return &Result{Output: map[string]any{
		"content":     content,
		"external_id": res.ExternalID,
	}}, nil
}

// CommentToDM answers a platform comment with a private reply and/or a
// public reply under the comment.
type CommentToDM struct {
	messenger collab.Messenger
	state     *ttlstate.Store
	logger    *slog.Logger
}

func NewCommentToDM(messenger collab.Messenger, state *ttlstate.Store, logger *slog.Logger) *CommentToDM {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommentToDM{messenger: messenger, state: state, logger: logger}
}

func (a *CommentToDM) Name() string { return "comment_to_dm" }

func (a *CommentToDM) Execute(ctx context.Context, req *Request) (*Result, error) {
	private := Interpolate(stringParam(req.Params, "private_message", ""), req.Env)
	public := Interpolate(stringParam(req.Params, "public_reply", ""), req.Env)
	if private == "" && public == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"comment_to_dm requires private_message or public_reply").WithNode(req.NodeID)
	}

	output := map[string]any{}
	if private != "" {
		if req.ConversationRef == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"comment_to_dm private reply requires a conversation").WithNode(req.NodeID)
		}
		res, err := a.messenger.Send(ctx, req.ConversationRef, private)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeCollaborator, "private reply failed").
				WithNode(req.NodeID).WithCause(err)
		}
		output["private_external_id"] = res.ExternalID
	}
	if public != "" {
		commentRef := stringParam(req.Params, "comment_ref", req.InboundMessageRef)
		if commentRef == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"comment_to_dm public reply requires comment_ref").WithNode(req.NodeID)
		}
		// Public replies address the comment thread, not the conversation.
		res, err := a.messenger.Send(ctx, commentRef, public)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeCollaborator, "public reply failed").
				WithNode(req.NodeID).WithCause(err)
		}
		output["public_external_id"] = res.ExternalID
	}
	return &Result{Output: output}, nil
}
