package actions

import (
	"context"
	"time"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

// defaultAITTL bounds AI-responder toggles and prompt overrides when the
// workflow does not set its own duration.
const defaultAITTL = 30 * time.Minute

// ControlAIResponse enables or disables the external AI responder for the
// conversation for a bounded time.
type ControlAIResponse struct {
	ai    collab.AIResponder
	state *ttlstate.Store
}

func NewControlAIResponse(ai collab.AIResponder, state *ttlstate.Store) *ControlAIResponse {
	return &ControlAIResponse{ai: ai, state: state}
}

func (a *ControlAIResponse) Name() string { return "control_ai_response" }

func (a *ControlAIResponse) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.ConversationRef == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "control_ai_response requires a conversation").WithNode(req.NodeID)
	}
	enabled := boolParam(req.Params, "enabled", false)
	ttl := ttlFromParams(req.Params)

	if err := a.ai.SetEnabled(ctx, req.ConversationRef, enabled, ttl); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "toggle ai responder failed").WithNode(req.NodeID).WithCause(err)
	}
	if a.state != nil {
		a.state.Set(ttlstate.AIGateKey(req.ConversationRef), enabled, ttl)
	}
	return &Result{Output: map[string]any{"enabled": enabled, "ttl_seconds": int(ttl.Seconds())}}, nil
}

// UpdateAIContext installs a temporary custom prompt biasing the responder.
type UpdateAIContext struct {
	ai    collab.AIResponder
	state *ttlstate.Store
}

func NewUpdateAIContext(ai collab.AIResponder, state *ttlstate.Store) *UpdateAIContext {
	return &UpdateAIContext{ai: ai, state: state}
}

func (a *UpdateAIContext) Name() string { return "update_ai_context" }

func (a *UpdateAIContext) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.ConversationRef == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_ai_context requires a conversation").WithNode(req.NodeID)
	}
	prompt := Interpolate(stringParam(req.Params, "prompt", ""), req.Env)
	if prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_ai_context requires prompt").WithNode(req.NodeID)
	}
	ttl := ttlFromParams(req.Params)

	if err := a.ai.SetCustomPrompt(ctx, req.ConversationRef, prompt, ttl); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "set ai prompt failed").WithNode(req.NodeID).WithCause(err)
	}
	if a.state != nil {
		a.state.Set(ttlstate.AIPromptKey(req.ConversationRef), prompt, ttl)
	}
	return &Result{Output: map[string]any{"ttl_seconds": int(ttl.Seconds())}}, nil
}

func ttlFromParams(params map[string]any) time.Duration {
	if secs := intParam(params, "ttl_seconds", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultAITTL
}
