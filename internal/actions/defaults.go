package actions

import (
	"log/slog"
	"net/http"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/internal/secrets"
	"github.com/convohq/automation/internal/ttlstate"
)

// Deps bundles the collaborators the built-in actions need.
type Deps struct {
	Messenger     collab.Messenger
	AI            collab.AIResponder
	Customers     collab.CustomerDirectory
	Conversations collab.ConversationDirectory
	State         *ttlstate.Store
	Sandbox       *conditions.CodeSandbox
	HTTPClient    *http.Client
	Vault         secrets.Vault
	Logger        *slog.Logger
}

// DefaultRegistry builds a registry with the full built-in action set.
// The `delay` action type is intentionally absent: delays are a traversal
// concern the engine schedules itself, never a blocking action.
func DefaultRegistry(d Deps) (*Registry, error) {
	r := NewRegistry()
	builtins := []Action{
		NewSendMessage(d.Messenger, d.State, d.Logger),
		NewCommentToDM(d.Messenger, d.State, d.Logger),
		NewAddTag(d.Customers),
		NewRemoveTag(d.Customers),
		NewUpdateUser(d.Customers),
		NewAddNote(d.Customers),
		NewRedirectConversation(d.Conversations),
		NewSetConversationStatus(d.Conversations),
		NewControlAIResponse(d.AI, d.State),
		NewUpdateAIContext(d.AI, d.State),
		NewWebhook(d.HTTPClient, d.Vault, d.Logger),
		NewCustomCode(d.Sandbox),
	}
	for _, a := range builtins {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}
