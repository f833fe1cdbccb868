package actions

import (
	"context"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/pkg/schema"
)

// customerAction holds the shared plumbing of the customer mutations.
type customerAction struct {
	customers collab.CustomerDirectory
}

func (a *customerAction) requireUser(req *Request) error {
	if req.UserRef == "" {
		return schema.NewError(schema.ErrCodeValidation, "action requires a customer reference").WithNode(req.NodeID)
	}
	return nil
}

// AddTag attaches a tag to the customer.
type AddTag struct{ customerAction }

func NewAddTag(customers collab.CustomerDirectory) *AddTag {
	return &AddTag{customerAction{customers: customers}}
}

func (a *AddTag) Name() string { return "add_tag" }

func (a *AddTag) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := a.requireUser(req); err != nil {
		return nil, err
	}
	tag := stringParam(req.Params, "tag", "")
	if tag == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "add_tag requires tag").WithNode(req.NodeID)
	}
	if err := a.customers.AddTag(ctx, req.OwnerID, req.UserRef, tag); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "add tag failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"tag": tag}}, nil
}

// RemoveTag detaches a tag from the customer.
type RemoveTag struct{ customerAction }

func NewRemoveTag(customers collab.CustomerDirectory) *RemoveTag {
	return &RemoveTag{customerAction{customers: customers}}
}

func (a *RemoveTag) Name() string { return "remove_tag" }

func (a *RemoveTag) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := a.requireUser(req); err != nil {
		return nil, err
	}
	tag := stringParam(req.Params, "tag", "")
	if tag == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "remove_tag requires tag").WithNode(req.NodeID)
	}
	if err := a.customers.RemoveTag(ctx, req.OwnerID, req.UserRef, tag); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "remove tag failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"tag": tag}}, nil
}

// UpdateUser merges attribute updates into the customer record. Values are
// interpolated against the evaluation context.
type UpdateUser struct{ customerAction }

func NewUpdateUser(customers collab.CustomerDirectory) *UpdateUser {
	return &UpdateUser{customerAction{customers: customers}}
}

func (a *UpdateUser) Name() string { return "update_user" }

func (a *UpdateUser) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := a.requireUser(req); err != nil {
		return nil, err
	}
	attrs := mapParam(req.Params, "attributes")
	if len(attrs) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_user requires attributes").WithNode(req.NodeID)
	}
	resolved := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok {
			resolved[k] = Interpolate(s, req.Env)
			continue
		}
		resolved[k] = v
	}
	if err := a.customers.UpdateAttributes(ctx, req.OwnerID, req.UserRef, resolved); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "update attributes failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"attributes": resolved}}, nil
}

// AddNote appends an internal note to the customer record.
type AddNote struct{ customerAction }

func NewAddNote(customers collab.CustomerDirectory) *AddNote {
	return &AddNote{customerAction{customers: customers}}
}

func (a *AddNote) Name() string { return "add_note" }

func (a *AddNote) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := a.requireUser(req); err != nil {
		return nil, err
	}
	note := Interpolate(stringParam(req.Params, "note", ""), req.Env)
	if note == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "add_note requires note").WithNode(req.NodeID)
	}
	if err := a.customers.AddNote(ctx, req.OwnerID, req.UserRef, note); err != nil {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "add note failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"note": note}}, nil
}
