package actions

import (
	"context"

	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/pkg/schema"
)

// CustomCode runs an authored expression in the same sandbox the condition
// evaluator uses and records its value.
type CustomCode struct {
	sandbox *conditions.CodeSandbox
}

func NewCustomCode(sandbox *conditions.CodeSandbox) *CustomCode {
	return &CustomCode{sandbox: sandbox}
}

func (a *CustomCode) Name() string { return "custom_code" }

func (a *CustomCode) Execute(ctx context.Context, req *Request) (*Result, error) {
	source := stringParam(req.Params, "source", "")
	if source == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "custom_code requires source").WithNode(req.NodeID)
	}
	out, err := a.sandbox.Eval(ctx, source, req.Env)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAction, "custom code failed").WithNode(req.NodeID).WithCause(err)
	}
	return &Result{Output: map[string]any{"value": out}}, nil
}
