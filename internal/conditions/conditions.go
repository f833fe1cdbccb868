// Package conditions implements the predicate evaluator: typed message
// comparisons, sandboxed code predicates, AI boolean questions, and the
// AND/OR combinator over them. Every exported entry point is total — it
// returns a boolean and logs internal faults instead of surfacing them,
// because a broken predicate must never take the event pipeline down.
package conditions

import (
	"context"
	"log/slog"
	"time"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/pkg/schema"
)

// Evaluator evaluates condition groups against an evaluation context.
type Evaluator struct {
	sandbox  *CodeSandbox
	ai       collab.AIResponder
	aiBudget time.Duration
	logger   *slog.Logger
}

func NewEvaluator(sandbox *CodeSandbox, ai collab.AIResponder, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if sandbox == nil {
		sandbox = NewCodeSandbox(0, logger)
	}
	return &Evaluator{
		sandbox:  sandbox,
		ai:       ai,
		aiBudget: DefaultAIBudget,
		logger:   logger,
	}
}

// EvalGroup applies the group's combinator over its predicates. A nil group
// or an empty predicate list is vacuously true.
func (e *Evaluator) EvalGroup(ctx context.Context, group *schema.ConditionConfig, env map[string]any) bool {
	if group == nil || len(group.Predicates) == 0 {
		return true
	}
	if group.Operator == "or" {
		for _, p := range group.Predicates {
			if e.EvalPredicate(ctx, p, env) {
				return true
			}
		}
		return false
	}
	// Default combinator is AND.
	for _, p := range group.Predicates {
		if !e.EvalPredicate(ctx, p, env) {
			return false
		}
	}
	return true
}

// EvalPredicate evaluates a single predicate. Unknown types and unknown
// operators evaluate to false.
func (e *Evaluator) EvalPredicate(ctx context.Context, p schema.Predicate, env map[string]any) bool {
	if p.Group != nil {
		return e.EvalGroup(ctx, p.Group, env)
	}

	switch p.Type {
	case schema.PredicateMessage:
		actual := GetNested(p.Path, env, nil)
		ok, err := Compare(p.Operator, actual, p.Value)
		if err != nil {
			e.logger.Warn("message predicate has unknown operator",
				"operator", p.Operator, "path", p.Path)
			return false
		}
		return ok

	case schema.PredicateCode:
		return e.sandbox.EvalBool(ctx, p.Source, env)

	case schema.PredicateAI:
		message, _ := env["message_content"].(string)
		return e.evalAI(ctx, p.Prompt, message)
	}

	e.logger.Warn("unknown predicate type", "type", string(p.Type))
	return false
}
