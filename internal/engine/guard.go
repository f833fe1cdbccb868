package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// GuardEngine evaluates edge guard expressions written in CEL. Guards are
// pure boolean expressions over the evaluation context; they cannot perform
// side effects. Compiled programs are cached per expression.
type GuardEngine struct {
	env    *cel.Env
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewGuardEngine builds the CEL environment with the evaluation context
// variables declared.
func NewGuardEngine(logger *slog.Logger) (*GuardEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("conversation", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("message_content", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("reply", cel.StringType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return &GuardEngine{
		env:    env,
		logger: logger.With("component", "guards"),
		cache:  make(map[string]cel.Program),
	}, nil
}

// EvalGuard evaluates a guard against the environment. An empty guard always
// passes. Compile and evaluation faults fail closed: the edge does not match.
func (g *GuardEngine) EvalGuard(ctx context.Context, expression string, env map[string]any) bool {
	if expression == "" {
		return true
	}

	prg, err := g.program(expression)
	if err != nil {
		g.logger.WarnContext(ctx, "guard failed to compile, treating as non-matching", "guard", expression, "error", err)
		return false
	}

	out, _, err := prg.ContextEval(ctx, guardActivation(env))
	if err != nil {
		g.logger.WarnContext(ctx, "guard evaluation failed, treating as non-matching", "guard", expression, "error", err)
		return false
	}
	b, ok := out.Value().(bool)
	if !ok {
		g.logger.WarnContext(ctx, "guard did not produce a boolean, treating as non-matching", "guard", expression)
		return false
	}
	return b
}

func (g *GuardEngine) program(expression string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.cache[expression]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, ok := g.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling guard: %w", issues.Err())
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building guard program: %w", err)
	}
	g.cache[expression] = prg
	return prg, nil
}

// guardActivation narrows the evaluation environment to the declared
// variables, supplying empty defaults so undeclared lookups do not error.
func guardActivation(env map[string]any) map[string]any {
	act := map[string]any{
		"event":           map[string]any{},
		"user":            map[string]any{},
		"conversation":    map[string]any{},
		"message_content": "",
		"channel":         "",
		"reply":           "",
		"now":             time.Now(),
	}
	for _, key := range []string{"event", "user", "conversation"} {
		if m, ok := env[key].(map[string]any); ok {
			act[key] = m
		}
	}
	for _, key := range []string{"message_content", "channel", "reply"} {
		if s, ok := env[key].(string); ok {
			act[key] = s
		}
	}
	if now, ok := env["now"]; ok {
		act["now"] = now
	}
	return act
}
