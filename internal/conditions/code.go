package conditions

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/convohq/automation/pkg/schema"
)

// DefaultCodeBudget is the hard wall-clock limit for one code predicate.
const DefaultCodeBudget = 200 * time.Millisecond

// CodeSandbox evaluates authored expressions with expr-lang under an
// allow-listed function environment and a hard time budget. Compiled
// *vm.Program objects are cached and reused across goroutines.
type CodeSandbox struct {
	mu     sync.RWMutex
	cache  map[string]*vm.Program
	budget time.Duration
	logger *slog.Logger
}

func NewCodeSandbox(budget time.Duration, logger *slog.Logger) *CodeSandbox {
	if budget <= 0 {
		budget = DefaultCodeBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeSandbox{
		cache:  make(map[string]*vm.Program),
		budget: budget,
		logger: logger,
	}
}

// EvalBool runs source against env and coerces the result to a boolean.
// Compile errors, runtime faults, non-boolean-coercible results, and budget
// overruns all evaluate to false; predicates fail closed.
func (s *CodeSandbox) EvalBool(ctx context.Context, source string, env map[string]any) bool {
	out, err := s.Eval(ctx, source, env)
	if err != nil {
		s.logger.Warn("code predicate failed", "error", err)
		return false
	}
	return coerceBool(out)
}

// Eval runs source against env and returns the raw result. The same budget
// and sandbox rules apply; callers that need a boolean use EvalBool.
func (s *CodeSandbox) Eval(ctx context.Context, source string, env map[string]any) (any, error) {
	if source == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty code source")
	}

	scope := s.buildScope(env)

	prg, err := s.getOrCompile(source, scope)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodePredicate, "code compile failed").WithCause(err)
	}

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: panicErr{r}}
			}
		}()
		out, err := vm.Run(prg, scope)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, schema.NewError(schema.ErrCodePredicate, "code evaluation failed").WithCause(r.err)
		}
		return r.out, nil
	case <-time.After(s.budget):
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "code evaluation exceeded %s budget", s.budget)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CodeSandbox) getOrCompile(source string, scope map[string]any) (*vm.Program, error) {
	s.mu.RLock()
	if prg, ok := s.cache[source]; ok {
		s.mu.RUnlock()
		return prg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prg, ok := s.cache[source]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(source,
		expr.Env(scope),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	s.cache[source] = prg
	return prg, nil
}

// buildScope copies the evaluation context and layers the allow-listed
// helper functions on top. Nothing outside this scope is reachable from
// authored code.
func (s *CodeSandbox) buildScope(env map[string]any) map[string]any {
	scope := make(map[string]any, len(env)+8)
	for k, v := range env {
		scope[k] = v
	}
	scope["length"] = func(v any) int {
		switch x := v.(type) {
		case string:
			return len(x)
		case []any:
			return len(x)
		case []string:
			return len(x)
		case map[string]any:
			return len(x)
		default:
			return 0
		}
	}
	scope["abs"] = func(v any) float64 {
		f, _ := asNumber(v)
		return math.Abs(f)
	}
	scope["min"] = func(a, b any) float64 {
		fa, _ := asNumber(a)
		fb, _ := asNumber(b)
		return math.Min(fa, fb)
	}
	scope["max"] = func(a, b any) float64 {
		fa, _ := asNumber(a)
		fb, _ := asNumber(b)
		return math.Max(fa, fb)
	}
	scope["number"] = func(v any) float64 {
		f, _ := asNumber(v)
		return f
	}
	scope["matches"] = func(value, pattern string) bool {
		matched, err := regexp.MatchString(pattern, value)
		return err == nil && matched
	}
	scope["get_nested"] = func(path string, def any) any {
		return GetNested(path, env, def)
	}
	return scope
}

func coerceBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x == "true"
	default:
		return false
	}
}

type panicErr struct{ v any }

func (p panicErr) Error() string { return "panic in code predicate" }
