// Package actions implements the typed side-effect vocabulary of workflow
// action nodes. Each action is a small, registered unit; the engine looks
// actions up by type and runs them with a tenant-scoped request.
package actions

import (
	"context"
	"encoding/json"
)

// Action is one executable side effect.
type Action interface {
	Name() string
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Request carries everything an action may touch. Actions never reach
// outside it: tenant scoping lives in OwnerID and every collaborator call
// goes through the injected adapters.
type Request struct {
	OwnerID         string
	ExecutionID     string
	NodeID          string
	ConversationRef string
	UserRef         string
	// InboundMessageRef identifies the message that triggered the run, for
	// actions that mark it handled.
	InboundMessageRef string

	Params map[string]any
	Env    map[string]any
}

// Result is the recorded outcome of an action.
type Result struct {
	Output map[string]any `json:"output,omitempty"`
	// Skipped marks an action that decided not to run (e.g. a deduped send).
	Skipped bool `json:"skipped,omitempty"`
}

// OutputJSON renders the result output for the audit record.
func (r *Result) OutputJSON() json.RawMessage {
	if r == nil || len(r.Output) == 0 {
		return nil
	}
	raw, err := json.Marshal(r.Output)
	if err != nil {
		return nil
	}
	return raw
}

// --- Param helpers ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mp, _ := v.(map[string]any)
	return mp
}

func stringSliceParam(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, sok := item.(string); sok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
