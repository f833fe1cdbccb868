// Package validation checks workflow definitions before they are saved or
// activated. The pipeline has three stages: structural (JSON Schema),
// semantic (per-kind config, reference and registry checks), and graph
// (cycles, reachability). A definition that passes all three is safe for
// the executor to walk without crashing.
package validation

import "github.com/convohq/automation/pkg/schema"

// Validator checks workflow definitions and loose payloads.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidatePayload(payload map[string]any, payloadSchema []byte) error
}

// ActionLookup answers whether an action type is registered. Satisfied by
// the actions registry; nil skips action existence checks.
type ActionLookup interface {
	Has(name string) bool
}
