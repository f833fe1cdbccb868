package validation

import "github.com/convohq/automation/pkg/schema"

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (kind/config pairing, references, registries, cron)
// 3. Graph (cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewWorkflowValidator creates a WorkflowValidator. lookup may be nil to
// skip action existence checks.
func NewWorkflowValidator(lookup ActionLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, actions: lookup}, nil
}

// Validate runs the full pipeline and returns the aggregated result.
// Structural errors short-circuit: later stages assume a well-shaped
// document.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := &schema.ValidationResult{}
	if err := wv.jsonSchema.ValidateDefinition(def); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	result.Merge(validateSemantic(def, wv.actions))
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidatePayload delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidatePayload(payload map[string]any, payloadSchema []byte) error {
	return wv.jsonSchema.ValidatePayload(payload, payloadSchema)
}
