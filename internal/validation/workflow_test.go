package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohq/automation/pkg/schema"
)

type staticLookup map[string]bool

func (l staticLookup) Has(name string) bool { return l[name] }

var testLookup = staticLookup{
	"send_message": true,
	"add_tag":      true,
	"webhook":      true,
}

func newTestValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator(testLookup)
	require.NoError(t, err)
	return wv
}

func validDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:      "wf-1",
		Name:    "greeting",
		Status:  schema.WorkflowStatusActive,
		OwnerID: "owner-1",
		Nodes: []schema.Node{
			{ID: "start", Kind: schema.NodeKindWhen, Active: true, When: &schema.WhenConfig{
				EventKind: schema.EventMessageReceived,
				Keywords:  []string{"hello"},
			}},
			{ID: "check", Kind: schema.NodeKindCondition, Active: true, Condition: &schema.ConditionConfig{
				Operator: "and",
				Predicates: []schema.Predicate{
					{Type: schema.PredicateMessage, Path: "message_content", Operator: "contains", Value: "hello"},
				},
			}},
			{ID: "greet", Kind: schema.NodeKindAction, Active: true, Action: &schema.ActionConfig{
				Type: "send_message", Params: []byte(`{"content":"hi"}`),
			}},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "check", Kind: schema.EdgeSuccess},
			{Source: "check", Target: "greet", Kind: schema.EdgeSuccess},
		},
	}
}

func TestValidate_ValidDefinition(t *testing.T) {
	wv := newTestValidator(t)
	result := wv.Validate(validDef())
	assert.True(t, result.Valid(), "unexpected errors: %+v", result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, wv.ValidateDefinition(validDef()))
}

func TestValidate_NilDefinition(t *testing.T) {
	wv := newTestValidator(t)
	assert.False(t, wv.Validate(nil).Valid())
}

func TestValidate_StructuralErrors(t *testing.T) {
	wv := newTestValidator(t)

	def := validDef()
	def.Status = "bogus"
	assert.False(t, wv.Validate(def).Valid())

	def = validDef()
	def.OwnerID = ""
	assert.False(t, wv.Validate(def).Valid())

	def = validDef()
	def.Nodes[1].Condition.Operator = "xor"
	assert.False(t, wv.Validate(def).Valid())

	def = validDef()
	def.Edges[0].Kind = "sideways"
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	def.Nodes[2].ID = "start"
	def.Edges = nil
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_EdgeEndpoints(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	def.Edges = append(def.Edges, schema.Edge{Source: "check", Target: "ghost", Kind: schema.EdgeFailure})
	result := wv.Validate(def)
	assert.False(t, result.Valid())

	def = validDef()
	def.Edges = append(def.Edges, schema.Edge{Source: "greet", Target: "greet", Kind: schema.EdgeSuccess})
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_NoActiveTrigger(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	def.Nodes[0].Active = false
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_UnknownActionAndOperator(t *testing.T) {
	wv := newTestValidator(t)

	def := validDef()
	def.Nodes[2].Action.Type = "summon_dragon"
	assert.False(t, wv.Validate(def).Valid())

	def = validDef()
	def.Nodes[1].Condition.Predicates[0].Operator = "resembles"
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_ScheduleCron(t *testing.T) {
	wv := newTestValidator(t)

	def := validDef()
	def.Nodes[0].When = &schema.WhenConfig{EventKind: schema.EventSchedule, Schedule: "0 9 * * 1"}
	assert.True(t, wv.Validate(def).Valid())

	def.Nodes[0].When.Schedule = "every tuesday"
	assert.False(t, wv.Validate(def).Valid())

	def.Nodes[0].When.Schedule = ""
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_DelayAction(t *testing.T) {
	wv := newTestValidator(t)

	def := validDef()
	def.Nodes[2].Action = &schema.ActionConfig{Type: "delay", DelaySeconds: 60}
	assert.True(t, wv.Validate(def).Valid())

	def.Nodes[2].Action.DelaySeconds = 0
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_CycleDetected(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	def.Edges = append(def.Edges, schema.Edge{Source: "greet", Target: "check", Kind: schema.EdgeSuccess})
	result := wv.Validate(def)
	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "cycle")
}

func TestValidate_UnreachableNodeWarns(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	def.Nodes = append(def.Nodes, schema.Node{
		ID: "orphan", Kind: schema.NodeKindAction, Active: true,
		Action: &schema.ActionConfig{Type: "add_tag"},
	})
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "unreachable")
}

func TestValidate_LegacyRules(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		ID:      "wf-legacy",
		Status:  schema.WorkflowStatusActive,
		OwnerID: "owner-1",
		Rules: []schema.LegacyRule{
			{EventKind: schema.EventMessageReceived, Position: 1, Action: schema.ActionConfig{Type: "send_message"}},
		},
	}
	assert.True(t, wv.Validate(def).Valid())

	def.Rules[0].Action.Type = "nope"
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_MixedNodesAndRules(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	def.Rules = []schema.LegacyRule{
		{EventKind: schema.EventMessageReceived, Action: schema.ActionConfig{Type: "send_message"}},
	}
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidate_EmptyDefinition(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{ID: "wf-x", Status: schema.WorkflowStatusDraft, OwnerID: "owner-1"}
	assert.False(t, wv.Validate(def).Valid())
}

func TestValidatePayload(t *testing.T) {
	wv := newTestValidator(t)
	payloadSchema := []byte(`{
		"type": "object",
		"required": ["content"],
		"properties": {"content": {"type": "string", "minLength": 1}}
	}`)

	assert.NoError(t, wv.ValidatePayload(map[string]any{"content": "hi"}, payloadSchema))
	assert.Error(t, wv.ValidatePayload(map[string]any{"content": ""}, payloadSchema))
	assert.Error(t, wv.ValidatePayload(map[string]any{}, payloadSchema))
	assert.NoError(t, wv.ValidatePayload(map[string]any{"anything": true}, nil))
	assert.Error(t, wv.ValidatePayload(map[string]any{}, []byte(`{not json`)))
}

func TestValidate_NodeConfigMismatch(t *testing.T) {
	wv := newTestValidator(t)
	def := validDef()
	// Action node carrying a when config instead.
	def.Nodes[2] = schema.Node{
		ID: "greet", Kind: schema.NodeKindAction, Active: true,
		When: &schema.WhenConfig{EventKind: schema.EventMessageReceived},
	}
	assert.False(t, wv.Validate(def).Valid())

	// Two config blocks on one node.
	def = validDef()
	def.Nodes[2].When = &schema.WhenConfig{EventKind: schema.EventMessageReceived}
	assert.False(t, wv.Validate(def).Valid())
}
