package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/convohq/automation/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://convohq.dev/schemas/workflow.json",
  "type": "object",
  "required": ["status", "owner_id"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "status": {
      "type": "string",
      "enum": ["draft", "active", "paused", "archived"]
    },
    "owner_id": { "type": "string", "minLength": 1 },
    "priority": { "type": "integer" },
    "valid_from": { "type": "string", "format": "date-time" },
    "valid_until": { "type": "string", "format": "date-time" },
    "run_once_per_conversation": { "type": "boolean" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "rules": {
      "type": "array",
      "items": { "$ref": "#/$defs/rule" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["when", "condition", "action", "waiting"]
        },
        "title": { "type": "string" },
        "position": { "type": "integer" },
        "active": { "type": "boolean" },
        "when": { "$ref": "#/$defs/when" },
        "condition": { "$ref": "#/$defs/condition" },
        "action": { "$ref": "#/$defs/action" },
        "waiting": { "$ref": "#/$defs/waiting" }
      },
      "additionalProperties": false
    },
    "when": {
      "type": "object",
      "required": ["event_kind"],
      "properties": {
        "event_kind": {
          "type": "string",
          "enum": ["message_received", "new_customer", "tag_added", "schedule", "platform_comment"]
        },
        "keywords": { "type": "array", "items": { "type": "string" } },
        "channels": { "type": "array", "items": { "type": "string" } },
        "required_tags": { "type": "array", "items": { "type": "string" } },
        "schedule": { "type": "string" },
        "comment": { "$ref": "#/$defs/comment_filter" }
      },
      "additionalProperties": false
    },
    "comment_filter": {
      "type": "object",
      "properties": {
        "post_ids": { "type": "array", "items": { "type": "string" } },
        "media_types": { "type": "array", "items": { "type": "string" } },
        "keywords": { "type": "array", "items": { "type": "string" } }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["operator", "predicates"],
      "properties": {
        "operator": { "type": "string", "enum": ["and", "or"] },
        "predicates": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/predicate" }
        }
      },
      "additionalProperties": false
    },
    "predicate": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["message", "code", "ai"] },
        "path": { "type": "string" },
        "operator": { "type": "string" },
        "value": {},
        "source": { "type": "string" },
        "prompt": { "type": "string" },
        "group": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "minLength": 1 },
        "params": {},
        "required": { "type": "boolean" },
        "delay_seconds": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "waiting": {
      "type": "object",
      "properties": {
        "prompt": { "type": "string" },
        "answer_shape": {
          "type": "string",
          "enum": ["text", "number", "email", "yes_no"]
        },
        "allowed_errors": { "type": "integer", "minimum": 0 },
        "exit_keywords": { "type": "array", "items": { "type": "string" } },
        "timeout_seconds": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target", "kind"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["success", "failure", "timeout", "skip"]
        },
        "guard": { "type": "string" }
      },
      "additionalProperties": false
    },
    "rule": {
      "type": "object",
      "required": ["event_kind", "action"],
      "properties": {
        "event_kind": {
          "type": "string",
          "enum": ["message_received", "new_customer", "tag_added", "schedule", "platform_comment"]
        },
        "filter": { "$ref": "#/$defs/condition" },
        "action": { "$ref": "#/$defs/action" },
        "position": { "type": "integer" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator performs structural validation using JSON Schema
// Draft 2020-12. Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache for dynamically compiled payload schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator pre-compiles the embedded workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://convohq.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	wfSchema, err := c.Compile("https://convohq.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a definition against the workflow schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidatePayload validates loose data against a JSON Schema provided as
// raw bytes. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidatePayload(payload map[string]any, payloadSchema []byte) error {
	if len(payloadSchema) == 0 {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}

	compiled, err := v.getOrCompile(payloadSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid payload schema").WithCause(err)
	}
	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "serialize payload").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets its own URL to avoid compiler collisions.
	url := fmt.Sprintf("https://convohq.dev/schemas/dynamic/%d.json", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so the validator sees
// json.Number for numerics.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
}

func toValidationError(err error) error {
	var ve *jsonschema.ValidationError
	if vErr, ok := err.(*jsonschema.ValidationError); ok {
		ve = vErr
	}
	if ve == nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	return schema.NewError(schema.ErrCodeValidation, ve.Error())
}
