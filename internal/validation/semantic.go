package validation

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/pkg/schema"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validateSemantic checks what JSON Schema cannot express: kind/config
// pairing, duplicate IDs, edge endpoint references, operator and action
// registry membership, cron parseability, and trigger presence.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(def.Nodes) == 0 && len(def.Rules) == 0 {
		result.AddError("/", schema.ErrCodeValidation, "definition has neither nodes nor rules")
		return result
	}
	if len(def.Nodes) > 0 && len(def.Rules) > 0 {
		result.AddError("/", schema.ErrCodeValidation, "definition mixes node graph and legacy rules")
		return result
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	activeWhens := 0
	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if nodeIDs[node.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", node.ID))
		}
		nodeIDs[node.ID] = true

		validateNodeConfig(node, path, lookup, result)
		if node.Kind == schema.NodeKindWhen && node.Active {
			activeWhens++
		}
	}

	if len(def.Nodes) > 0 && activeWhens == 0 {
		result.AddError("/nodes", schema.ErrCodeValidation, "graph has no active trigger node")
	}

	for i, edge := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[edge.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", edge.Source))
		}
		if !nodeIDs[edge.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", edge.Target))
		}
		if edge.Source == edge.Target {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("self-loop on node %q", edge.Source))
		}
	}

	for i := range def.Rules {
		rule := &def.Rules[i]
		path := fmt.Sprintf("rules[%d]", i)
		validateActionConfig(&rule.Action, path+".action", lookup, result)
		if rule.Filter != nil {
			validateConditionConfig(rule.Filter, path+".filter", result)
		}
	}

	return result
}

// validateNodeConfig enforces the exactly-one-config-matching-kind rule.
func validateNodeConfig(node *schema.Node, path string, lookup ActionLookup, result *schema.ValidationResult) {
	set := 0
	if node.When != nil {
		set++
	}
	if node.Condition != nil {
		set++
	}
	if node.Action != nil {
		set++
	}
	if node.Waiting != nil {
		set++
	}
	if set != 1 {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("node %q must carry exactly one config block, has %d", node.ID, set))
		return
	}

	switch node.Kind {
	case schema.NodeKindWhen:
		if node.When == nil {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %q kind/config mismatch", node.ID))
			return
		}
		if node.When.EventKind == schema.EventSchedule {
			if node.When.Schedule == "" {
				result.AddError(path+".when.schedule", schema.ErrCodeValidation, "schedule trigger requires a cron expression")
			} else if _, err := cronParser.Parse(node.When.Schedule); err != nil {
				result.AddError(path+".when.schedule", schema.ErrCodeValidation, fmt.Sprintf("unparseable cron expression: %v", err))
			}
		} else if node.When.Schedule != "" {
			result.AddWarning(path+".when.schedule", schema.ErrCodeValidation, "cron expression is ignored on non-schedule triggers")
		}
	case schema.NodeKindCondition:
		if node.Condition == nil {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %q kind/config mismatch", node.ID))
			return
		}
		validateConditionConfig(node.Condition, path+".condition", result)
	case schema.NodeKindAction:
		if node.Action == nil {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %q kind/config mismatch", node.ID))
			return
		}
		validateActionConfig(node.Action, path+".action", lookup, result)
	case schema.NodeKindWaiting:
		if node.Waiting == nil {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %q kind/config mismatch", node.ID))
		}
	}
}

func validateConditionConfig(cfg *schema.ConditionConfig, path string, result *schema.ValidationResult) {
	for i := range cfg.Predicates {
		p := &cfg.Predicates[i]
		ppath := fmt.Sprintf("%s.predicates[%d]", path, i)
		if p.Group != nil {
			validateConditionConfig(p.Group, ppath+".group", result)
			continue
		}
		switch p.Type {
		case schema.PredicateMessage:
			if p.Path == "" {
				result.AddError(ppath+".path", schema.ErrCodeValidation, "message predicate requires a path")
			}
			if !conditions.KnownOperator(p.Operator) {
				result.AddError(ppath+".operator", schema.ErrCodeValidation, fmt.Sprintf("unknown operator %q", p.Operator))
			}
		case schema.PredicateCode:
			if p.Source == "" {
				result.AddError(ppath+".source", schema.ErrCodeValidation, "code predicate requires a source expression")
			}
		case schema.PredicateAI:
			if p.Prompt == "" {
				result.AddError(ppath+".prompt", schema.ErrCodeValidation, "ai predicate requires a prompt")
			}
		}
	}
}

func validateActionConfig(cfg *schema.ActionConfig, path string, lookup ActionLookup, result *schema.ValidationResult) {
	// delay is a traversal directive, not a registered action.
	if cfg.Type == "delay" {
		if cfg.DelaySeconds <= 0 {
			result.AddError(path+".delay_seconds", schema.ErrCodeValidation, "delay action requires a positive delay_seconds")
		}
		return
	}
	if lookup != nil && !lookup.Has(cfg.Type) {
		result.AddError(path+".type", schema.ErrCodeValidation, fmt.Sprintf("action %q not registered", cfg.Type))
	}
}
