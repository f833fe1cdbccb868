// Package matcher decides which workflows an incoming event starts. It owns
// tenant isolation: every candidate set is scoped to the event's owning
// tenant before any predicate runs, and a cross-owner match is structurally
// impossible because candidates are listed by owner.
package matcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/internal/evalctx"
	"github.com/convohq/automation/internal/logging"
	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/tenant"
	"github.com/convohq/automation/pkg/schema"
)

// Match is one workflow selected for an event, with the start node bound
// and the evaluation context the predicates already saw.
type Match struct {
	Workflow    *store.Workflow
	OwnerID     string
	StartNodeID string // empty for legacy flat workflows
	Env         map[string]any
}

// Matcher evaluates events against the active workflow set of one tenant.
type Matcher struct {
	store      store.Store
	builder    *evalctx.Builder
	conditions *conditions.Evaluator
	tenant     *tenant.Resolver
	logger     *slog.Logger
}

func New(s store.Store, builder *evalctx.Builder, cond *conditions.Evaluator, resolver *tenant.Resolver, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{store: s, builder: builder, conditions: cond, tenant: resolver, logger: logger}
}

// Match returns the workflows the event starts, ordered by ascending
// priority. Dropped events are audited, not errored: a malformed or
// unentitled event is a normal outcome, not a pipeline fault.
func (m *Matcher) Match(ctx context.Context, event *schema.EventRecord) ([]Match, error) {
	if !schema.KnownEventTypes[event.Type] {
		m.audit(ctx, event, schema.AuditEventDropped, map[string]any{"reason": "unknown event type", "type": string(event.Type)})
		return nil, nil
	}

	ownerID, err := m.tenant.ResolveOwner(ctx, event)
	if err != nil {
		m.logger.Warn("event owner unresolved, dropping", "event", event.ID, "error", err)
		m.audit(ctx, event, schema.AuditOwnershipViolation, map[string]any{"reason": err.Error()})
		return nil, nil
	}
	ctx = m.withIDs(ctx, event, ownerID)

	// One entitlement check per event, not per workflow.
	if err := m.tenant.CheckEntitlement(ctx, ownerID); err != nil {
		m.audit(ctx, event, schema.AuditEntitlementDenied, map[string]any{"owner_id": ownerID})
		return nil, nil
	}

	env := m.builder.Build(ctx, ownerID, event)

	active := schema.WorkflowStatusActive
	candidates, err := m.store.ListWorkflows(ctx, store.WorkflowFilter{Status: &active, OwnerID: ownerID})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list candidate workflows").WithCause(err)
	}

	now := time.Now().UTC()
	var matches []Match
	for _, wf := range candidates {
		if !withinValidity(&wf.Definition, now) {
			continue
		}

		var startNode string
		matched := false
		if len(wf.Definition.Rules) > 0 {
			matched = m.matchLegacy(ctx, wf, event, env)
		} else if node, ok := m.matchGraph(ctx, wf, event, env); ok {
			matched, startNode = true, node
		}
		if !matched {
			continue
		}

		// A redelivered event must not start the workflow again, even after
		// the first execution already finished.
		if event.ID != "" {
			started, err := m.store.HasExecutionForEvent(ctx, wf.ID, event.ID)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeStore, "check event execution").WithCause(err)
			}
			if started {
				continue
			}
		}

		if event.ConversationRef != "" {
			skip, err := m.shouldSkipConversation(ctx, wf, event.ConversationRef)
			if err != nil {
				return nil, err
			}
			if skip {
				continue
			}
		}

		matches = append(matches, Match{
			Workflow:    wf,
			OwnerID:     ownerID,
			StartNodeID: startNode,
			Env:         env,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Workflow.Priority < matches[j].Workflow.Priority
	})
	return matches, nil
}

// shouldSkipConversation enforces the in-flight dedup and run-once guards.
func (m *Matcher) shouldSkipConversation(ctx context.Context, wf *store.Workflow, conversationRef string) (bool, error) {
	inflight, err := m.store.HasActiveExecution(ctx, wf.ID, conversationRef)
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "check in-flight execution").WithCause(err)
	}
	if inflight {
		return true, nil
	}
	if wf.Definition.RunOncePerConversation {
		done, err := m.store.HasCompletedExecution(ctx, wf.ID, conversationRef)
		if err != nil {
			return false, schema.NewError(schema.ErrCodeStore, "check run-once execution").WithCause(err)
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}

// matchGraph tests the event against every active When node and returns the
// first matching node in position order. A node matches at most once per
// event even when both the literal kind and a standing filter apply.
func (m *Matcher) matchGraph(ctx context.Context, wf *store.Workflow, event *schema.EventRecord, env map[string]any) (string, bool) {
	nodes := append([]schema.Node(nil), wf.Definition.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Position < nodes[j].Position })

	for _, node := range nodes {
		if node.Kind != schema.NodeKindWhen || !node.Active || node.When == nil {
			continue
		}
		if m.whenMatches(wf, node.When, event, env) {
			return node.ID, true
		}
	}
	return "", false
}

func (m *Matcher) whenMatches(wf *store.Workflow, when *schema.WhenConfig, event *schema.EventRecord, env map[string]any) bool {
	switch {
	case when.EventKind == event.Type:
		// direct kind match
	case event.Type == schema.EventMessageReceived && when.EventKind == schema.EventTagAdded && len(when.RequiredTags) > 0:
		// Standing audience filter: a tag trigger also fires on messages
		// from customers who already carry all required tags.
	case event.Type == schema.EventMessageReceived && when.EventKind == schema.EventNewCustomer && isFirstInbound(env):
		// Bridge: channels without a dedicated new-customer event fire the
		// trigger on a conversation's first inbound message.
	default:
		return false
	}

	if event.Type == schema.EventSchedule {
		// Schedule events are synthesized per workflow; the payload binds
		// them to exactly one definition.
		if wfID, _ := event.Payload["workflow_id"].(string); wfID != "" && wfID != wf.ID {
			return false
		}
		if when.Schedule == "" {
			return false
		}
	}

	if len(when.Keywords) > 0 && !anyKeyword(event.MessageContent(), when.Keywords) {
		return false
	}
	if !channelAllowed(when.Channels, event.Channel()) {
		return false
	}
	if len(when.RequiredTags) > 0 && !hasAllTags(env, when.RequiredTags) {
		return false
	}
	if when.Comment != nil && event.Type == schema.EventPlatformComment && !commentMatches(when.Comment, event) {
		return false
	}
	return true
}

// matchLegacy evaluates the flat rule list: the event kind plus every
// rule-level filter must pass for at least one rule.
func (m *Matcher) matchLegacy(ctx context.Context, wf *store.Workflow, event *schema.EventRecord, env map[string]any) bool {
	for _, rule := range wf.Definition.Rules {
		if rule.EventKind != event.Type {
			continue
		}
		if m.conditions.EvalGroup(ctx, rule.Filter, env) {
			return true
		}
	}
	return false
}

func withinValidity(def *schema.WorkflowDefinition, now time.Time) bool {
	if def.ValidFrom != nil && now.Before(*def.ValidFrom) {
		return false
	}
	if def.ValidUntil != nil && now.After(*def.ValidUntil) {
		return false
	}
	return true
}

func anyKeyword(content string, keywords []string) bool {
	lc := strings.ToLower(content)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lc, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func channelAllowed(allowed []string, channel string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, c := range allowed {
		if c == "all" || strings.EqualFold(c, channel) {
			return true
		}
	}
	return false
}

func hasAllTags(env map[string]any, required []string) bool {
	user, _ := env["user"].(map[string]any)
	tags, ok := conditions.GetNested("tags", user, nil).([]string)
	if !ok {
		if anyTags, aok := conditions.GetNested("tags", user, nil).([]any); aok {
			tags = make([]string, 0, len(anyTags))
			for _, t := range anyTags {
				if s, sok := t.(string); sok {
					tags = append(tags, s)
				}
			}
		}
	}
	present := make(map[string]bool, len(tags))
	for _, t := range tags {
		present[strings.ToLower(t)] = true
	}
	for _, r := range required {
		if !present[strings.ToLower(r)] {
			return false
		}
	}
	return true
}

func isFirstInbound(env map[string]any) bool {
	conv, _ := env["conversation"].(map[string]any)
	count, ok := conditions.GetNested("message_count", conv, nil).(int)
	if !ok {
		if f, fok := conditions.GetNested("message_count", conv, nil).(float64); fok {
			count, ok = int(f), true
		}
	}
	return ok && count <= 1
}

func commentMatches(filter *schema.CommentFilter, event *schema.EventRecord) bool {
	if len(filter.PostIDs) > 0 {
		postID, _ := event.Payload["post_id"].(string)
		if !containsFold(filter.PostIDs, postID) {
			return false
		}
	}
	if len(filter.MediaTypes) > 0 {
		mediaType, _ := event.Payload["media_type"].(string)
		if !containsFold(filter.MediaTypes, mediaType) {
			return false
		}
	}
	if len(filter.Keywords) > 0 && !anyKeyword(event.MessageContent(), filter.Keywords) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func (m *Matcher) withIDs(ctx context.Context, event *schema.EventRecord, ownerID string) context.Context {
	ctx = logging.WithTenantID(ctx, ownerID)
	if event.ConversationRef != "" {
		ctx = logging.WithConversation(ctx, event.ConversationRef)
	}
	return ctx
}

func (m *Matcher) audit(ctx context.Context, event *schema.EventRecord, auditType string, payload map[string]any) {
	payload["event_id"] = event.ID
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	if err := m.store.AppendAudit(ctx, &store.AuditEvent{
		Type:    auditType,
		Payload: raw,
	}); err != nil {
		m.logger.Warn("audit append failed", "type", auditType, "error", err)
	}
}
