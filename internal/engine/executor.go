// Package engine walks workflow node graphs against events. Traversal is
// resumable: a waiting node parks its execution in the store with the
// remaining queue inside the execution context, and a later reply or
// timeout continues from exactly that point, possibly on another worker.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/convohq/automation/internal/actions"
	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/internal/logging"
	"github.com/convohq/automation/internal/matcher"
	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

const (
	// DefaultWaitTimeout bounds a waiting node that sets no timeout.
	DefaultWaitTimeout = time.Hour
	// maxSteps bounds one traversal pass. A definition that loops past this
	// is aborted rather than spun forever.
	maxSteps = 1000
)

// Context keys internal to the engine, persisted inside Execution.Context.
// Readers must tolerate their absence; writers must not collide with the
// evaluation namespaces (event/user/conversation/...).
const (
	ctxKeyQueue      = "_queue"
	ctxKeyDeferred   = "_deferred"
	ctxKeyVisits     = "_visits"
	ctxKeyErrorCount = "_error_count"
	ctxKeyDelayNode  = "_delay_node"
)

// Executor runs workflow executions end to end.
type Executor struct {
	store     store.Store
	registry  *actions.Registry
	cond      *conditions.Evaluator
	guards    *GuardEngine
	messenger collab.Messenger
	ai        collab.AIResponder
	state     *ttlstate.Store
	fsm       *ExecutionFSM
	logger    *slog.Logger
	now       func() time.Time
}

func New(s store.Store, registry *actions.Registry, cond *conditions.Evaluator, guards *GuardEngine, messenger collab.Messenger, ai collab.AIResponder, state *ttlstate.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:     s,
		registry:  registry,
		cond:      cond,
		guards:    guards,
		messenger: messenger,
		ai:        ai,
		state:     state,
		fsm:       NewExecutionFSM(s),
		logger:    logger,
		now:       time.Now,
	}
}

// setAIGate toggles the external AI responder for a conversation and mirrors
// the decision into the shared gate key. Gate failures are logged, not
// returned: the waiting claim still arbitrates who consumes a reply.
func (x *Executor) setAIGate(ctx context.Context, conversation string, enabled bool, ttl time.Duration) {
	if conversation == "" || x.ai == nil {
		return
	}
	if err := x.ai.SetEnabled(ctx, conversation, enabled, ttl); err != nil {
		x.logger.WarnContext(ctx, "toggling ai responder failed", "conversation", conversation, "enabled", enabled, "error", err)
		return
	}
	if x.state != nil {
		x.state.Set(ttlstate.AIGateKey(conversation), enabled, ttl)
	}
}

// taskPayload is the payload of engine-scheduled continuation tasks.
type taskPayload struct {
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
}

func decodeTaskPayload(raw json.RawMessage) (taskPayload, error) {
	var p taskPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, schema.NewError(schema.ErrCodeValidation, "malformed continuation payload").WithCause(err)
	}
	return p, nil
}

// Begin creates and runs a new execution for a matched workflow. The
// returned execution carries the terminal (or waiting) status.
func (x *Executor) Begin(ctx context.Context, m matcher.Match, event *schema.EventRecord) (*store.Execution, error) {
	snapshot, _ := json.Marshal(event)
	env := m.Env
	if env == nil {
		env = map[string]any{}
	}

	exec := &store.Execution{
		ID:              uuid.New().String(),
		WorkflowID:      m.Workflow.ID,
		OwnerID:         m.OwnerID,
		ConversationRef: event.ConversationRef,
		UserRef:         event.UserRef,
		EventID:         event.ID,
		Status:          schema.ExecutionStatusPending,
		TriggerSnapshot: snapshot,
		Context:         env,
	}
	if err := x.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.ConversationRef)
	ctx = logging.WithTenantID(ctx, exec.OwnerID)

	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusPending, schema.ExecutionStatusRunning); err != nil {
		return nil, err
	}
	started := x.now().UTC()
	running := schema.ExecutionStatusRunning
	if err := x.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Status: &running, StartedAt: &started}); err != nil {
		return nil, err
	}
	exec.Status = running
	exec.StartedAt = &started

	if m.StartNodeID == "" {
		return exec, x.runLegacy(ctx, exec, m.Workflow, event, env)
	}

	graph := BuildGraph(&m.Workflow.Definition)
	queue := x.initialTargets(ctx, graph, m.StartNodeID, env)
	return exec, x.run(ctx, exec, m.Workflow, graph, queue, env)
}

// initialTargets follows the start node's success edges. The start node is
// the When node the matcher already satisfied; it is audited but performs
// no work of its own.
func (x *Executor) initialTargets(ctx context.Context, g *Graph, startNodeID string, env map[string]any) []string {
	x.logger.DebugContext(ctx, "binding execution entry", "start_node", startNodeID)
	return x.edgeTargets(ctx, g, startNodeID, schema.EdgeSuccess, env)
}

// run drains the traversal queue. It returns nil on any orderly outcome
// (completed, waiting, delayed, failed-and-recorded); a non-nil error means
// the store itself failed.
func (x *Executor) run(ctx context.Context, exec *store.Execution, wf *store.Workflow, g *Graph, queue []string, env map[string]any) error {
	deferred := stringSet(env[ctxKeyDeferred])
	visits := intMap(env[ctxKeyVisits])
	steps := 0

	for len(queue) > 0 {
		steps++
		if steps > maxSteps {
			return x.fail(ctx, exec, schema.NewError(schema.ErrCodeValidation, "traversal step budget exhausted, definition likely cyclic"))
		}

		nodeID := queue[0]
		queue = queue[1:]

		node, ok := g.Node(nodeID)
		if !ok {
			continue
		}
		visits[nodeID]++
		if visits[nodeID] > 8 {
			x.logger.WarnContext(ctx, "node revisit limit reached, pruning branch", "node", nodeID)
			continue
		}

		if !node.Active {
			queue = append(queue, x.edgeTargets(ctx, g, nodeID, schema.EdgeSuccess, env)...)
			continue
		}

		x.audit(ctx, exec, nodeID, schema.AuditNodeEntered, map[string]any{"kind": string(node.Kind)})

		switch node.Kind {
		case schema.NodeKindWhen:
			// A mid-graph When never re-fires; pass through.
			queue = append(queue, x.edgeTargets(ctx, g, nodeID, schema.EdgeSuccess, env)...)

		case schema.NodeKindCondition:
			result := x.cond.EvalGroup(ctx, node.Condition, env)
			x.audit(ctx, exec, nodeID, schema.AuditConditionEvaluated, map[string]any{"result": result})
			kind := schema.EdgeSuccess
			if !result {
				kind = schema.EdgeFailure
			}
			queue = append(queue, x.edgeTargets(ctx, g, nodeID, kind, env)...)

		case schema.NodeKindAction:
			if node.Action != nil && node.Action.DelaySeconds > 0 {
				return x.suspendDelayed(ctx, exec, node, queue, env, deferred, visits)
			}
			ok, err := x.runAction(ctx, exec, node, env)
			if err != nil {
				return x.fail(ctx, exec, err)
			}
			kind := schema.EdgeSuccess
			if !ok {
				kind = schema.EdgeFailure
			}
			queue = append(queue, x.edgeTargets(ctx, g, nodeID, kind, env)...)

		case schema.NodeKindWaiting:
			// Defer the suspension until the parallel branches in the queue
			// have run, so a fan-out completes its side effects first.
			if len(queue) > 0 && !deferred[nodeID] {
				deferred[nodeID] = true
				queue = append(queue, nodeID)
				continue
			}
			return x.suspendWaiting(ctx, exec, node, queue, env, deferred, visits)
		}
	}

	return x.complete(ctx, exec, env)
}

// runAction executes one action node and records its outcome. The bool
// result reports whether traversal follows success edges; a returned error
// aborts the execution (required action failed, or the store broke).
func (x *Executor) runAction(ctx context.Context, exec *store.Execution, node *schema.Node, env map[string]any) (bool, error) {
	cfg := node.Action
	if cfg == nil {
		return false, schema.NewError(schema.ErrCodeValidation, "action node without action config").WithNode(node.ID)
	}

	record := &store.ActionExecution{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		ActionType:  cfg.Type,
		Status:      schema.ActionStatusRunning,
		StartedAt:   timePtr(x.now().UTC()),
	}
	if err := x.store.CreateActionExecution(ctx, record); err != nil {
		return false, err
	}

	action, err := x.registry.Get(cfg.Type)
	if err == nil {
		var params map[string]any
		if len(cfg.Params) > 0 {
			if uerr := json.Unmarshal(cfg.Params, &params); uerr != nil {
				err = schema.NewError(schema.ErrCodeValidation, "malformed action params").WithNode(node.ID).WithCause(uerr)
			}
		}
		if err == nil {
			req := &actions.Request{
				OwnerID:           exec.OwnerID,
				ExecutionID:       exec.ID,
				NodeID:            node.ID,
				ConversationRef:   exec.ConversationRef,
				UserRef:           exec.UserRef,
				InboundMessageRef: stringFromEnv(env, "event", "message_ref"),
				Params:            params,
				Env:               env,
			}
			var res *actions.Result
			res, err = action.Execute(ctx, req)
			if err == nil {
				status := schema.ActionStatusCompleted
				auditType := schema.AuditActionCompleted
				if res != nil && res.Skipped {
					status = schema.ActionStatusSkipped
					auditType = schema.AuditActionSkipped
				}
				if serr := x.store.UpdateActionExecution(ctx, record.ID, status, res.OutputJSON(), nil); serr != nil {
					return false, serr
				}
				x.audit(ctx, exec, node.ID, auditType, map[string]any{"action": cfg.Type})
				if res != nil && len(res.Output) > 0 {
					env["last_action"] = res.Output
				}
				return true, nil
			}
		}
	}

	errJSON := errorJSON(err, node.ID)
	if serr := x.store.UpdateActionExecution(ctx, record.ID, schema.ActionStatusFailed, nil, errJSON); serr != nil {
		return false, serr
	}
	x.audit(ctx, exec, node.ID, schema.AuditActionFailed, map[string]any{"action": cfg.Type, "error": err.Error()})

	if cfg.Required {
		return false, schema.NewErrorf(schema.ErrCodeAction, "required action %q failed", cfg.Type).WithNode(node.ID).WithCause(err)
	}
	x.logger.WarnContext(ctx, "optional action failed, following failure edges", "action", cfg.Type, "error", err)
	return false, nil
}

// suspendWaiting parks the execution on a waiting node: prompt sent, queue
// persisted, timeout continuation scheduled.
func (x *Executor) suspendWaiting(ctx context.Context, exec *store.Execution, node *schema.Node, queue []string, env map[string]any, deferred map[string]bool, visits map[string]int) error {
	cfg := node.Waiting
	if cfg == nil {
		return x.fail(ctx, exec, schema.NewError(schema.ErrCodeValidation, "waiting node without wait config").WithNode(node.ID))
	}

	if cfg.Prompt != "" && exec.ConversationRef != "" {
		if _, err := x.messenger.Send(ctx, exec.ConversationRef, cfg.Prompt); err != nil {
			return x.fail(ctx, exec, schema.NewError(schema.ErrCodeCollaborator, "send wait prompt").WithNode(node.ID).WithCause(err))
		}
	}

	saveTraversal(env, queue, deferred, visits)
	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusRunning, schema.ExecutionStatusWaiting); err != nil {
		return err
	}
	if err := x.store.MarkWaiting(ctx, exec.ID, node.ID, env); err != nil {
		return err
	}
	exec.Status = schema.ExecutionStatusWaiting
	exec.WaitingNodeID = node.ID

	timeout := DefaultWaitTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	// The workflow owns the conversation while parked; a concurrent AI reply
	// would race the user's answer.
	x.setAIGate(ctx, exec.ConversationRef, false, timeout)

	payload, _ := json.Marshal(taskPayload{ExecutionID: exec.ID, NodeID: node.ID})
	return x.store.EnqueueTask(ctx, &store.Task{
		ID:          uuid.New().String(),
		Kind:        store.TaskResumeTimeout,
		Payload:     payload,
		RunAt:       x.now().UTC().Add(timeout),
		MaxAttempts: 3,
		Status:      store.TaskStatusPending,
	})
}

// suspendDelayed persists the traversal and schedules a delayed_resume task
// for the delaying action node. The execution stays running; no worker
// blocks on the delay.
func (x *Executor) suspendDelayed(ctx context.Context, exec *store.Execution, node *schema.Node, queue []string, env map[string]any, deferred map[string]bool, visits map[string]int) error {
	saveTraversal(env, queue, deferred, visits)
	env[ctxKeyDelayNode] = node.ID
	if err := x.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Context: env}); err != nil {
		return err
	}

	payload, _ := json.Marshal(taskPayload{ExecutionID: exec.ID, NodeID: node.ID})
	return x.store.EnqueueTask(ctx, &store.Task{
		ID:          uuid.New().String(),
		Kind:        store.TaskDelayedResume,
		Payload:     payload,
		RunAt:       x.now().UTC().Add(time.Duration(node.Action.DelaySeconds) * time.Second),
		MaxAttempts: 3,
		Status:      store.TaskStatusPending,
	})
}

// ContinueDelayed resumes a delayed execution: the delaying node's own
// action (if any beyond the delay) runs now, then traversal continues with
// the persisted queue.
func (x *Executor) ContinueDelayed(ctx context.Context, executionID, nodeID string) error {
	exec, err := x.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != schema.ExecutionStatusRunning {
		x.logger.InfoContext(ctx, "delayed continuation for non-running execution, dropping", "execution", executionID, "status", string(exec.Status))
		return nil
	}
	env := exec.Context
	if env == nil {
		env = map[string]any{}
	}
	if got, _ := env[ctxKeyDelayNode].(string); got != nodeID {
		x.logger.InfoContext(ctx, "stale delayed continuation, dropping", "execution", executionID, "node", nodeID)
		return nil
	}
	delete(env, ctxKeyDelayNode)

	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.ConversationRef)
	ctx = logging.WithTenantID(ctx, exec.OwnerID)

	wf, err := x.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	g := BuildGraph(&wf.Definition)
	queue := stringSlice(env[ctxKeyQueue])

	node, ok := g.Node(nodeID)
	if ok && node.Action != nil && node.Action.Type != "" && node.Action.Type != "delay" {
		okRun, aerr := x.runAction(ctx, exec, node, env)
		if aerr != nil {
			return x.fail(ctx, exec, aerr)
		}
		kind := schema.EdgeSuccess
		if !okRun {
			kind = schema.EdgeFailure
		}
		queue = append(queue, x.edgeTargets(ctx, g, nodeID, kind, env)...)
	} else if ok {
		queue = append(queue, x.edgeTargets(ctx, g, nodeID, schema.EdgeSuccess, env)...)
	}

	return x.run(ctx, exec, wf, g, queue, env)
}

// runLegacy evaluates a legacy flat rule list in stored order. Each rule
// whose filter passes runs its action; a required failure aborts.
func (x *Executor) runLegacy(ctx context.Context, exec *store.Execution, wf *store.Workflow, event *schema.EventRecord, env map[string]any) error {
	rules := append([]schema.LegacyRule(nil), wf.Definition.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Position < rules[j].Position })

	for i, rule := range rules {
		if rule.EventKind != event.Type {
			continue
		}
		if rule.Filter != nil && !x.cond.EvalGroup(ctx, rule.Filter, env) {
			continue
		}
		node := &schema.Node{
			ID:     legacyNodeID(i),
			Kind:   schema.NodeKindAction,
			Active: true,
			Action: &rule.Action,
		}
		if _, err := x.runAction(ctx, exec, node, env); err != nil {
			return x.fail(ctx, exec, err)
		}
	}
	return x.complete(ctx, exec, env)
}

func legacyNodeID(position int) string {
	return "rule-" + strconv.Itoa(position)
}

// edgeTargets resolves the matching outgoing edges, applying CEL guards.
func (x *Executor) edgeTargets(ctx context.Context, g *Graph, nodeID string, kind schema.EdgeKind, env map[string]any) []string {
	var targets []string
	for _, e := range g.OutEdges(nodeID, kind) {
		if !x.guards.EvalGuard(ctx, e.Guard, env) {
			continue
		}
		targets = append(targets, e.Target)
	}
	return targets
}

func (x *Executor) complete(ctx context.Context, exec *store.Execution, env map[string]any) error {
	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted); err != nil {
		return err
	}
	completed := schema.ExecutionStatusCompleted
	done := x.now().UTC()
	clearTraversal(env)
	if err := x.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Status: &completed, Context: env, CompletedAt: &done}); err != nil {
		return err
	}
	exec.Status = completed
	exec.CompletedAt = &done
	return nil
}

// fail records a terminal failure. The verdict error is persisted, not
// returned: a failed execution is an orderly outcome.
func (x *Executor) fail(ctx context.Context, exec *store.Execution, verdict error) error {
	from := exec.Status
	if from != schema.ExecutionStatusRunning && from != schema.ExecutionStatusWaiting {
		from = schema.ExecutionStatusRunning
	}
	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, from, schema.ExecutionStatusFailed); err != nil {
		return err
	}
	failed := schema.ExecutionStatusFailed
	done := x.now().UTC()
	if err := x.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Status: &failed, Error: errorJSON(verdict, ""), CompletedAt: &done}); err != nil {
		return err
	}
	exec.Status = failed
	x.logger.WarnContext(ctx, "execution failed", "error", verdict)
	return nil
}

func (x *Executor) audit(ctx context.Context, exec *store.Execution, nodeID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if len(payload) > 0 {
		raw, _ = json.Marshal(payload)
	}
	evt := &store.AuditEvent{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		NodeID:      nodeID,
		Type:        eventType,
		Payload:     raw,
	}
	if err := x.store.AppendAudit(ctx, evt); err != nil {
		x.logger.ErrorContext(ctx, "audit append failed", "type", eventType, "error", err)
	}
}

// --- Traversal state persistence helpers ---

func saveTraversal(env map[string]any, queue []string, deferred map[string]bool, visits map[string]int) {
	env[ctxKeyQueue] = queue
	if len(deferred) > 0 {
		env[ctxKeyDeferred] = deferred
	}
	if len(visits) > 0 {
		env[ctxKeyVisits] = visits
	}
}

func clearTraversal(env map[string]any) {
	delete(env, ctxKeyQueue)
	delete(env, ctxKeyDeferred)
	delete(env, ctxKeyVisits)
	delete(env, ctxKeyErrorCount)
	delete(env, ctxKeyDelayNode)
}

// stringSlice tolerates both fresh []string values and JSON-decoded []any.
func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringSet(v any) map[string]bool {
	out := make(map[string]bool)
	switch m := v.(type) {
	case map[string]bool:
		return m
	case map[string]any:
		for k, val := range m {
			if b, ok := val.(bool); ok && b {
				out[k] = true
			}
		}
	}
	return out
}

func intMap(v any) map[string]int {
	out := make(map[string]int)
	switch m := v.(type) {
	case map[string]int:
		return m
	case map[string]any:
		for k, val := range m {
			if f, ok := val.(float64); ok {
				out[k] = int(f)
			}
		}
	}
	return out
}

func stringFromEnv(env map[string]any, scope, key string) string {
	m, ok := env[scope].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func errorJSON(err error, nodeID string) json.RawMessage {
	var ae *schema.AutomationError
	if e, ok := err.(*schema.AutomationError); ok {
		ae = e
	} else {
		ae = schema.NewError(schema.ErrCodeAction, err.Error())
	}
	if nodeID != "" && ae.NodeID == "" {
		ae.NodeID = nodeID
	}
	raw, _ := json.Marshal(ae)
	return raw
}

func timePtr(t time.Time) *time.Time { return &t }

