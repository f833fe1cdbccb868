package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/convohq/automation/internal/logging"
	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/pkg/schema"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var yesWords = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "sure": true, "ok": true, "si": true}
var noWords = map[string]bool{"no": true, "n": true, "nope": true, "nah": true}

// TryResume routes an inbound message to a waiting execution on its
// conversation, if one exists. It reports whether the message was consumed
// as a reply; a consumed message does not start new workflows.
func (x *Executor) TryResume(ctx context.Context, event *schema.EventRecord) (bool, error) {
	if event.ConversationRef == "" || event.Type != schema.EventMessageReceived {
		return false, nil
	}
	waiting, err := x.store.ListExecutions(ctx, store.ExecutionFilter{
		ConversationRef: event.ConversationRef,
		Statuses:        []schema.ExecutionStatus{schema.ExecutionStatusWaiting},
		Limit:           1,
	})
	if err != nil {
		return false, err
	}
	if len(waiting) == 0 {
		return false, nil
	}
	exec := waiting[0]
	handled, err := x.Resume(ctx, exec.ID, exec.WaitingNodeID, event.MessageContent())
	if err != nil {
		return false, err
	}
	return handled, nil
}

// Resume delivers a reply to a waiting execution. The claim is atomic: when
// a timeout continuation and a reply race, exactly one side wins and the
// loser is a no-op. Returns whether this call consumed the reply.
func (x *Executor) Resume(ctx context.Context, executionID, nodeID, reply string) (bool, error) {
	claimed, err := x.store.ClaimWaiting(ctx, executionID, nodeID)
	if err != nil {
		return false, err
	}
	if !claimed {
		x.logger.InfoContext(ctx, "resume lost the waiting claim, dropping", "execution", executionID, "node", nodeID)
		return false, nil
	}

	exec, err := x.store.GetExecution(ctx, executionID)
	if err != nil {
		return true, err
	}
	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.ConversationRef)
	ctx = logging.WithTenantID(ctx, exec.OwnerID)

	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusWaiting, schema.ExecutionStatusRunning); err != nil {
		return true, err
	}
	exec.Status = schema.ExecutionStatusRunning

	wf, err := x.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return true, err
	}
	g := BuildGraph(&wf.Definition)
	node, ok := g.Node(nodeID)
	if !ok || node.Waiting == nil {
		return true, x.fail(ctx, exec, schema.NewError(schema.ErrCodeValidation, "waiting node missing from definition").WithNode(nodeID))
	}
	cfg := node.Waiting

	env := exec.Context
	if env == nil {
		env = map[string]any{}
	}
	errorCount := intFromEnv(env, ctxKeyErrorCount)

	// Exit keywords bail out of the wait regardless of answer shape.
	if matchesExitKeyword(reply, cfg.ExitKeywords) {
		x.recordReply(ctx, exec, nodeID, reply, false, errorCount)
		return true, x.continueFrom(ctx, exec, wf, g, nodeID, schema.EdgeFailure, env, reply)
	}

	valid := answerValid(cfg.AnswerShape, reply)
	x.recordReply(ctx, exec, nodeID, reply, valid, errorCount)

	if !valid {
		errorCount++
		if errorCount <= cfg.AllowedErrors {
			// Re-park on the same node and reprompt.
			env[ctxKeyErrorCount] = errorCount
			x.audit(ctx, exec, nodeID, schema.AuditReprompt, map[string]any{"error_count": errorCount})
			if cfg.Prompt != "" && exec.ConversationRef != "" {
				if _, serr := x.messenger.Send(ctx, exec.ConversationRef, cfg.Prompt); serr != nil {
					return true, x.fail(ctx, exec, schema.NewError(schema.ErrCodeCollaborator, "send reprompt").WithNode(nodeID).WithCause(serr))
				}
			}
			if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusRunning, schema.ExecutionStatusWaiting); err != nil {
				return true, err
			}
			return true, x.store.MarkWaiting(ctx, exec.ID, nodeID, env)
		}
		return true, x.continueFrom(ctx, exec, wf, g, nodeID, schema.EdgeFailure, env, reply)
	}

	return true, x.continueFrom(ctx, exec, wf, g, nodeID, schema.EdgeSuccess, env, reply)
}

// continueFrom merges the reply into the context and resumes traversal with
// the persisted queue plus the waiting node's outgoing edges.
func (x *Executor) continueFrom(ctx context.Context, exec *store.Execution, wf *store.Workflow, g *Graph, nodeID string, kind schema.EdgeKind, env map[string]any, reply string) error {
	// The wait is over; hand the conversation back to the responder. A later
	// waiting node in the queue re-gates it.
	x.setAIGate(ctx, exec.ConversationRef, true, DefaultWaitTimeout)
	delete(env, ctxKeyErrorCount)
	if reply != "" {
		env["reply"] = reply
		env["message_content"] = reply
	}
	queue := stringSlice(env[ctxKeyQueue])
	queue = append(queue, x.edgeTargets(ctx, g, nodeID, kind, env)...)
	return x.run(ctx, exec, wf, g, queue, env)
}

// HandleTimeout fires when a waiting node's budget elapses. A stale timeout
// (the reply already won, or the execution moved on) is a no-op.
func (x *Executor) HandleTimeout(ctx context.Context, executionID, nodeID string) error {
	claimed, err := x.store.ClaimWaiting(ctx, executionID, nodeID)
	if err != nil {
		return err
	}
	if !claimed {
		x.logger.DebugContext(ctx, "stale wait timeout, dropping", "execution", executionID, "node", nodeID)
		return nil
	}

	exec, err := x.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.ConversationRef)
	ctx = logging.WithTenantID(ctx, exec.OwnerID)

	wf, err := x.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	g := BuildGraph(&wf.Definition)
	env := exec.Context
	if env == nil {
		env = map[string]any{}
	}
	delete(env, ctxKeyErrorCount)
	x.setAIGate(ctx, exec.ConversationRef, true, DefaultWaitTimeout)

	kind := schema.EdgeTimeout
	if !x.hasGuardedTargets(ctx, g, nodeID, kind, env) {
		kind = schema.EdgeFailure
	}
	queue := append(stringSlice(env[ctxKeyQueue]), x.edgeTargets(ctx, g, nodeID, kind, env)...)

	if len(queue) == 0 {
		// Nothing to continue with: the wait itself timed out terminally.
		if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusWaiting, schema.ExecutionStatusTimedOut); err != nil {
			return err
		}
		timedOut := schema.ExecutionStatusTimedOut
		done := x.now().UTC()
		clearTraversal(env)
		return x.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Status: &timedOut, Context: env, CompletedAt: &done})
	}

	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, schema.ExecutionStatusWaiting, schema.ExecutionStatusRunning); err != nil {
		return err
	}
	exec.Status = schema.ExecutionStatusRunning
	x.audit(ctx, exec, nodeID, schema.AuditExecutionTimedOut, map[string]any{"continued": true})
	return x.run(ctx, exec, wf, g, queue, env)
}

func (x *Executor) hasGuardedTargets(ctx context.Context, g *Graph, nodeID string, kind schema.EdgeKind, env map[string]any) bool {
	return len(x.edgeTargets(ctx, g, nodeID, kind, env)) > 0
}

// Cancel administratively terminates a non-terminal execution and fails its
// outstanding action records.
func (x *Executor) Cancel(ctx context.Context, executionID, reason string) error {
	exec, err := x.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	switch exec.Status {
	case schema.ExecutionStatusPending, schema.ExecutionStatusRunning, schema.ExecutionStatusWaiting:
	default:
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot cancel execution in status %s", exec.Status)
	}

	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.ConversationRef)
	if err := x.fsm.Transition(ctx, exec.ID, exec.WorkflowID, exec.Status, schema.ExecutionStatusCancelled); err != nil {
		return err
	}
	if exec.Status == schema.ExecutionStatusWaiting {
		x.setAIGate(ctx, exec.ConversationRef, true, DefaultWaitTimeout)
	}

	cancelErr := schema.NewError(schema.ErrCodeCancelled, reason)
	cancelled := schema.ExecutionStatusCancelled
	done := x.now().UTC()
	if err := x.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{Status: &cancelled, Error: errorJSON(cancelErr, ""), CompletedAt: &done}); err != nil {
		return err
	}
	return x.store.FailPendingActions(ctx, executionID, errorJSON(cancelErr, ""))
}

func (x *Executor) recordReply(ctx context.Context, exec *store.Execution, nodeID, content string, valid bool, errorCount int) {
	ur := &store.UserResponse{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Content:     content,
		Valid:       valid,
		ErrorCount:  errorCount,
		CreatedAt:   x.now().UTC(),
	}
	if err := x.store.CreateUserResponse(ctx, ur); err != nil {
		x.logger.ErrorContext(ctx, "recording user response failed", "error", err)
	}
	x.audit(ctx, exec, nodeID, schema.AuditUserResponse, map[string]any{"valid": valid})
}

// answerValid checks a reply against the waiting node's expected shape.
// An empty shape accepts any non-empty reply.
func answerValid(shape, reply string) bool {
	reply = strings.TrimSpace(reply)
	switch shape {
	case "", "text":
		return reply != ""
	case "number":
		_, err := strconv.ParseFloat(reply, 64)
		return err == nil
	case "email":
		return emailPattern.MatchString(reply)
	case "yes_no":
		word := strings.ToLower(reply)
		return yesWords[word] || noWords[word]
	default:
		return reply != ""
	}
}

func matchesExitKeyword(reply string, keywords []string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(reply))
	for _, kw := range keywords {
		if trimmed == strings.ToLower(strings.TrimSpace(kw)) {
			return true
		}
	}
	return false
}

func intFromEnv(env map[string]any, key string) int {
	switch v := env[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
