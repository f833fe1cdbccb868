package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/validation"
	"github.com/convohq/automation/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	workflows  []*store.Workflow
	executions []*store.Execution
	audit      []*store.AuditEvent

	auditErr error
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*store.Execution, error) {
	for _, ex := range m.executions {
		if ex.ID == id {
			return ex, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "execution not found")
}

func (m *mockStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*store.Execution, error) {
	result := make([]*store.Execution, 0)
	for _, ex := range m.executions {
		if filter.WorkflowID != "" && ex.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.ConversationRef != "" && ex.ConversationRef != filter.ConversationRef {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, st := range filter.Statuses {
				if ex.Status == st {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		result = append(result, ex)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	result := make([]*store.Workflow, 0)
	for _, wf := range m.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.OwnerID != "" && wf.OwnerID != filter.OwnerID {
			continue
		}
		result = append(result, wf)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) GetAudit(_ context.Context, filter store.AuditFilter) ([]*store.AuditEvent, error) {
	if m.auditErr != nil {
		return nil, m.auditErr
	}
	result := make([]*store.AuditEvent, 0)
	for _, ev := range m.audit {
		if filter.ExecutionID != "" && ev.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.EventType != "" && ev.Type != filter.EventType {
			continue
		}
		result = append(result, ev)
	}
	return result, nil
}

// --- Mock submitter and canceller ---

type mockSubmitter struct {
	events    []*schema.EventRecord
	submitErr error
}

func (m *mockSubmitter) SubmitEvent(_ context.Context, event *schema.EventRecord) (string, error) {
	if m.submitErr != nil {
		return "", m.submitErr
	}
	event.ID = "evt-1"
	m.events = append(m.events, event)
	return event.ID, nil
}

type mockCanceller struct {
	cancelled []string
	reasons   []string
	cancelErr error
}

func (m *mockCanceller) Cancel(_ context.Context, executionID, reason string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, executionID)
	m.reasons = append(m.reasons, reason)
	return nil
}

type staticLookup struct{}

func (staticLookup) Has(name string) bool {
	return name == "send_message" || name == "add_tag"
}

// --- Helpers ---

func newTestServer(t *testing.T, ms *mockStore, sub *mockSubmitter, can *mockCanceller) *Server {
	t.Helper()
	validator, err := validation.NewWorkflowValidator(staticLookup{})
	require.NoError(t, err)
	return NewServer(ServerDeps{
		Store:     ms,
		Submitter: sub,
		Canceller: can,
		Validator: validator,
	})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultPayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	return payload
}

// --- Tests ---

func TestSubmitEventTool(t *testing.T) {
	sub := &mockSubmitter{}
	s := newTestServer(t, &mockStore{}, sub, &mockCanceller{})

	req := buildRequest("automation.submit_event", map[string]any{
		"type":             "message_received",
		"conversation_ref": "conv-1",
		"user_ref":         "user-1",
		"payload":          map[string]any{"content": "hello there"},
	})

	result, err := s.handleSubmitEvent(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	assert.Equal(t, "evt-1", payload["event_id"])

	require.Len(t, sub.events, 1)
	assert.Equal(t, schema.EventMessageReceived, sub.events[0].Type)
	assert.Equal(t, "hello there", sub.events[0].Payload["content"])
	assert.False(t, sub.events[0].OccurredAt.IsZero())
}

func TestSubmitEventToolRejectsUnknownType(t *testing.T) {
	sub := &mockSubmitter{}
	s := newTestServer(t, &mockStore{}, sub, &mockCanceller{})

	req := buildRequest("automation.submit_event", map[string]any{
		"type":             "order_shipped",
		"conversation_ref": "conv-1",
	})

	result, err := s.handleSubmitEvent(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, sub.events)
}

func TestSubmitEventToolRequiresReference(t *testing.T) {
	sub := &mockSubmitter{}
	s := newTestServer(t, &mockStore{}, sub, &mockCanceller{})

	req := buildRequest("automation.submit_event", map[string]any{
		"type": "message_received",
	})

	result, err := s.handleSubmitEvent(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, sub.events)
}

func TestStatusTool(t *testing.T) {
	ms := &mockStore{
		executions: []*store.Execution{
			{ID: "exec-1", WorkflowID: "wf-1", Status: schema.ExecutionStatusWaiting, WaitingNodeID: "ask"},
		},
		audit: []*store.AuditEvent{
			{ExecutionID: "exec-1", Type: schema.AuditExecutionStarted, Timestamp: time.Now().UTC()},
			{ExecutionID: "exec-1", Type: schema.AuditNodeEntered, Timestamp: time.Now().UTC()},
		},
	}
	s := newTestServer(t, ms, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleStatus(context.Background(), buildRequest("automation.status", map[string]any{
		"execution_id": "exec-1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	exec := payload["execution"].(map[string]any)
	assert.Equal(t, "exec-1", exec["id"])
	assert.Equal(t, string(schema.ExecutionStatusWaiting), exec["status"])
	_, hasAudit := payload["audit"]
	assert.False(t, hasAudit)
}

func TestStatusToolWithAudit(t *testing.T) {
	ms := &mockStore{
		executions: []*store.Execution{
			{ID: "exec-1", WorkflowID: "wf-1", Status: schema.ExecutionStatusCompleted},
		},
		audit: []*store.AuditEvent{
			{ExecutionID: "exec-1", Type: schema.AuditExecutionStarted, Timestamp: time.Now().UTC()},
			{ExecutionID: "exec-2", Type: schema.AuditExecutionStarted, Timestamp: time.Now().UTC()},
		},
	}
	s := newTestServer(t, ms, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleStatus(context.Background(), buildRequest("automation.status", map[string]any{
		"execution_id":  "exec-1",
		"include_audit": true,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	audit := payload["audit"].([]any)
	require.Len(t, audit, 1)
}

func TestStatusToolNotFound(t *testing.T) {
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleStatus(context.Background(), buildRequest("automation.status", map[string]any{
		"execution_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelTool(t *testing.T) {
	can := &mockCanceller{}
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, can)

	result, err := s.handleCancel(context.Background(), buildRequest("automation.cancel", map[string]any{
		"execution_id": "exec-1",
		"reason":       "customer opted out",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, can.cancelled, 1)
	assert.Equal(t, "exec-1", can.cancelled[0])
	assert.Equal(t, "customer opted out", can.reasons[0])
}

func TestCancelToolFailure(t *testing.T) {
	can := &mockCanceller{cancelErr: schema.NewError(schema.ErrCodeInvalidTransition, "execution already completed")}
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, can)

	result, err := s.handleCancel(context.Background(), buildRequest("automation.cancel", map[string]any{
		"execution_id": "exec-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryWorkflows(t *testing.T) {
	ms := &mockStore{
		workflows: []*store.Workflow{
			{ID: "wf-1", OwnerID: "owner-1", Status: schema.WorkflowStatusActive},
			{ID: "wf-2", OwnerID: "owner-1", Status: schema.WorkflowStatusDraft},
			{ID: "wf-3", OwnerID: "owner-2", Status: schema.WorkflowStatusActive},
		},
	}
	s := newTestServer(t, ms, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleQuery(context.Background(), buildRequest("automation.query", map[string]any{
		"resource": "workflows",
		"filter":   map[string]any{"status": "active", "owner_id": "owner-1"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	workflows := payload["workflows"].([]any)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-1", workflows[0].(map[string]any)["id"])
}

func TestQueryExecutions(t *testing.T) {
	ms := &mockStore{
		executions: []*store.Execution{
			{ID: "exec-1", WorkflowID: "wf-1", ConversationRef: "conv-1", Status: schema.ExecutionStatusWaiting},
			{ID: "exec-2", WorkflowID: "wf-1", ConversationRef: "conv-2", Status: schema.ExecutionStatusCompleted},
		},
	}
	s := newTestServer(t, ms, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleQuery(context.Background(), buildRequest("automation.query", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"workflow_id": "wf-1", "status": "waiting"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	executions := payload["executions"].([]any)
	require.Len(t, executions, 1)
	assert.Equal(t, "exec-1", executions[0].(map[string]any)["id"])
}

func TestQueryAuditRequiresFilter(t *testing.T) {
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleQuery(context.Background(), buildRequest("automation.query", map[string]any{
		"resource": "audit",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryUnknownResource(t *testing.T) {
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleQuery(context.Background(), buildRequest("automation.query", map[string]any{
		"resource": "agents",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateToolValidDefinition(t *testing.T) {
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleValidate(context.Background(), buildRequest("automation.validate", map[string]any{
		"definition": map[string]any{
			"id":       "wf-1",
			"name":     "greeting",
			"status":   "active",
			"owner_id": "owner-1",
			"nodes": []any{
				map[string]any{
					"id": "start", "kind": "when", "active": true,
					"when": map[string]any{"event_kind": "message_received", "keywords": []any{"hello"}},
				},
				map[string]any{
					"id": "greet", "kind": "action", "active": true,
					"action": map[string]any{"type": "send_message", "params": map[string]any{"content": "hi"}},
				},
			},
			"edges": []any{
				map[string]any{"source": "start", "target": "greet", "kind": "success"},
			},
		},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	assert.Equal(t, true, payload["valid"])
}

func TestValidateToolReportsIssues(t *testing.T) {
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, &mockCanceller{})

	// Cycle between two action nodes and no When node.
	result, err := s.handleValidate(context.Background(), buildRequest("automation.validate", map[string]any{
		"definition": map[string]any{
			"id":       "wf-1",
			"name":     "broken",
			"status":   "active",
			"owner_id": "owner-1",
			"nodes": []any{
				map[string]any{
					"id": "a", "kind": "action", "active": true,
					"action": map[string]any{"type": "send_message", "params": map[string]any{"content": "x"}},
				},
				map[string]any{
					"id": "b", "kind": "action", "active": true,
					"action": map[string]any{"type": "add_tag", "params": map[string]any{"tag": "t"}},
				},
			},
			"edges": []any{
				map[string]any{"source": "a", "target": "b", "kind": "success"},
				map[string]any{"source": "b", "target": "a", "kind": "success"},
			},
		},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	payload := resultPayload(t, result)
	assert.Equal(t, false, payload["valid"])
	errs := payload["errors"].([]any)
	assert.NotEmpty(t, errs)
}

func TestValidateToolRequiresDefinition(t *testing.T) {
	s := newTestServer(t, &mockStore{}, &mockSubmitter{}, &mockCanceller{})

	result, err := s.handleValidate(context.Background(), buildRequest("automation.validate", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
