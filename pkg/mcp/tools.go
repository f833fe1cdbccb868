package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/pkg/schema"
)

// handleSubmitEvent enqueues a business event; matching and execution
// happen asynchronously on the task queue.
func (s *Server) handleSubmitEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	if !schema.KnownEventTypes[schema.EventType(eventType)] {
		return mcp.NewToolResultError(fmt.Sprintf("unknown event type: %s", eventType)), nil
	}

	event := &schema.EventRecord{
		Type:            schema.EventType(eventType),
		Payload:         mcp.ParseStringMap(req, "payload", nil),
		ConversationRef: req.GetString("conversation_ref", ""),
		UserRef:         req.GetString("user_ref", ""),
		OwnerRef:        req.GetString("owner_ref", ""),
		OccurredAt:      time.Now().UTC(),
	}
	if event.ConversationRef == "" && event.OwnerRef == "" {
		return mcp.NewToolResultError("event needs a conversation_ref or owner_ref"), nil
	}

	id, submitErr := s.submitter.SubmitEvent(ctx, event)
	if submitErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event submission failed: %v", submitErr)), nil
	}
	return marshalResult(map[string]any{"event_id": id})
}

// handleStatus returns the current state of an execution.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}

	out := map[string]any{"execution": exec}
	if req.GetBool("include_audit", false) {
		events, auditErr := s.store.GetAudit(ctx, store.AuditFilter{ExecutionID: executionID})
		if auditErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("audit query failed: %v", auditErr)), nil
		}
		out["audit"] = events
	}
	return marshalResult(out)
}

// handleCancel terminates an in-flight execution.
func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	reason := req.GetString("reason", "cancelled by operator")

	if cancelErr := s.canceller.Cancel(ctx, executionID, reason); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
	})
}

// handleQuery lists workflows, executions, or audit events based on filters.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "audit":
		return s.queryAudit(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleValidate runs the authoring-time validation pipeline against a
// definition without persisting anything.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	result := s.validator.Validate(&def)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// --- Query helpers ---

func (s *Server) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ws := schema.WorkflowStatus(status)
		wf.Status = &ws
	}
	if ownerID, ok := filter["owner_id"].(string); ok {
		wf.OwnerID = ownerID
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *Server) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = wfID
	}
	if convRef, ok := filter["conversation_ref"].(string); ok {
		ef.ConversationRef = convRef
	}
	if ownerID, ok := filter["owner_id"].(string); ok {
		ef.OwnerID = ownerID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ef.Statuses = []schema.ExecutionStatus{schema.ExecutionStatus(status)}
	}

	executions, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

func (s *Server) queryAudit(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	af := store.AuditFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if executionID, ok := filter["execution_id"].(string); ok {
		af.ExecutionID = executionID
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		af.WorkflowID = wfID
	}
	if eventType, ok := filter["event_type"].(string); ok {
		af.EventType = eventType
	}
	if af.ExecutionID == "" && af.WorkflowID == "" && af.EventType == "" {
		return mcp.NewToolResultError("audit query requires 'execution_id', 'workflow_id', or 'event_type' in filter"), nil
	}

	events, err := s.store.GetAudit(ctx, af)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
