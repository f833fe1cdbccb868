package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/convohq/automation/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the audit log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, owner_id, status, priority, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OwnerID, string(wf.Status), wf.Priority, string(def),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	wf := &Workflow{}
	var status, defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, status, priority, definition, created_at, updated_at
		 FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.OwnerID, &status, &wf.Priority, &defJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var set []string
	var args []any

	if update.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Priority != nil {
		set = append(set, "priority = ?")
		args = append(args, *update.Priority)
	}
	if update.Definition != nil {
		def, err := json.Marshal(update.Definition)
		if err != nil {
			return fmt.Errorf("marshal definition: %w", err)
		}
		set = append(set, "definition = ?")
		args = append(args, string(def))
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE workflows SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	query := `SELECT id, owner_id, status, priority, definition, created_at, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf := &Workflow{}
		var status, defJSON string
		if err := rows.Scan(&wf.ID, &wf.OwnerID, &status, &wf.Priority, &defJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Status = schema.WorkflowStatus(status)
		if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	execCtx, err := marshalMapOrDefault(ex.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, owner_id, conversation_ref, user_ref, event_id, status, waiting_node_id, trigger_snapshot, context, result, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.WorkflowID, ex.OwnerID, nullStr(ex.ConversationRef), nullStr(ex.UserRef),
		nullStr(ex.EventID), string(ex.Status), nullStr(ex.WaitingNodeID), nullRaw(ex.TriggerSnapshot),
		string(execCtx), nullRaw(ex.Result), nullRaw(ex.Error),
		timeOrNow(ex.CreatedAt), nullTime(ex.StartedAt), nullTime(ex.CompletedAt), timeOrNow(ex.UpdatedAt),
	)
	return err
}

const executionColumns = `id, workflow_id, owner_id, conversation_ref, user_ref, event_id, status, waiting_node_id, trigger_snapshot, context, result, error, created_at, started_at, completed_at, updated_at`

func scanExecution(scan func(dest ...any) error) (*Execution, error) {
	ex := &Execution{}
	var (
		conversation, userRef, waitingNode sql.NullString
		eventID                            sql.NullString
		trigger, ctxJSON, result, errJSON  sql.NullString
		startedAt, completedAt             sql.NullTime
		status                             string
	)
	if err := scan(&ex.ID, &ex.WorkflowID, &ex.OwnerID, &conversation, &userRef, &eventID, &status,
		&waitingNode, &trigger, &ctxJSON, &result, &errJSON,
		&ex.CreatedAt, &startedAt, &completedAt, &ex.UpdatedAt); err != nil {
		return nil, err
	}
	ex.ConversationRef = conversation.String
	ex.UserRef = userRef.String
	ex.EventID = eventID.String
	ex.Status = schema.ExecutionStatus(status)
	ex.WaitingNodeID = waitingNode.String
	ex.TriggerSnapshot = rawOrNil(trigger)
	if ctxJSON.Valid && ctxJSON.String != "" {
		_ = json.Unmarshal([]byte(ctxJSON.String), &ex.Context)
	}
	ex.Result = rawOrNil(result)
	ex.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		ex.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ex.CompletedAt = &completedAt.Time
	}
	return ex, nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	ex, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var set []string
	var args []any

	if update.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Context != nil {
		ctxJSON, err := marshalMapOrDefault(update.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		set = append(set, "context = ?")
		args = append(args, string(ctxJSON))
	}
	if update.Result != nil {
		set = append(set, "result = ?")
		args = append(args, string(update.Result))
	}
	if update.Error != nil {
		set = append(set, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE executions SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ConversationRef != "" {
		where = append(where, "conversation_ref = ?")
		args = append(args, filter.ConversationRef)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, rows.Err()
}

func (s *LibSQLStore) HasActiveExecution(ctx context.Context, workflowID, conversationRef string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM executions
		 WHERE workflow_id = ? AND conversation_ref = ? AND status IN ('running', 'waiting', 'pending')`,
		workflowID, conversationRef,
	).Scan(&n)
	return n > 0, err
}

func (s *LibSQLStore) HasCompletedExecution(ctx context.Context, workflowID, conversationRef string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM executions
		 WHERE workflow_id = ? AND conversation_ref = ? AND status = 'completed'`,
		workflowID, conversationRef,
	).Scan(&n)
	return n > 0, err
}

func (s *LibSQLStore) HasExecutionForEvent(ctx context.Context, workflowID, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM executions WHERE workflow_id = ? AND event_id = ?`,
		workflowID, eventID,
	).Scan(&n)
	return n > 0, err
}

func (s *LibSQLStore) MarkWaiting(ctx context.Context, executionID, nodeID string, execCtx map[string]any) error {
	ctxJSON, err := marshalMapOrDefault(execCtx)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = 'waiting', waiting_node_id = ?, context = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'running'`,
		nodeID, string(ctxJSON), executionID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", executionID)
}

// ClaimWaiting is the single-winner gate for resume and timeout races: the
// row flips waiting→running only while it is still waiting on nodeID.
func (s *LibSQLStore) ClaimWaiting(ctx context.Context, executionID, nodeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = 'running', waiting_node_id = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'waiting' AND waiting_node_id = ?`,
		executionID, nodeID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// --- Action executions ---

func (s *LibSQLStore) CreateActionExecution(ctx context.Context, ae *ActionExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_executions (id, execution_id, node_id, action_type, status, output, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ae.ID, ae.ExecutionID, ae.NodeID, ae.ActionType, string(ae.Status),
		nullRaw(ae.Output), nullRaw(ae.Error), nullTime(ae.StartedAt), nullTime(ae.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateActionExecution(ctx context.Context, id string, status schema.ActionStatus, output, errInfo []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_executions SET status = ?, output = ?, error = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), nullRaw(output), nullRaw(errInfo), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "action execution", id)
}

func (s *LibSQLStore) ListActionExecutions(ctx context.Context, executionID string) ([]*ActionExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, action_type, status, output, error, started_at, completed_at
		 FROM action_executions WHERE execution_id = ? ORDER BY started_at ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*ActionExecution
	for rows.Next() {
		ae := &ActionExecution{}
		var status string
		var output, errJSON sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&ae.ID, &ae.ExecutionID, &ae.NodeID, &ae.ActionType, &status, &output, &errJSON, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		ae.Status = schema.ActionStatus(status)
		ae.Output = rawOrNil(output)
		ae.Error = rawOrNil(errJSON)
		if startedAt.Valid {
			ae.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			ae.CompletedAt = &completedAt.Time
		}
		actions = append(actions, ae)
	}
	return actions, rows.Err()
}

func (s *LibSQLStore) FailPendingActions(ctx context.Context, executionID string, errInfo []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE action_executions SET status = 'failed', error = ?, completed_at = CURRENT_TIMESTAMP
		 WHERE execution_id = ? AND status IN ('pending', 'running')`,
		nullRaw(errInfo), executionID,
	)
	return err
}

// --- User responses ---

func (s *LibSQLStore) CreateUserResponse(ctx context.Context, ur *UserResponse) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_responses (id, execution_id, node_id, content, valid, error_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ur.ID, ur.ExecutionID, ur.NodeID, ur.Content, boolToInt(ur.Valid), ur.ErrorCount, timeOrNow(ur.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListUserResponses(ctx context.Context, executionID string) ([]*UserResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, content, valid, error_count, created_at
		 FROM user_responses WHERE execution_id = ? ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []*UserResponse
	for rows.Next() {
		ur := &UserResponse{}
		var valid int
		if err := rows.Scan(&ur.ID, &ur.ExecutionID, &ur.NodeID, &ur.Content, &valid, &ur.ErrorCount, &ur.CreatedAt); err != nil {
			return nil, err
		}
		ur.Valid = valid != 0
		responses = append(responses, ur)
	}
	return responses, rows.Err()
}

// --- Audit log ---

func (s *LibSQLStore) GetAudit(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error) {
	var where []string
	var args []any

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}

	query := `SELECT id, execution_id, workflow_id, node_id, event_type, payload, timestamp, sequence FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		e := &AuditEvent{}
		var executionID, workflowID, nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &executionID, &workflowID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.ExecutionID = executionID.String
		e.WorkflowID = workflowID.String
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Task queue ---

func (s *LibSQLStore) EnqueueTask(ctx context.Context, task *Task) error {
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, kind, payload, run_at, attempts, max_attempts, status, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Kind, nullRaw(task.Payload), timeOrNow(task.RunAt),
		task.Attempts, task.MaxAttempts, task.Status, nullStr(task.LastError),
		timeOrNow(task.CreatedAt), timeOrNow(task.UpdatedAt),
	)
	return err
}

// ClaimDueTasks flips due pending rows to running one by one; a row that
// another poller claimed in between is simply skipped.
func (s *LibSQLStore) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tasks WHERE status = 'pending' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*Task
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = 'running', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = 'pending'`, id)
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n != 1 {
			continue // lost the claim
		}
		task, err := s.getTask(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}

func (s *LibSQLStore) getTask(ctx context.Context, id string) (*Task, error) {
	t := &Task{}
	var payload, lastErr sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, run_at, attempts, max_attempts, status, last_error, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Kind, &payload, &t.RunAt, &t.Attempts, &t.MaxAttempts, &t.Status, &lastErr, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	t.Payload = rawOrNil(payload)
	t.LastError = lastErr.String
	return t, nil
}

func (s *LibSQLStore) CompleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'done', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "task", id)
}

func (s *LibSQLStore) RetryTask(ctx context.Context, id string, runAt time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', run_at = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		runAt, lastError, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "task", id)
}

func (s *LibSQLStore) DeadTask(ctx context.Context, id string, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'dead', last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		lastError, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "task", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
