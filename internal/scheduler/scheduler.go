// Package scheduler turns cron expressions on When nodes into synthetic
// schedule events. It never runs workflows itself: a due schedule produces
// an event on the durable queue, and the matcher binds it back to its
// workflow through the payload.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

// tickInterval is the sweep period. A cron expression's minimum resolution
// is one minute, so sweeping every minute never skips a firing.
const tickInterval = 60 * time.Second

// dedupWindow suppresses duplicate firings of the same schedule slot when
// several scheduler instances share one process, or a tick overruns.
const dedupWindow = 90 * time.Second

// EventSubmitter enqueues a synthesized event. Satisfied by the task
// runner; the indirection keeps the scheduler off the runner's imports.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, event *schema.EventRecord) (string, error)
}

// Scheduler sweeps active workflows for due schedule triggers.
type Scheduler struct {
	store     store.Store
	submitter EventSubmitter
	state     *ttlstate.Store
	parser    cron.Parser
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func New(s store.Store, submitter EventSubmitter, state *ttlstate.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     s,
		submitter: submitter,
		state:     state,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop shuts the sweep loop down and waits for it.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick sweeps all active workflows once, firing every schedule trigger that
// became due within the last tick window. Exported for tests and for an
// initial sweep at startup.
func (s *Scheduler) Tick(ctx context.Context) {
	active := schema.WorkflowStatusActive
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{Status: &active})
	if err != nil {
		s.logger.Error("schedule sweep failed to list workflows", "error", err)
		return
	}

	now := s.now().UTC()
	for _, wf := range workflows {
		for i := range wf.Definition.Nodes {
			node := &wf.Definition.Nodes[i]
			if node.Kind != schema.NodeKindWhen || !node.Active || node.When == nil {
				continue
			}
			if node.When.EventKind != schema.EventSchedule || node.When.Schedule == "" {
				continue
			}
			fireAt, due := s.dueWithin(node.When.Schedule, now, tickInterval)
			if !due {
				continue
			}
			s.fire(ctx, wf, node, fireAt)
		}
	}
}

// dueWithin reports whether the cron expression fires inside (now-window,
// now], and at what instant.
func (s *Scheduler) dueWithin(expr string, now time.Time, window time.Duration) (time.Time, bool) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		s.logger.Warn("unparseable cron expression, skipping", "cron", expr, "error", err)
		return time.Time{}, false
	}
	next := schedule.Next(now.Add(-window))
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}
	return next, true
}

func (s *Scheduler) fire(ctx context.Context, wf *store.Workflow, node *schema.Node, fireAt time.Time) {
	slot := fmt.Sprintf("%s@%d", node.ID, fireAt.Unix())
	key := ttlstate.ScheduleDedupKey(wf.ID, slot)
	if s.state != nil && !s.state.SetIfAbsent(key, true, dedupWindow) {
		return
	}
	if !s.tryAcquire(key) {
		return
	}
	defer s.release(key)

	event := &schema.EventRecord{
		Type:     schema.EventSchedule,
		OwnerRef: wf.OwnerID,
		Payload: map[string]any{
			"workflow_id": wf.ID,
			"node_id":     node.ID,
			"fired_at":    fireAt.Format(time.RFC3339),
		},
		OccurredAt: fireAt,
	}
	id, err := s.submitter.SubmitEvent(ctx, event)
	if err != nil {
		s.logger.Error("schedule firing failed to enqueue", "workflow", wf.ID, "node", node.ID, "error", err)
		return
	}
	s.audit(ctx, wf, node, id)
	s.logger.Info("schedule fired", "workflow", wf.ID, "node", node.ID, "event", id)
}

func (s *Scheduler) audit(ctx context.Context, wf *store.Workflow, node *schema.Node, eventID string) {
	payload, _ := json.Marshal(map[string]any{"event_id": eventID, "cron": node.When.Schedule})
	evt := &store.AuditEvent{
		WorkflowID: wf.ID,
		NodeID:     node.ID,
		Type:       schema.AuditScheduleTriggered,
		Payload:    payload,
	}
	if err := s.store.AppendAudit(ctx, evt); err != nil {
		s.logger.Error("schedule audit append failed", "workflow", wf.ID, "error", err)
	}
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}

// NextRun computes the next firing of a cron expression after from. Used by
// validation and by the status surfaces.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}
