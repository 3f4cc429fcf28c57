package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ringi/internal/metrics"
)

const (
	DefinitionCreated        = "definition.created"
	DefinitionPublished      = "definition.published"
	WorkflowCreated          = "workflow.created"
	WorkflowSubmitted        = "workflow.submitted"
	WorkflowStepApproved     = "workflow.step_approved"
	WorkflowApproved         = "workflow.approved"
	WorkflowRejected         = "workflow.rejected"
	WorkflowChangesRequested = "workflow.changes_requested"
	WorkflowResubmitted      = "workflow.resubmitted"
	WorkflowCommentPosted    = "workflow.comment_posted"
)

// Event is a business fact emitted after a committed mutation.
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	ActorID    string         `json:"actor_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	DisplayID  string         `json:"display_id,omitempty"`
	TS         string         `json:"ts"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Sink receives events. Emit is best-effort and must not block for long.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Multi fans an event out to every sink.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

// Log writes events to a zap logger at info level.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Emit(_ context.Context, evt Event) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("workflow event",
		zap.String("type", evt.Type),
		zap.String("tenant_id", evt.TenantID),
		zap.String("actor_id", evt.ActorID),
		zap.String("entity_kind", evt.EntityKind),
		zap.String("entity_id", evt.EntityID),
		zap.String("display_id", evt.DisplayID),
		zap.Any("payload", evt.Payload),
	)
}

// Metrics counts committed events by type.
type Metrics struct {
	M *metrics.Metrics
}

func (s Metrics) Emit(_ context.Context, evt Event) {
	s.M.Event(evt.Type, "committed")
}

// Recorder keeps events in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
