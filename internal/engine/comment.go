package engine

import (
	"context"

	"ringi/internal/domain"
	"ringi/internal/engine/auth"
	"ringi/internal/events"
)

// PostComment appends a remark to WF-n. Only the initiator and current or
// former approvers may comment.
func (e Engine) PostComment(ctx context.Context, p Principal, instanceNumber int64, body string) (c domain.Comment, err error) {
	defer func() { e.observe(ctx, events.WorkflowCommentPosted, p, err) }()
	s, err := e.scope(p)
	if err != nil {
		return c, err
	}
	inst, err := s.GetInstanceByDisplayNumber(ctx, instanceNumber)
	if err != nil {
		return c, lookupErr("workflow instance", err)
	}
	steps, err := s.ListStepsByInstance(ctx, inst.ID)
	if err != nil {
		return c, storeErr("list steps", err)
	}
	if !auth.IsParticipant(inst, steps, p.UserID) {
		return c, auth.ForbiddenError{Action: "comment on", Target: inst.DisplayID()}
	}
	c, err = domain.CreateComment(domain.NewComment{
		ID:         e.newID(),
		TenantID:   s.TenantID(),
		InstanceID: inst.ID,
		PostedBy:   p.UserID,
		Body:       body,
		Now:        e.now(),
	})
	if err != nil {
		return c, badRequest(err)
	}
	if err := s.InsertComment(ctx, nil, c); err != nil {
		return c, storeErr("insert comment", err)
	}
	e.emit(ctx, events.Event{
		Type: events.WorkflowCommentPosted, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_comment", EntityID: c.ID, DisplayID: inst.DisplayID(),
	})
	return c, nil
}

// ListComments returns the comments of WF-n, oldest first.
func (e Engine) ListComments(ctx context.Context, p Principal, instanceNumber int64) ([]domain.Comment, error) {
	inst, err := e.instanceByNumber(ctx, p, instanceNumber)
	if err != nil {
		return nil, err
	}
	s, err := e.scope(p)
	if err != nil {
		return nil, err
	}
	comments, err := s.ListComments(ctx, inst.ID)
	if err != nil {
		return nil, storeErr("list comments", err)
	}
	return comments, nil
}
