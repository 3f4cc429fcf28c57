package engine

import (
	"context"
	"database/sql"

	"ringi/internal/domain"
	"ringi/internal/engine/auth"
	"ringi/internal/events"
	"ringi/internal/notify"
	"ringi/internal/repo"
)

type DecisionInput struct {
	StepID  string
	Version int
	Comment *string
}

// decisionContext is what every decision loads before deciding.
type decisionContext struct {
	scoped repo.Scoped
	step   domain.Step
}

// loadDecision applies the shared preconditions in order: the step exists,
// the actor is its assignee, the presented version is current.
func (e Engine) loadDecision(ctx context.Context, p Principal, in DecisionInput, action string) (decisionContext, error) {
	s, err := e.scope(p)
	if err != nil {
		return decisionContext{}, err
	}
	step, err := s.GetStep(ctx, in.StepID)
	if err != nil {
		return decisionContext{}, lookupErr("workflow step", err)
	}
	if err := auth.CheckStepAssignee(step, p.UserID, action); err != nil {
		return decisionContext{}, err
	}
	if step.Version != in.Version {
		return decisionContext{}, &ConflictError{Entity: "workflow step"}
	}
	return decisionContext{scoped: s, step: step}, nil
}

// Approve records an approval. The next pending step becomes active, or the
// instance is approved when none remain.
func (e Engine) Approve(ctx context.Context, p Principal, in DecisionInput) (out WorkflowWithSteps, err error) {
	defer func() { e.observe(ctx, events.WorkflowStepApproved, p, err) }()
	dc, err := e.loadDecision(ctx, p, in, "approve")
	if err != nil {
		return out, err
	}
	s := dc.scoped
	now := e.now()
	approved, err := dc.step.Approved(in.Comment, now)
	if err != nil {
		return out, badRequest(err)
	}
	inst, err := s.GetInstance(ctx, dc.step.InstanceID)
	if err != nil {
		return out, lookupErr("workflow instance", err)
	}
	steps, err := s.ListStepsByInstance(ctx, inst.ID)
	if err != nil {
		return out, storeErr("list steps", err)
	}

	var next *domain.Step
	for i := range steps {
		if steps[i].Status == domain.StepPending {
			next = &steps[i]
			break
		}
	}
	var nextVersion int
	var updated domain.Instance
	if next != nil {
		nextVersion = next.Version
		var activated domain.Step
		if activated, err = next.Activated(now); err != nil {
			return out, badRequest(err)
		}
		*next = activated
		updated, err = inst.AdvancedTo(next.ID, now)
	} else {
		updated, err = inst.Approved(now)
	}
	if err != nil {
		return out, badRequest(err)
	}

	err = e.inTx(ctx, "persist approval", func(tx *sql.Tx) error {
		res, err := s.UpdateStepWithVersionCheck(ctx, tx, approved, in.Version)
		if err := updateErr("workflow step", res, err); err != nil {
			return err
		}
		if next != nil {
			res, err := s.UpdateStepWithVersionCheck(ctx, tx, *next, nextVersion)
			if err := updateErr("workflow step", res, err); err != nil {
				return err
			}
		}
		res, err = s.UpdateInstanceWithVersionCheck(ctx, tx, updated, inst.Version)
		return updateErr("workflow instance", res, err)
	})
	if err != nil {
		return out, err
	}
	out, err = e.loadWorkflow(ctx, s, inst.ID)
	if err != nil {
		return out, err
	}

	e.emit(ctx, events.Event{
		Type: events.WorkflowStepApproved, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_step", EntityID: approved.ID, DisplayID: approved.DisplayID(),
		Payload: map[string]any{"instance": inst.DisplayID(), "step_id": approved.StepID},
	})
	names := e.names(ctx, s.TenantID(), inst.InitiatedBy, p.UserID)
	base := notify.Notification{
		TenantID:          s.TenantID(),
		WorkflowTitle:     out.Instance.Title,
		WorkflowDisplayID: out.Instance.DisplayID(),
		RecipientID:       inst.InitiatedBy,
		RecipientName:     names[inst.InitiatedBy],
		ApplicantName:     names[inst.InitiatedBy],
		ActorName:         names[p.UserID],
	}
	if next == nil {
		e.emit(ctx, events.Event{
			Type: events.WorkflowApproved, TenantID: s.TenantID(), ActorID: p.UserID,
			EntityKind: "workflow_instance", EntityID: inst.ID, DisplayID: inst.DisplayID(),
		})
		final := base
		final.Kind = notify.KindApproved
		e.notify(ctx, final)
		return out, nil
	}
	intermediate := base
	intermediate.Kind = notify.KindStepApproved
	intermediate.StepName = approved.StepName
	e.notify(ctx, intermediate, e.approvalRequest(ctx, out.Instance, *next))
	return out, nil
}

// Reject ends the workflow as rejected.
func (e Engine) Reject(ctx context.Context, p Principal, in DecisionInput) (WorkflowWithSteps, error) {
	return e.terminateStep(ctx, p, in, domain.TerminateReject)
}

// RequestChanges ends the workflow and hands it back to the initiator.
func (e Engine) RequestChanges(ctx context.Context, p Principal, in DecisionInput) (WorkflowWithSteps, error) {
	return e.terminateStep(ctx, p, in, domain.TerminateRequestChanges)
}

var terminationEvents = map[domain.Termination]struct {
	event string
	kind  notify.Kind
}{
	domain.TerminateReject:         {events.WorkflowRejected, notify.KindRejected},
	domain.TerminateRequestChanges: {events.WorkflowChangesRequested, notify.KindChangesRequested},
}

// terminateStep is the one flow behind reject and request changes: the
// active step ends, every pending step is skipped, and the instance takes
// the matching terminal status.
func (e Engine) terminateStep(ctx context.Context, p Principal, in DecisionInput, term domain.Termination) (out WorkflowWithSteps, err error) {
	meta := terminationEvents[term]
	defer func() { e.observe(ctx, meta.event, p, err) }()
	dc, err := e.loadDecision(ctx, p, in, term.String())
	if err != nil {
		return out, err
	}
	s := dc.scoped
	now := e.now()
	ended, err := dc.step.Terminated(term, in.Comment, now)
	if err != nil {
		return out, badRequest(err)
	}
	inst, err := s.GetInstance(ctx, dc.step.InstanceID)
	if err != nil {
		return out, lookupErr("workflow instance", err)
	}
	steps, err := s.ListStepsByInstance(ctx, inst.ID)
	if err != nil {
		return out, storeErr("list steps", err)
	}
	type skip struct {
		step     domain.Step
		expected int
	}
	var skipped []skip
	for _, st := range steps {
		if st.Status != domain.StepPending {
			continue
		}
		next, err := st.Skipped(now)
		if err != nil {
			return out, badRequest(err)
		}
		skipped = append(skipped, skip{step: next, expected: st.Version})
	}
	updated, err := inst.Terminated(term, now)
	if err != nil {
		return out, badRequest(err)
	}

	err = e.inTx(ctx, "persist "+term.String(), func(tx *sql.Tx) error {
		res, err := s.UpdateStepWithVersionCheck(ctx, tx, ended, in.Version)
		if err := updateErr("workflow step", res, err); err != nil {
			return err
		}
		for _, sk := range skipped {
			res, err := s.UpdateStepWithVersionCheck(ctx, tx, sk.step, sk.expected)
			if err := updateErr("workflow step", res, err); err != nil {
				return err
			}
		}
		res, err = s.UpdateInstanceWithVersionCheck(ctx, tx, updated, inst.Version)
		return updateErr("workflow instance", res, err)
	})
	if err != nil {
		return out, err
	}
	out, err = e.loadWorkflow(ctx, s, inst.ID)
	if err != nil {
		return out, err
	}

	e.emit(ctx, events.Event{
		Type: meta.event, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_step", EntityID: ended.ID, DisplayID: ended.DisplayID(),
		Payload: map[string]any{
			"instance": inst.DisplayID(),
			"skipped":  len(skipped),
			"result":   string(updated.Status),
		},
	})
	names := e.names(ctx, s.TenantID(), inst.InitiatedBy, p.UserID)
	e.notify(ctx, notify.Notification{
		Kind:              meta.kind,
		TenantID:          s.TenantID(),
		WorkflowTitle:     out.Instance.Title,
		WorkflowDisplayID: out.Instance.DisplayID(),
		StepName:          ended.StepName,
		Comment:           in.Comment,
		RecipientID:       inst.InitiatedBy,
		RecipientName:     names[inst.InitiatedBy],
		ApplicantName:     names[inst.InitiatedBy],
		ActorName:         names[p.UserID],
	})
	return out, nil
}

// ApproveByDisplayNumber resolves WF-n / STEP-m and approves.
func (e Engine) ApproveByDisplayNumber(ctx context.Context, p Principal, instanceNumber, stepNumber int64, in DecisionInput) (WorkflowWithSteps, error) {
	id, err := e.stepIDByNumbers(ctx, p, instanceNumber, stepNumber)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	in.StepID = id
	return e.Approve(ctx, p, in)
}

func (e Engine) RejectByDisplayNumber(ctx context.Context, p Principal, instanceNumber, stepNumber int64, in DecisionInput) (WorkflowWithSteps, error) {
	id, err := e.stepIDByNumbers(ctx, p, instanceNumber, stepNumber)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	in.StepID = id
	return e.Reject(ctx, p, in)
}

func (e Engine) RequestChangesByDisplayNumber(ctx context.Context, p Principal, instanceNumber, stepNumber int64, in DecisionInput) (WorkflowWithSteps, error) {
	id, err := e.stepIDByNumbers(ctx, p, instanceNumber, stepNumber)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	in.StepID = id
	return e.RequestChanges(ctx, p, in)
}

func (e Engine) stepIDByNumbers(ctx context.Context, p Principal, instanceNumber, stepNumber int64) (string, error) {
	inst, err := e.instanceByNumber(ctx, p, instanceNumber)
	if err != nil {
		return "", err
	}
	s, err := e.scope(p)
	if err != nil {
		return "", err
	}
	step, err := s.GetStepByDisplayNumber(ctx, inst.ID, stepNumber)
	if err != nil {
		return "", lookupErr("workflow step", err)
	}
	return step.ID, nil
}
