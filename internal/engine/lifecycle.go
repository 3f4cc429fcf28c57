package engine

import (
	"context"
	"database/sql"
	"time"

	"ringi/internal/domain"
	"ringi/internal/engine/auth"
	"ringi/internal/events"
	"ringi/internal/notify"
	"ringi/internal/repo"
)

type CreateInstanceInput struct {
	DefinitionID string
	Title        string
	FormData     map[string]any
}

// CreateInstance starts a draft from a published definition.
func (e Engine) CreateInstance(ctx context.Context, p Principal, in CreateInstanceInput) (inst domain.Instance, err error) {
	defer func() { e.observe(ctx, events.WorkflowCreated, p, err) }()
	s, err := e.scope(p)
	if err != nil {
		return inst, err
	}
	def, err := s.GetDefinition(ctx, in.DefinitionID)
	if err != nil {
		return inst, lookupErr("workflow definition", err)
	}
	now := e.now()
	inst, err = domain.CreateInstance(domain.NewInstance{
		ID:          e.newID(),
		TenantID:    s.TenantID(),
		Definition:  def,
		Title:       in.Title,
		FormData:    in.FormData,
		InitiatedBy: p.UserID,
		Now:         now,
	})
	if err != nil {
		return inst, badRequest(err)
	}
	if inst.DisplayNumber, err = e.allocate(ctx, s.TenantID(), domain.EntityWorkflowInstance); err != nil {
		return inst, err
	}
	if err := s.InsertInstance(ctx, nil, inst); err != nil {
		return inst, storeErr("insert instance", err)
	}
	e.emit(ctx, events.Event{
		Type: events.WorkflowCreated, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_instance", EntityID: inst.ID, DisplayID: inst.DisplayID(),
		Payload: map[string]any{"definition_id": def.ID, "title": inst.Title},
	})
	return inst, nil
}

type SubmitInput struct {
	InstanceID string
	Approvers  []domain.Approver
	// Version, when set, must match the stored instance version.
	Version *int
}

// Submit moves a draft into approval with one step per approver.
func (e Engine) Submit(ctx context.Context, p Principal, in SubmitInput) (out WorkflowWithSteps, err error) {
	defer func() { e.observe(ctx, events.WorkflowSubmitted, p, err) }()
	s, err := e.scope(p)
	if err != nil {
		return out, err
	}
	inst, err := s.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return out, lookupErr("workflow instance", err)
	}
	if err := auth.CheckInitiator(inst, p.UserID, "submit"); err != nil {
		return out, err
	}
	if in.Version != nil && *in.Version != inst.Version {
		return out, &ConflictError{Entity: "workflow instance"}
	}
	now := e.now()
	if _, err := inst.Submitted("", now); err != nil {
		return out, badRequest(err)
	}
	steps, err := e.prepareSteps(ctx, s, inst, in.Approvers, now)
	if err != nil {
		return out, err
	}
	next, err := inst.Submitted(steps[0].ID, now)
	if err != nil {
		return out, badRequest(err)
	}
	if err := e.persistRound(ctx, s, inst.Version, next, steps); err != nil {
		return out, err
	}
	out, err = e.loadWorkflow(ctx, s, inst.ID)
	if err != nil {
		return out, err
	}
	e.emit(ctx, events.Event{
		Type: events.WorkflowSubmitted, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_instance", EntityID: inst.ID, DisplayID: inst.DisplayID(),
		Payload: map[string]any{"steps": len(steps)},
	})
	e.notify(ctx, e.approvalRequest(ctx, out.Instance, steps[0]))
	return out, nil
}

type ResubmitInput struct {
	InstanceID string
	// FormData replaces the stored form data when not nil.
	FormData  map[string]any
	Approvers []domain.Approver
	Version   int
}

// Resubmit restarts a rejected or change-requested instance with a fresh
// step set. Earlier steps stay as history.
func (e Engine) Resubmit(ctx context.Context, p Principal, in ResubmitInput) (out WorkflowWithSteps, err error) {
	defer func() { e.observe(ctx, events.WorkflowResubmitted, p, err) }()
	s, err := e.scope(p)
	if err != nil {
		return out, err
	}
	inst, err := s.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return out, lookupErr("workflow instance", err)
	}
	if err := auth.CheckInitiator(inst, p.UserID, "resubmit"); err != nil {
		return out, err
	}
	now := e.now()
	if _, err := inst.Resubmitted(nil, "", now); err != nil {
		return out, badRequest(err)
	}
	if inst.Version != in.Version {
		return out, &ConflictError{Entity: "workflow instance"}
	}
	steps, err := e.prepareSteps(ctx, s, inst, in.Approvers, now)
	if err != nil {
		return out, err
	}
	next, err := inst.Resubmitted(in.FormData, steps[0].ID, now)
	if err != nil {
		return out, badRequest(err)
	}
	if err := e.persistRound(ctx, s, in.Version, next, steps); err != nil {
		return out, err
	}
	out, err = e.loadWorkflow(ctx, s, inst.ID)
	if err != nil {
		return out, err
	}
	e.emit(ctx, events.Event{
		Type: events.WorkflowResubmitted, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_instance", EntityID: inst.ID, DisplayID: inst.DisplayID(),
		Payload: map[string]any{"steps": len(steps), "previous_status": string(inst.Status)},
	})
	e.notify(ctx, e.approvalRequest(ctx, out.Instance, steps[0]))
	return out, nil
}

// prepareSteps validates approvers against the definition and builds the
// numbered step set of a new round, first step active.
func (e Engine) prepareSteps(ctx context.Context, s repo.Scoped, inst domain.Instance, approvers []domain.Approver, now time.Time) ([]domain.Step, error) {
	_, defs, err := e.definitionFor(ctx, s, inst)
	if err != nil {
		return nil, err
	}
	if err := domain.MatchApprovers(defs, approvers); err != nil {
		return nil, badRequest(err)
	}
	steps := make([]domain.Step, 0, len(defs))
	for i, def := range defs {
		number, err := e.allocate(ctx, s.TenantID(), domain.EntityWorkflowStep)
		if err != nil {
			return nil, err
		}
		step := domain.CreateStep(domain.NewStep{
			ID:            e.newID(),
			TenantID:      s.TenantID(),
			InstanceID:    inst.ID,
			DisplayNumber: number,
			Definition:    def,
			AssignedTo:    approvers[i].AssignedTo,
			Now:           now,
		})
		if i == 0 {
			if step, err = step.Activated(now); err != nil {
				return nil, badRequest(err)
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (e Engine) persistRound(ctx context.Context, s repo.Scoped, expected int, inst domain.Instance, steps []domain.Step) error {
	return e.inTx(ctx, "persist submission", func(tx *sql.Tx) error {
		res, err := s.UpdateInstanceWithVersionCheck(ctx, tx, inst, expected)
		if err := updateErr("workflow instance", res, err); err != nil {
			return err
		}
		for _, st := range steps {
			if err := s.InsertStep(ctx, tx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e Engine) approvalRequest(ctx context.Context, inst domain.Instance, step domain.Step) notify.Notification {
	names := e.names(ctx, inst.TenantID, inst.InitiatedBy, step.AssignedTo)
	return notify.Notification{
		Kind:              notify.KindApprovalRequest,
		TenantID:          inst.TenantID,
		WorkflowTitle:     inst.Title,
		WorkflowDisplayID: inst.DisplayID(),
		StepName:          step.StepName,
		RecipientID:       step.AssignedTo,
		RecipientName:     names[step.AssignedTo],
		ApplicantName:     names[inst.InitiatedBy],
	}
}

// SubmitByDisplayNumber resolves WF-n and submits it.
func (e Engine) SubmitByDisplayNumber(ctx context.Context, p Principal, number int64, in SubmitInput) (WorkflowWithSteps, error) {
	inst, err := e.instanceByNumber(ctx, p, number)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	in.InstanceID = inst.ID
	return e.Submit(ctx, p, in)
}

// ResubmitByDisplayNumber resolves WF-n and resubmits it.
func (e Engine) ResubmitByDisplayNumber(ctx context.Context, p Principal, number int64, in ResubmitInput) (WorkflowWithSteps, error) {
	inst, err := e.instanceByNumber(ctx, p, number)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	in.InstanceID = inst.ID
	return e.Resubmit(ctx, p, in)
}

func (e Engine) instanceByNumber(ctx context.Context, p Principal, number int64) (domain.Instance, error) {
	s, err := e.scope(p)
	if err != nil {
		return domain.Instance{}, err
	}
	inst, err := s.GetInstanceByDisplayNumber(ctx, number)
	if err != nil {
		return inst, lookupErr("workflow instance", err)
	}
	return inst, nil
}
