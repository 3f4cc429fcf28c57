package engine

import (
	"context"
	"time"

	"ringi/internal/domain"
	"ringi/internal/engine/auth"
)

const defaultPageSize = 50

// ListDefinitions returns the published definitions of the tenant.
func (e Engine) ListDefinitions(ctx context.Context, p Principal) ([]domain.Definition, error) {
	s, err := e.scope(p)
	if err != nil {
		return nil, err
	}
	defs, err := s.ListDefinitions(ctx, domain.DefinitionPublished)
	if err != nil {
		return nil, storeErr("list definitions", err)
	}
	return defs, nil
}

// ListAllDefinitions includes drafts.
func (e Engine) ListAllDefinitions(ctx context.Context, p Principal) ([]domain.Definition, error) {
	s, err := e.scope(p)
	if err != nil {
		return nil, err
	}
	defs, err := s.ListDefinitions(ctx, "")
	if err != nil {
		return nil, storeErr("list definitions", err)
	}
	return defs, nil
}

func (e Engine) GetDefinition(ctx context.Context, p Principal, id string) (domain.Definition, error) {
	s, err := e.scope(p)
	if err != nil {
		return domain.Definition{}, err
	}
	def, err := s.GetDefinition(ctx, id)
	if err != nil {
		return def, lookupErr("workflow definition", err)
	}
	return def, nil
}

type ListInstancesInput struct {
	Limit int
	// Before continues a listing below this display number.
	Before int64
}

// ListMyInstances lists the instances the caller started, newest first.
func (e Engine) ListMyInstances(ctx context.Context, p Principal, in ListInstancesInput) ([]domain.Instance, error) {
	s, err := e.scope(p)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	insts, err := s.ListInstancesByInitiator(ctx, p.UserID, limit, in.Before)
	if err != nil {
		return nil, storeErr("list instances", err)
	}
	return insts, nil
}

// GetInstance returns an instance, its steps and the names of everyone
// involved.
func (e Engine) GetInstance(ctx context.Context, p Principal, id string) (WorkflowWithSteps, error) {
	s, err := e.scope(p)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	out, err := e.loadWorkflow(ctx, s, id)
	if err != nil {
		return out, err
	}
	out.Names = e.workflowNames(ctx, out)
	return out, nil
}

func (e Engine) GetInstanceByDisplayNumber(ctx context.Context, p Principal, number int64) (WorkflowWithSteps, error) {
	inst, err := e.instanceByNumber(ctx, p, number)
	if err != nil {
		return WorkflowWithSteps{}, err
	}
	return e.GetInstance(ctx, p, inst.ID)
}

func (e Engine) workflowNames(ctx context.Context, w WorkflowWithSteps) map[string]string {
	ids := []string{w.Instance.InitiatedBy}
	for _, st := range w.Steps {
		ids = append(ids, st.AssignedTo)
	}
	return e.names(ctx, w.Instance.TenantID, ids...)
}

// Task is an active step waiting on the caller.
type Task struct {
	Step     domain.Step     `json:"step"`
	Instance domain.Instance `json:"instance"`
	Overdue  bool            `json:"overdue"`
}

// ListMyTasks returns the active steps assigned to the caller with their
// instances, newest first.
func (e Engine) ListMyTasks(ctx context.Context, p Principal) ([]Task, error) {
	s, err := e.scope(p)
	if err != nil {
		return nil, err
	}
	steps, err := s.ListStepsByAssignee(ctx, p.UserID, domain.StepActive)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	now := e.now()
	instances := map[string]domain.Instance{}
	tasks := make([]Task, 0, len(steps))
	for _, st := range steps {
		inst, ok := instances[st.InstanceID]
		if !ok {
			inst, err = s.GetInstance(ctx, st.InstanceID)
			if err != nil {
				return nil, lookupErr("workflow instance", err)
			}
			instances[st.InstanceID] = inst
		}
		tasks = append(tasks, Task{Step: st, Instance: inst, Overdue: st.IsOverdue(now)})
	}
	return tasks, nil
}

// TaskDetail is one of the caller's steps with the whole workflow around it.
type TaskDetail struct {
	Step     domain.Step       `json:"step"`
	Instance domain.Instance   `json:"instance"`
	Steps    []domain.Step     `json:"steps"`
	Names    map[string]string `json:"names,omitempty"`
	Overdue  bool              `json:"overdue"`
}

// GetTaskByDisplayNumbers resolves WF-n/STEP-m into a task. Only the step's
// assignee may read it, whatever the step status.
func (e Engine) GetTaskByDisplayNumbers(ctx context.Context, p Principal, workflowNumber, stepNumber int64) (TaskDetail, error) {
	s, err := e.scope(p)
	if err != nil {
		return TaskDetail{}, err
	}
	inst, err := s.GetInstanceByDisplayNumber(ctx, workflowNumber)
	if err != nil {
		return TaskDetail{}, lookupErr("workflow instance", err)
	}
	step, err := s.GetStepByDisplayNumber(ctx, inst.ID, stepNumber)
	if err != nil {
		return TaskDetail{}, lookupErr("workflow step", err)
	}
	if err := auth.CheckStepAssignee(step, p.UserID, "view"); err != nil {
		return TaskDetail{}, err
	}
	steps, err := s.ListStepsByInstance(ctx, inst.ID)
	if err != nil {
		return TaskDetail{}, storeErr("list steps", err)
	}
	out := TaskDetail{Step: step, Instance: inst, Steps: steps, Overdue: step.IsOverdue(e.now())}
	out.Names = e.workflowNames(ctx, WorkflowWithSteps{Instance: inst, Steps: steps})
	return out, nil
}

type DashboardStats struct {
	// ActiveTasks counts steps waiting on the caller.
	ActiveTasks int `json:"active_tasks"`
	// InProgressInstances counts workflows the caller started that are
	// still in approval.
	InProgressInstances int `json:"in_progress_instances"`
	// CompletedToday counts the caller's decisions since 00:00 UTC.
	CompletedToday int `json:"completed_today"`
}

// DashboardStats summarizes the caller's workload. The day boundary is the
// UTC midnight before the engine clock.
func (e Engine) DashboardStats(ctx context.Context, p Principal) (DashboardStats, error) {
	s, err := e.scope(p)
	if err != nil {
		return DashboardStats{}, err
	}
	var out DashboardStats
	if out.ActiveTasks, err = s.CountStepsByAssignee(ctx, p.UserID, domain.StepActive); err != nil {
		return DashboardStats{}, storeErr("count tasks", err)
	}
	if out.InProgressInstances, err = s.CountInstancesByInitiator(ctx, p.UserID, domain.InstanceInProgress); err != nil {
		return DashboardStats{}, storeErr("count instances", err)
	}
	now := e.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if out.CompletedToday, err = s.CountDecisionsBetween(ctx, p.UserID, start, start.Add(24*time.Hour)); err != nil {
		return DashboardStats{}, storeErr("count decisions", err)
	}
	return out, nil
}
