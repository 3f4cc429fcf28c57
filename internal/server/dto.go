package server

import (
	"time"

	"ringi/internal/domain"
	"ringi/internal/engine"
)

// Request payloads

type CreateDefinitionRequest struct {
	Name        string                  `json:"name" minLength:"1"`
	Description *string                 `json:"description,omitempty"`
	Steps       []domain.StepDefinition `json:"steps" minItems:"1"`
}

type CreateWorkflowRequest struct {
	DefinitionID string         `json:"definition_id" minLength:"1"`
	Title        string         `json:"title" minLength:"1"`
	FormData     map[string]any `json:"form_data,omitempty"`
}

type SubmitRequest struct {
	Approvers []domain.Approver `json:"approvers" minItems:"1"`
	Version   *int              `json:"version,omitempty"`
}

type ResubmitRequest struct {
	Approvers []domain.Approver `json:"approvers" minItems:"1"`
	FormData  map[string]any    `json:"form_data,omitempty"`
	Version   int               `json:"version" minimum:"1"`
}

type DecisionRequest struct {
	Version int     `json:"version" minimum:"1"`
	Comment *string `json:"comment,omitempty" maxLength:"2000"`
}

type PostCommentRequest struct {
	Body string `json:"body" minLength:"1" maxLength:"2000"`
}

type DevLoginRequest struct {
	TenantID   string `json:"tenant_id"`
	ActorID    string `json:"actor_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// Responses

type InstanceResponse struct {
	ID                string                `json:"id"`
	TenantID          string                `json:"tenant_id"`
	DefinitionID      string                `json:"definition_id"`
	DefinitionVersion int                   `json:"definition_version"`
	DisplayNumber     int64                 `json:"display_number"`
	DisplayID         string                `json:"display_id" example:"WF-42"`
	Title             string                `json:"title"`
	FormData          map[string]any        `json:"form_data"`
	Status            domain.InstanceStatus `json:"status" enum:"draft,in_progress,approved,rejected,changes_requested"`
	Version           int                   `json:"version"`
	InitiatedBy       string                `json:"initiated_by"`
	InitiatedByName   string                `json:"initiated_by_name,omitempty"`
	CurrentStepID     *string               `json:"current_step_id,omitempty"`
	SubmittedAt       *string               `json:"submitted_at,omitempty" format:"date-time"`
	CompletedAt       *string               `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt         string                `json:"created_at" format:"date-time"`
	UpdatedAt         string                `json:"updated_at" format:"date-time"`
}

type StepResponse struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	InstanceID     string            `json:"instance_id"`
	DisplayNumber  int64             `json:"display_number"`
	DisplayID      string            `json:"display_id" example:"STEP-7"`
	StepID         string            `json:"step_id"`
	StepName       string            `json:"step_name"`
	StepType       string            `json:"step_type"`
	Status         domain.StepStatus `json:"status" enum:"pending,active,approved,rejected,changes_requested,skipped"`
	Version        int               `json:"version"`
	AssignedTo     string            `json:"assigned_to"`
	AssignedToName string            `json:"assigned_to_name,omitempty"`
	Decision       *domain.Decision  `json:"decision,omitempty"`
	Comment        *string           `json:"comment,omitempty"`
	DueDate        *string           `json:"due_date,omitempty" format:"date-time"`
	Overdue        bool              `json:"overdue"`
	StartedAt      *string           `json:"started_at,omitempty" format:"date-time"`
	CompletedAt    *string           `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

type WorkflowResponse struct {
	Instance InstanceResponse `json:"instance"`
	Steps    []StepResponse   `json:"steps"`
}

type TaskResponse struct {
	Instance InstanceResponse `json:"instance"`
	Step     StepResponse     `json:"step"`
}

type TaskDetailResponse struct {
	Step     StepResponse     `json:"step"`
	Instance InstanceResponse `json:"instance"`
	Steps    []StepResponse   `json:"steps"`
}

type WhoAmIResponse struct {
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id"`
	Name     string `json:"name,omitempty"`
	Source   string `json:"source"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func instanceResponse(i domain.Instance, names map[string]string) InstanceResponse {
	formData := i.FormData
	if formData == nil {
		formData = map[string]any{}
	}
	return InstanceResponse{
		ID:                i.ID,
		TenantID:          i.TenantID,
		DefinitionID:      i.DefinitionID,
		DefinitionVersion: i.DefinitionVersion,
		DisplayNumber:     i.DisplayNumber,
		DisplayID:         i.DisplayID(),
		Title:             i.Title,
		FormData:          formData,
		Status:            i.Status,
		Version:           i.Version,
		InitiatedBy:       i.InitiatedBy,
		InitiatedByName:   names[i.InitiatedBy],
		CurrentStepID:     i.CurrentStepID,
		SubmittedAt:       i.SubmittedAt,
		CompletedAt:       i.CompletedAt,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

func stepResponse(s domain.Step, names map[string]string, now time.Time) StepResponse {
	return StepResponse{
		ID:             s.ID,
		TenantID:       s.TenantID,
		InstanceID:     s.InstanceID,
		DisplayNumber:  s.DisplayNumber,
		DisplayID:      s.DisplayID(),
		StepID:         s.StepID,
		StepName:       s.StepName,
		StepType:       s.StepType,
		Status:         s.Status,
		Version:        s.Version,
		AssignedTo:     s.AssignedTo,
		AssignedToName: names[s.AssignedTo],
		Decision:       s.Decision,
		Comment:        s.Comment,
		DueDate:        s.DueDate,
		Overdue:        s.IsOverdue(now),
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func workflowResponse(w engine.WorkflowWithSteps, now time.Time) WorkflowResponse {
	steps := make([]StepResponse, 0, len(w.Steps))
	for _, s := range w.Steps {
		steps = append(steps, stepResponse(s, w.Names, now))
	}
	return WorkflowResponse{Instance: instanceResponse(w.Instance, w.Names), Steps: steps}
}

func taskDetailResponse(t engine.TaskDetail, now time.Time) TaskDetailResponse {
	steps := make([]StepResponse, 0, len(t.Steps))
	for _, s := range t.Steps {
		steps = append(steps, stepResponse(s, t.Names, now))
	}
	return TaskDetailResponse{
		Step:     stepResponse(t.Step, t.Names, now),
		Instance: instanceResponse(t.Instance, t.Names),
		Steps:    steps,
	}
}

func mapInstances(items []domain.Instance) []InstanceResponse {
	out := make([]InstanceResponse, 0, len(items))
	for _, i := range items {
		out = append(out, instanceResponse(i, nil))
	}
	return out
}

func mapTasks(items []engine.Task, now time.Time) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, TaskResponse{Instance: instanceResponse(t.Instance, nil), Step: stepResponse(t.Step, nil, now)})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
