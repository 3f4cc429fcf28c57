package domain

import "time"

type InstanceStatus string

const (
	InstanceDraft            InstanceStatus = "draft"
	InstanceInProgress       InstanceStatus = "in_progress"
	InstanceApproved         InstanceStatus = "approved"
	InstanceRejected         InstanceStatus = "rejected"
	InstanceChangesRequested InstanceStatus = "changes_requested"
)

// Resumable reports whether a resubmission may start from s.
func (s InstanceStatus) Resumable() bool {
	return s == InstanceRejected || s == InstanceChangesRequested
}

func (s InstanceStatus) Terminal() bool {
	return s == InstanceApproved || s.Resumable()
}

// Instance is one case started from a definition. Transition methods return
// a modified copy; Version is advanced by the store, never here.
type Instance struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	DefinitionID      string         `json:"definition_id"`
	DefinitionVersion int            `json:"definition_version"`
	DisplayNumber     int64          `json:"display_number"`
	Title             string         `json:"title"`
	FormData          map[string]any `json:"form_data,omitempty"`
	Status            InstanceStatus `json:"status" enum:"draft,in_progress,approved,rejected,changes_requested"`
	Version           int            `json:"version"`
	InitiatedBy       string         `json:"initiated_by"`
	CurrentStepID     *string        `json:"current_step_id,omitempty"`
	SubmittedAt       *string        `json:"submitted_at,omitempty" format:"date-time"`
	CompletedAt       *string        `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
}

type NewInstance struct {
	ID            string
	TenantID      string
	Definition    Definition
	DisplayNumber int64
	Title         string
	FormData      map[string]any
	InitiatedBy   string
	Now           time.Time
}

func CreateInstance(in NewInstance) (Instance, error) {
	if in.Definition.Status != DefinitionPublished {
		return Instance{}, invalid("definition_id", "definition %s is not published", in.Definition.ID)
	}
	if in.Title == "" {
		return Instance{}, invalid("title", "title is required")
	}
	now := Timestamp(in.Now)
	return Instance{
		ID:                in.ID,
		TenantID:          in.TenantID,
		DefinitionID:      in.Definition.ID,
		DefinitionVersion: in.Definition.Version,
		DisplayNumber:     in.DisplayNumber,
		Title:             in.Title,
		FormData:          in.FormData,
		Status:            InstanceDraft,
		Version:           1,
		InitiatedBy:       in.InitiatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (i Instance) DisplayID() string {
	return DisplayID(EntityWorkflowInstance, i.DisplayNumber)
}

func (i Instance) refuse(op string) error {
	return &TransitionError{Entity: "instance", Op: op, From: string(i.Status)}
}

// Submitted moves a draft into progress with firstStepID as the current step.
func (i Instance) Submitted(firstStepID string, now time.Time) (Instance, error) {
	if i.Status != InstanceDraft {
		return i, i.refuse("submit")
	}
	ts := Timestamp(now)
	i.Status = InstanceInProgress
	i.CurrentStepID = strPtr(firstStepID)
	i.SubmittedAt = strPtr(ts)
	i.UpdatedAt = ts
	return i, nil
}

func (i Instance) AdvancedTo(stepID string, now time.Time) (Instance, error) {
	if i.Status != InstanceInProgress {
		return i, i.refuse("advance")
	}
	i.CurrentStepID = strPtr(stepID)
	i.UpdatedAt = Timestamp(now)
	return i, nil
}

func (i Instance) Approved(now time.Time) (Instance, error) {
	if i.Status != InstanceInProgress {
		return i, i.refuse("approve")
	}
	ts := Timestamp(now)
	i.Status = InstanceApproved
	i.CompletedAt = strPtr(ts)
	i.UpdatedAt = ts
	return i, nil
}

// Terminated ends an in-progress instance with the status matching term.
func (i Instance) Terminated(term Termination, now time.Time) (Instance, error) {
	if i.Status != InstanceInProgress {
		return i, i.refuse(term.verb())
	}
	ts := Timestamp(now)
	i.Status = term.InstanceStatus()
	i.CompletedAt = strPtr(ts)
	i.UpdatedAt = ts
	return i, nil
}

// Resubmitted restarts a rejected or change-requested instance.
func (i Instance) Resubmitted(formData map[string]any, firstStepID string, now time.Time) (Instance, error) {
	if !i.Status.Resumable() {
		return i, i.refuse("resubmit")
	}
	ts := Timestamp(now)
	i.Status = InstanceInProgress
	if formData != nil {
		i.FormData = formData
	}
	i.CurrentStepID = strPtr(firstStepID)
	i.SubmittedAt = strPtr(ts)
	i.CompletedAt = nil
	i.UpdatedAt = ts
	return i, nil
}
