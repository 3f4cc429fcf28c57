package domain

import (
	"strings"
	"time"
)

type DefinitionStatus string

const (
	DefinitionDraft     DefinitionStatus = "draft"
	DefinitionPublished DefinitionStatus = "published"
)

const StepTypeApproval = "approval"

type StepDefinition struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
	Name string `json:"name" yaml:"name"`
	// DueInHours, when positive, gives each step of a round a due date that
	// many hours after the round was submitted.
	DueInHours int `json:"due_in_hours,omitempty" yaml:"due_in_hours,omitempty" minimum:"0"`
}

type Definition struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"`
	Steps       []StepDefinition `json:"steps"`
	Status      DefinitionStatus `json:"status" enum:"draft,published"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

// ApprovalSteps returns the approval steps in execution order.
func (d Definition) ApprovalSteps() ([]StepDefinition, error) {
	var out []StepDefinition
	for _, s := range d.Steps {
		if s.Type == StepTypeApproval {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, invalid("steps", "definition %s has no approval steps", d.ID)
	}
	return out, nil
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return invalid("name", "name is required")
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if strings.TrimSpace(s.ID) == "" {
			return invalid("steps", "step %d has no id", i)
		}
		if s.Type == "" {
			return invalid("steps", "step %s has no type", s.ID)
		}
		if s.DueInHours < 0 {
			return invalid("steps", "step %s has a negative due_in_hours", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return invalid("steps", "duplicate step id %s", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	_, err := d.ApprovalSteps()
	return err
}

func (d Definition) Published(now time.Time) (Definition, error) {
	if d.Status != DefinitionDraft {
		return d, &TransitionError{Entity: "definition", Op: "publish", From: string(d.Status)}
	}
	d.Status = DefinitionPublished
	d.UpdatedAt = Timestamp(now)
	return d, nil
}

// Approver binds an approval step to the user who decides it.
type Approver struct {
	StepID     string `json:"step_id"`
	AssignedTo string `json:"assigned_to"`
}

// MatchApprovers checks approvers against the approval steps positionally.
func MatchApprovers(steps []StepDefinition, approvers []Approver) error {
	if len(approvers) != len(steps) {
		return invalid("approvers", "approver count (%d) does not match approval step count (%d)", len(approvers), len(steps))
	}
	for i, a := range approvers {
		if a.StepID != steps[i].ID {
			return invalid("approvers", "approver %d targets step %q, expected %q", i, a.StepID, steps[i].ID)
		}
		if strings.TrimSpace(a.AssignedTo) == "" {
			return invalid("approvers", "approver for step %s is empty", a.StepID)
		}
	}
	return nil
}
