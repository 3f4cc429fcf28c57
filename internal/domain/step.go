package domain

import "time"

type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepActive           StepStatus = "active"
	StepApproved         StepStatus = "approved"
	StepRejected         StepStatus = "rejected"
	StepChangesRequested StepStatus = "changes_requested"
	StepSkipped          StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepApproved, StepRejected, StepChangesRequested, StepSkipped:
		return true
	}
	return false
}

type Decision string

const (
	DecisionApproved       Decision = "approved"
	DecisionRejected       Decision = "rejected"
	DecisionRequestChanges Decision = "request_changes"
)

// Termination selects how an active step ends a workflow early.
type Termination int

const (
	TerminateReject Termination = iota + 1
	TerminateRequestChanges
)

func (t Termination) StepStatus() StepStatus {
	if t == TerminateRequestChanges {
		return StepChangesRequested
	}
	return StepRejected
}

func (t Termination) InstanceStatus() InstanceStatus {
	if t == TerminateRequestChanges {
		return InstanceChangesRequested
	}
	return InstanceRejected
}

func (t Termination) Decision() Decision {
	if t == TerminateRequestChanges {
		return DecisionRequestChanges
	}
	return DecisionRejected
}

func (t Termination) String() string {
	if t == TerminateRequestChanges {
		return "request_changes"
	}
	return "reject"
}

func (t Termination) verb() string {
	if t == TerminateRequestChanges {
		return "request changes on"
	}
	return "reject"
}

type Step struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	InstanceID    string     `json:"instance_id"`
	DisplayNumber int64      `json:"display_number"`
	StepID        string     `json:"step_id"`
	StepName      string     `json:"step_name"`
	StepType      string     `json:"step_type"`
	Status        StepStatus `json:"status" enum:"pending,active,approved,rejected,changes_requested,skipped"`
	Version       int        `json:"version"`
	AssignedTo    string     `json:"assigned_to"`
	Decision      *Decision  `json:"decision,omitempty"`
	Comment       *string    `json:"comment,omitempty"`
	DueDate       *string    `json:"due_date,omitempty" format:"date-time"`
	StartedAt     *string    `json:"started_at,omitempty" format:"date-time"`
	CompletedAt   *string    `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
	UpdatedAt     string     `json:"updated_at" format:"date-time"`
}

type NewStep struct {
	ID            string
	TenantID      string
	InstanceID    string
	DisplayNumber int64
	Definition    StepDefinition
	AssignedTo    string
	Now           time.Time
}

func CreateStep(in NewStep) Step {
	now := Timestamp(in.Now)
	s := Step{
		ID:            in.ID,
		TenantID:      in.TenantID,
		InstanceID:    in.InstanceID,
		DisplayNumber: in.DisplayNumber,
		StepID:        in.Definition.ID,
		StepName:      in.Definition.Name,
		StepType:      StepTypeApproval,
		Status:        StepPending,
		Version:       1,
		AssignedTo:    in.AssignedTo,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if h := in.Definition.DueInHours; h > 0 {
		s.DueDate = strPtr(Timestamp(in.Now.Add(time.Duration(h) * time.Hour)))
	}
	return s
}

func (s Step) DisplayID() string {
	return DisplayID(EntityWorkflowStep, s.DisplayNumber)
}

func (s Step) refuse(op string) error {
	return &TransitionError{Entity: "step", Op: op, From: string(s.Status)}
}

func (s Step) Activated(now time.Time) (Step, error) {
	if s.Status != StepPending {
		return s, s.refuse("activate")
	}
	ts := Timestamp(now)
	s.Status = StepActive
	s.StartedAt = strPtr(ts)
	s.UpdatedAt = ts
	return s, nil
}

func (s Step) Approved(comment *string, now time.Time) (Step, error) {
	if s.Status != StepActive {
		return s, s.refuse("approve")
	}
	return s.decided(StepApproved, DecisionApproved, comment, now), nil
}

// Terminated ends the active step with the status matching term.
func (s Step) Terminated(term Termination, comment *string, now time.Time) (Step, error) {
	if s.Status != StepActive {
		return s, s.refuse(term.verb())
	}
	return s.decided(term.StepStatus(), term.Decision(), comment, now), nil
}

func (s Step) decided(status StepStatus, d Decision, comment *string, now time.Time) Step {
	ts := Timestamp(now)
	s.Status = status
	s.Decision = &d
	s.Comment = comment
	s.CompletedAt = strPtr(ts)
	s.UpdatedAt = ts
	return s
}

func (s Step) Skipped(now time.Time) (Step, error) {
	if s.Status != StepPending {
		return s, s.refuse("skip")
	}
	ts := Timestamp(now)
	s.Status = StepSkipped
	s.CompletedAt = strPtr(ts)
	s.UpdatedAt = ts
	return s, nil
}

// IsOverdue reports whether an unfinished step has passed its due date.
func (s Step) IsOverdue(now time.Time) bool {
	if s.DueDate == nil || s.CompletedAt != nil {
		return false
	}
	due, err := ParseTimestamp(*s.DueDate)
	if err != nil {
		return false
	}
	return now.After(due)
}
