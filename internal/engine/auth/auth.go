package auth

import (
	"fmt"

	"ringi/internal/domain"
)

// ForbiddenError indicates the actor has no standing on the entity.
type ForbiddenError struct {
	Action string
	Target string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not permitted to %s %s", e.Action, e.Target)
}

// CheckStepAssignee requires actorID to be the approver of step.
func CheckStepAssignee(step domain.Step, actorID, action string) error {
	if actorID == "" || step.AssignedTo != actorID {
		return ForbiddenError{Action: action, Target: step.DisplayID()}
	}
	return nil
}

// CheckInitiator requires actorID to be the requester of inst.
func CheckInitiator(inst domain.Instance, actorID, action string) error {
	if actorID == "" || inst.InitiatedBy != actorID {
		return ForbiddenError{Action: action, Target: inst.DisplayID()}
	}
	return nil
}

// IsParticipant reports whether actorID started inst or holds or held an
// assignment on any of its steps.
func IsParticipant(inst domain.Instance, steps []domain.Step, actorID string) bool {
	if actorID == "" {
		return false
	}
	if inst.InitiatedBy == actorID {
		return true
	}
	for _, s := range steps {
		if s.InstanceID == inst.ID && s.AssignedTo == actorID {
			return true
		}
	}
	return false
}
