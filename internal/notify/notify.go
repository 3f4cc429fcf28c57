package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type Kind string

const (
	KindApprovalRequest  Kind = "approval_request"
	KindStepApproved     Kind = "step_approved"
	KindApproved         Kind = "approved"
	KindRejected         Kind = "rejected"
	KindChangesRequested Kind = "changes_requested"
)

// Notification is one message to one recipient about a workflow.
type Notification struct {
	Kind              Kind    `json:"kind"`
	TenantID          string  `json:"tenant_id"`
	WorkflowTitle     string  `json:"workflow_title"`
	WorkflowDisplayID string  `json:"workflow_display_id"`
	StepName          string  `json:"step_name,omitempty"`
	Comment           *string `json:"comment,omitempty"`
	RecipientID       string  `json:"recipient_id"`
	RecipientName     string  `json:"recipient_name,omitempty"`
	ApplicantName     string  `json:"applicant_name,omitempty"`
	ActorName         string  `json:"actor_name,omitempty"`
}

// Notifier delivers notifications. Callers treat errors as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log records notifications instead of sending them.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, n Notification) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("tenant_id", n.TenantID),
		zap.String("workflow", n.WorkflowDisplayID),
		zap.String("recipient_id", n.RecipientID),
		zap.String("step_name", n.StepName),
	)
	return nil
}
