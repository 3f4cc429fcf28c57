package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func twoStepDefinition() Definition {
	return Definition{
		ID:      "def-1",
		Name:    "Expense",
		Version: 1,
		Status:  DefinitionPublished,
		Steps: []StepDefinition{
			{ID: "start", Type: "start", Name: "Start"},
			{ID: "manager", Type: StepTypeApproval, Name: "Manager"},
			{ID: "finance", Type: StepTypeApproval, Name: "Finance"},
			{ID: "end", Type: "end", Name: "End"},
		},
	}
}

func draftInstance(t *testing.T) Instance {
	t.Helper()
	inst, err := CreateInstance(NewInstance{
		ID: "inst-1", TenantID: "t1", Definition: twoStepDefinition(),
		DisplayNumber: 7, Title: "Taxi", InitiatedBy: "u0", Now: t0,
	})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return inst
}

func activeStep() Step {
	s := CreateStep(NewStep{ID: "s1", TenantID: "t1", InstanceID: "inst-1", DisplayNumber: 1,
		Definition: StepDefinition{ID: "manager", Type: StepTypeApproval, Name: "Manager"}, AssignedTo: "u1", Now: t0})
	s, _ = s.Activated(t0)
	return s
}

func TestApprovalStepsKeepOrder(t *testing.T) {
	steps, err := twoStepDefinition().ApprovalSteps()
	if err != nil {
		t.Fatalf("approval steps: %v", err)
	}
	if len(steps) != 2 || steps[0].ID != "manager" || steps[1].ID != "finance" {
		t.Fatalf("unexpected steps %+v", steps)
	}
	_, err = Definition{ID: "x", Steps: []StepDefinition{{ID: "a", Type: "start"}}}.ApprovalSteps()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	def := twoStepDefinition()
	if err := def.Validate(); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
	def.Steps = append(def.Steps, StepDefinition{ID: "manager", Type: StepTypeApproval})
	if err := def.Validate(); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	def = twoStepDefinition()
	def.Name = " "
	if err := def.Validate(); err == nil {
		t.Fatalf("expected name error")
	}
	def = twoStepDefinition()
	def.Steps[0].DueInHours = -1
	if err := def.Validate(); err == nil {
		t.Fatalf("expected due_in_hours error")
	}
}

func TestDefinitionPublishOnce(t *testing.T) {
	def := twoStepDefinition()
	def.Status = DefinitionDraft
	pub, err := def.Published(t0)
	if err != nil || pub.Status != DefinitionPublished {
		t.Fatalf("publish: %v %s", err, pub.Status)
	}
	if _, err := pub.Published(t0); err == nil {
		t.Fatalf("expected second publish to fail")
	}
}

func TestMatchApprovers(t *testing.T) {
	steps, _ := twoStepDefinition().ApprovalSteps()
	ok := []Approver{{StepID: "manager", AssignedTo: "u1"}, {StepID: "finance", AssignedTo: "u2"}}
	if err := MatchApprovers(steps, ok); err != nil {
		t.Fatalf("match: %v", err)
	}
	cases := map[string][]Approver{
		"count":    {{StepID: "manager", AssignedTo: "u1"}},
		"position": {{StepID: "finance", AssignedTo: "u2"}, {StepID: "manager", AssignedTo: "u1"}},
		"empty":    {{StepID: "manager", AssignedTo: ""}, {StepID: "finance", AssignedTo: "u2"}},
	}
	for name, approvers := range cases {
		if err := MatchApprovers(steps, approvers); err == nil {
			t.Fatalf("%s: expected mismatch error", name)
		}
	}
}

func TestCreateInstanceRequiresPublished(t *testing.T) {
	def := twoStepDefinition()
	def.Status = DefinitionDraft
	_, err := CreateInstance(NewInstance{ID: "i", Definition: def, Title: "x", Now: t0})
	if err == nil {
		t.Fatalf("expected error for draft definition")
	}
}

func TestInstanceLifecycle(t *testing.T) {
	inst := draftInstance(t)
	if inst.Status != InstanceDraft || inst.Version != 1 {
		t.Fatalf("unexpected draft %+v", inst)
	}
	if inst.DisplayID() != "WF-7" {
		t.Fatalf("display id %s", inst.DisplayID())
	}
	sub, err := inst.Submitted("manager", t0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != InstanceInProgress || sub.SubmittedAt == nil || *sub.CurrentStepID != "manager" {
		t.Fatalf("unexpected submitted %+v", sub)
	}
	if sub.Version != inst.Version {
		t.Fatalf("transitions must not touch version")
	}
	if inst.Status != InstanceDraft {
		t.Fatalf("original value mutated")
	}
	if _, err := sub.Submitted("manager", t0); err == nil {
		t.Fatalf("expected double submit to fail")
	}
	adv, err := sub.AdvancedTo("finance", t0)
	if err != nil || *adv.CurrentStepID != "finance" {
		t.Fatalf("advance: %v", err)
	}
	done, err := adv.Approved(t0)
	if err != nil || done.Status != InstanceApproved || done.CompletedAt == nil {
		t.Fatalf("approve: %v %+v", err, done)
	}
	if _, err := done.Resubmitted(nil, "manager", t0); err == nil {
		t.Fatalf("approved must be final")
	}
}

func TestInstanceTerminationAndResubmit(t *testing.T) {
	for _, term := range []Termination{TerminateReject, TerminateRequestChanges} {
		t.Run(term.String(), func(t *testing.T) {
			sub, _ := draftInstance(t).Submitted("manager", t0)
			ended, err := sub.Terminated(term, t0)
			if err != nil {
				t.Fatalf("terminate: %v", err)
			}
			if ended.Status != term.InstanceStatus() || !ended.Status.Terminal() {
				t.Fatalf("status %s", ended.Status)
			}
			again, err := ended.Resubmitted(map[string]any{"amount": 10}, "manager", t0.Add(time.Hour))
			if err != nil {
				t.Fatalf("resubmit: %v", err)
			}
			if again.Status != InstanceInProgress || again.CompletedAt != nil || again.FormData["amount"] != 10 {
				t.Fatalf("unexpected resubmitted %+v", again)
			}
		})
	}
}

func TestResubmitOnlyFromResumable(t *testing.T) {
	draft := draftInstance(t)
	sub, _ := draft.Submitted("manager", t0)
	approved, _ := sub.Approved(t0)
	for _, inst := range []Instance{draft, sub, approved} {
		_, err := inst.Resubmitted(nil, "manager", t0)
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("resubmit from %s: expected transition error, got %v", inst.Status, err)
		}
	}
}

func TestStepTransitions(t *testing.T) {
	s := activeStep()
	if s.Status != StepActive || s.StartedAt == nil {
		t.Fatalf("activate: %+v", s)
	}
	if _, err := s.Activated(t0); err == nil {
		t.Fatalf("active steps must not re-activate")
	}
	if _, err := s.Skipped(t0); err == nil {
		t.Fatalf("active steps must not be skipped")
	}
	note := "ok"
	ap, err := s.Approved(&note, t0)
	if err != nil || ap.Status != StepApproved || *ap.Decision != DecisionApproved || *ap.Comment != "ok" {
		t.Fatalf("approve: %v %+v", err, ap)
	}
	if _, err := ap.Approved(nil, t0); err == nil {
		t.Fatalf("expected second approval to fail")
	}
	if s.DisplayID() != "STEP-1" {
		t.Fatalf("display id %s", s.DisplayID())
	}
}

func TestStepTerminationDuality(t *testing.T) {
	cases := []struct {
		term     Termination
		status   StepStatus
		decision Decision
	}{
		{TerminateReject, StepRejected, DecisionRejected},
		{TerminateRequestChanges, StepChangesRequested, DecisionRequestChanges},
	}
	for _, tc := range cases {
		got, err := activeStep().Terminated(tc.term, nil, t0)
		if err != nil {
			t.Fatalf("%s: %v", tc.term, err)
		}
		if got.Status != tc.status || *got.Decision != tc.decision || got.CompletedAt == nil {
			t.Fatalf("%s: unexpected %+v", tc.term, got)
		}
		pending := CreateStep(NewStep{ID: "p", Definition: StepDefinition{ID: "x"}, Now: t0})
		if _, err := pending.Terminated(tc.term, nil, t0); err == nil {
			t.Fatalf("%s: pending step must not terminate", tc.term)
		}
	}
}

func TestStepOverdue(t *testing.T) {
	due := t0.Add(24 * time.Hour)
	s := CreateStep(NewStep{ID: "s", Definition: StepDefinition{ID: "x", DueInHours: 24}, Now: t0})
	if s.DueDate == nil || *s.DueDate != Timestamp(due) {
		t.Fatalf("due date %v", s.DueDate)
	}
	if CreateStep(NewStep{ID: "n", Definition: StepDefinition{ID: "x"}, Now: t0}).DueDate != nil {
		t.Fatalf("steps without due_in_hours have no due date")
	}
	if s.IsOverdue(t0) {
		t.Fatalf("not yet due")
	}
	if !s.IsOverdue(due.Add(time.Minute)) {
		t.Fatalf("expected overdue")
	}
	skipped, _ := s.Skipped(t0)
	if skipped.IsOverdue(due.Add(time.Minute)) {
		t.Fatalf("completed steps are never overdue")
	}
}

func TestCommentBody(t *testing.T) {
	if _, err := CreateComment(NewComment{Body: "  ", Now: t0}); err == nil {
		t.Fatalf("blank body accepted")
	}
	if _, err := CreateComment(NewComment{Body: strings.Repeat("あ", MaxCommentLength), Now: t0}); err != nil {
		t.Fatalf("limit counts characters, not bytes: %v", err)
	}
	if _, err := CreateComment(NewComment{Body: strings.Repeat("a", MaxCommentLength+1), Now: t0}); err == nil {
		t.Fatalf("over-long body accepted")
	}
}

func TestParseDisplayID(t *testing.T) {
	cases := map[string]int64{"WF-42": 42, "wf-7": 7, " 13 ": 13}
	for raw, want := range cases {
		got, err := ParseDisplayID(EntityWorkflowInstance, raw)
		if err != nil || got != want {
			t.Fatalf("%q: got %d, %v", raw, got, err)
		}
	}
	for _, raw := range []string{"", "WF-", "STEP-3", "WF-0", "WF--1", "abc"} {
		if _, err := ParseDisplayID(EntityWorkflowInstance, raw); err == nil {
			t.Fatalf("%q should not parse", raw)
		}
	}
	if n, err := ParseDisplayID(EntityWorkflowStep, "STEP-3"); err != nil || n != 3 {
		t.Fatalf("step id: %d %v", n, err)
	}
}
