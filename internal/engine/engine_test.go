package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringi/internal/app"
	"ringi/internal/db"
	"ringi/internal/domain"
	"ringi/internal/engine"
	"ringi/internal/engine/auth"
	"ringi/internal/events"
	"ringi/internal/metrics"
	"ringi/internal/migrate"
	"ringi/internal/notify"
)

var testNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type noteRecorder struct {
	mu    sync.Mutex
	notes []notify.Notification
	err   error
}

func (r *noteRecorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *noteRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, string(n.Kind)+":"+n.RecipientID)
	}
	return out
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Events  *events.Recorder
	Notes   *noteRecorder
	Metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	eng := engine.New(conn)
	var clockMu sync.Mutex
	tick := testNow
	eng.Now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	rec := &events.Recorder{}
	notes := &noteRecorder{}
	m := metrics.New(nil)
	eng.Events = events.Multi{rec, events.Metrics{M: m}}
	eng.Notifier = notes
	eng.Metrics = m

	ctx := context.Background()
	for _, tenant := range []string{"acme", "globex"} {
		_, err := app.ProvisionTenant(ctx, eng.Repo, tenant, strings.ToUpper(tenant), testNow)
		require.NoError(t, err)
	}
	for _, name := range []string{"Alice", "Bob", "Carol", "Dave", "Erin"} {
		_, err := app.UpsertUser(ctx, eng.Repo, nil, domain.User{TenantID: "acme", ID: strings.ToLower(name), Name: name}, testNow)
		require.NoError(t, err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Events: rec, Notes: notes, Metrics: m}
}

func as(user string) engine.Principal {
	return engine.Principal{TenantID: "acme", UserID: user}
}

var stepNames = []string{"manager", "finance", "director", "board", "ceo"}

// publish creates and publishes a definition with n approval steps.
func (env testEnv) publish(t *testing.T, n int) domain.Definition {
	t.Helper()
	steps := make([]domain.StepDefinition, 0, n+1)
	steps = append(steps, domain.StepDefinition{ID: "form", Type: "input", Name: "Form"})
	for i := 0; i < n; i++ {
		steps = append(steps, domain.StepDefinition{ID: stepNames[i], Type: domain.StepTypeApproval, Name: strings.ToUpper(stepNames[i][:1]) + stepNames[i][1:]})
	}
	def, err := env.Engine.CreateDefinition(env.Ctx, as("admin"), engine.CreateDefinitionInput{Name: fmt.Sprintf("Expense %d", n), Steps: steps})
	require.NoError(t, err)
	def, err = env.Engine.PublishDefinition(env.Ctx, as("admin"), def.ID)
	require.NoError(t, err)
	return def
}

func approvers(n int, users ...string) []domain.Approver {
	out := make([]domain.Approver, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Approver{StepID: stepNames[i], AssignedTo: users[i%len(users)]}
	}
	return out
}

// submitted starts a workflow by alice with n steps assigned to users in
// order and returns it after submit.
func (env testEnv) submitted(t *testing.T, n int, users ...string) engine.WorkflowWithSteps {
	t.Helper()
	def := env.publish(t, n)
	inst, err := env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{
		DefinitionID: def.ID, Title: "New laptop", FormData: map[string]any{"amount": 1800.0},
	})
	require.NoError(t, err)
	out, err := env.Engine.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(n, users...)})
	require.NoError(t, err)
	return out
}

func activeStep(t *testing.T, w engine.WorkflowWithSteps) domain.Step {
	t.Helper()
	var found []domain.Step
	for _, st := range w.Steps {
		if st.Status == domain.StepActive {
			found = append(found, st)
		}
	}
	require.Len(t, found, 1, "expected exactly one active step")
	return found[0]
}

func assertAtMostOneActive(t *testing.T, w engine.WorkflowWithSteps) {
	t.Helper()
	n := 0
	for _, st := range w.Steps {
		if st.Status == domain.StepActive {
			n++
		}
	}
	assert.LessOrEqual(t, n, 1, "active steps in %s", w.Instance.DisplayID())
}

func decide(t *testing.T, env testEnv, w engine.WorkflowWithSteps) engine.WorkflowWithSteps {
	t.Helper()
	st := activeStep(t, w)
	out, err := env.Engine.Approve(env.Ctx, as(st.AssignedTo), engine.DecisionInput{StepID: st.ID, Version: st.Version})
	require.NoError(t, err)
	assertAtMostOneActive(t, out)
	return out
}

func TestScenarioATwoStepApproval(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")

	assert.Equal(t, domain.InstanceInProgress, w.Instance.Status)
	require.Len(t, w.Steps, 2)
	assert.Equal(t, domain.StepActive, w.Steps[0].Status)
	assert.Equal(t, "bob", w.Steps[0].AssignedTo)
	assert.Equal(t, domain.StepPending, w.Steps[1].Status)
	assert.Equal(t, "carol", w.Steps[1].AssignedTo)
	require.NotNil(t, w.Instance.CurrentStepID)
	assert.Equal(t, w.Steps[0].ID, *w.Instance.CurrentStepID)
	assert.NotNil(t, w.Instance.SubmittedAt)

	w = decide(t, env, w)
	assert.Equal(t, domain.StepApproved, w.Steps[0].Status)
	assert.Equal(t, domain.StepActive, w.Steps[1].Status)
	assert.Equal(t, domain.InstanceInProgress, w.Instance.Status)
	assert.Equal(t, w.Steps[1].ID, *w.Instance.CurrentStepID)

	w = decide(t, env, w)
	assert.Equal(t, domain.StepApproved, w.Steps[1].Status)
	assert.Equal(t, domain.InstanceApproved, w.Instance.Status)
	assert.NotNil(t, w.Instance.CompletedAt)
	assert.Equal(t, 4, w.Instance.Version)

	assert.Equal(t, []string{
		events.DefinitionCreated, events.DefinitionPublished, events.WorkflowCreated, events.WorkflowSubmitted,
		events.WorkflowStepApproved, events.WorkflowStepApproved, events.WorkflowApproved,
	}, env.Events.Types())
	assert.Equal(t, []string{
		"approval_request:bob", "step_approved:alice", "approval_request:carol", "approved:alice",
	}, env.Notes.kinds())
	assert.Equal(t, "Bob", env.Notes.notes[0].RecipientName)
	assert.Equal(t, "Alice", env.Notes.notes[0].ApplicantName)
	assert.Equal(t, w.Instance.DisplayID(), env.Notes.notes[3].WorkflowDisplayID)
}

func TestScenarioBRejectSkipsRemaining(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	comment := "missing receipt"
	st := activeStep(t, w)

	w, err := env.Engine.Reject(env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version, Comment: &comment})
	require.NoError(t, err)
	assert.Equal(t, domain.StepRejected, w.Steps[0].Status)
	require.NotNil(t, w.Steps[0].Decision)
	assert.Equal(t, domain.DecisionRejected, *w.Steps[0].Decision)
	assert.Equal(t, comment, *w.Steps[0].Comment)
	assert.Equal(t, domain.StepSkipped, w.Steps[1].Status)
	assert.Equal(t, domain.InstanceRejected, w.Instance.Status)

	evts := env.Events.Events()
	last := evts[len(evts)-1]
	assert.Equal(t, events.WorkflowRejected, last.Type)
	assert.Equal(t, "bob", last.ActorID)
	assert.Equal(t, "acme", last.TenantID)
	assert.Equal(t, 1, last.Payload["skipped"])

	kinds := env.Notes.kinds()
	assert.Equal(t, "rejected:alice", kinds[len(kinds)-1])
	assert.Equal(t, comment, *env.Notes.notes[len(env.Notes.notes)-1].Comment)
}

func TestScenarioCStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	st := activeStep(t, w)

	_, err := env.Engine.Approve(env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version - 1})
	var ce *engine.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "fetch the latest state")

	after, err := env.Engine.GetInstance(env.Ctx, as("alice"), w.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, st, after.Steps[0])
	assert.Equal(t, w.Instance.Version, after.Instance.Version)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.Metrics.VersionConflictsTotal.WithLabelValues("workflow step")))
}

func TestScenarioDNonAssigneeForbidden(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	st := activeStep(t, w)

	for _, version := range []int{st.Version, st.Version + 7} {
		_, err := env.Engine.Approve(env.Ctx, as("dave"), engine.DecisionInput{StepID: st.ID, Version: version})
		var fe auth.ForbiddenError
		require.ErrorAs(t, err, &fe, "forbidden must win over version for %d", version)
	}
	_, err := env.Engine.Reject(env.Ctx, as("carol"), engine.DecisionInput{StepID: st.ID, Version: st.Version})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe, "later approver cannot decide the active step")

	after, err := env.Engine.GetInstance(env.Ctx, as("alice"), w.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Version, after.Steps[0].Version)
	assert.Equal(t, domain.StepActive, after.Steps[0].Status)
}

func TestSubmitActivatesExactlyOneStep(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d steps", n), func(t *testing.T) {
			env := newTestEnv(t)
			w := env.submitted(t, n, "bob", "carol")
			assert.Equal(t, domain.InstanceInProgress, w.Instance.Status)
			activeStep(t, w)
			for _, st := range w.Steps[1:] {
				assert.Equal(t, domain.StepPending, st.Status)
			}
		})
	}
}

func TestLastApprovalCompletes(t *testing.T) {
	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("%d steps", n), func(t *testing.T) {
			env := newTestEnv(t)
			w := env.submitted(t, n, "bob", "carol", "dave")
			for i := 0; i < n; i++ {
				w = decide(t, env, w)
			}
			assert.Equal(t, domain.InstanceApproved, w.Instance.Status)
			for _, st := range w.Steps {
				assert.Equal(t, domain.StepApproved, st.Status)
			}
		})
	}
}

func TestTerminationSkipsPendingForAllStepCounts(t *testing.T) {
	terms := map[string]struct {
		call     func(engine.Engine, context.Context, engine.Principal, engine.DecisionInput) (engine.WorkflowWithSteps, error)
		step     domain.StepStatus
		instance domain.InstanceStatus
		decision domain.Decision
	}{
		"reject":          {engine.Engine.Reject, domain.StepRejected, domain.InstanceRejected, domain.DecisionRejected},
		"request_changes": {engine.Engine.RequestChanges, domain.StepChangesRequested, domain.InstanceChangesRequested, domain.DecisionRequestChanges},
	}
	for name, term := range terms {
		for n := 1; n <= 4; n++ {
			for approvedFirst := 0; approvedFirst < n; approvedFirst++ {
				t.Run(fmt.Sprintf("%s/%d steps/%d approved", name, n, approvedFirst), func(t *testing.T) {
					env := newTestEnv(t)
					w := env.submitted(t, n, "bob", "carol")
					for i := 0; i < approvedFirst; i++ {
						w = decide(t, env, w)
					}
					st := activeStep(t, w)
					w, err := term.call(env.Engine, env.Ctx, as(st.AssignedTo), engine.DecisionInput{StepID: st.ID, Version: st.Version})
					require.NoError(t, err)
					assertAtMostOneActive(t, w)
					assert.Equal(t, term.instance, w.Instance.Status)
					for i, s := range w.Steps {
						switch {
						case i < approvedFirst:
							assert.Equal(t, domain.StepApproved, s.Status)
						case i == approvedFirst:
							assert.Equal(t, term.step, s.Status)
							assert.Equal(t, term.decision, *s.Decision)
						default:
							assert.Equal(t, domain.StepSkipped, s.Status)
						}
					}
				})
			}
		}
	}
}

func TestVersionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	st := activeStep(t, w)
	in := engine.DecisionInput{StepID: st.ID, Version: st.Version}

	next, err := env.Engine.Approve(env.Ctx, as("bob"), in)
	require.NoError(t, err)
	assert.Equal(t, st.Version+1, next.Steps[0].Version)
	assert.Equal(t, w.Instance.Version+1, next.Instance.Version)

	_, err = env.Engine.Approve(env.Ctx, as("bob"), in)
	var ce *engine.ConflictError
	require.ErrorAs(t, err, &ce)
}

func TestResubmitFromTerminalStates(t *testing.T) {
	for name, terminate := range map[string]func(engine.Engine, context.Context, engine.Principal, engine.DecisionInput) (engine.WorkflowWithSteps, error){
		"rejected":          engine.Engine.Reject,
		"changes_requested": engine.Engine.RequestChanges,
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.submitted(t, 2, "bob", "carol")
			st := activeStep(t, w)
			w, err := terminate(env.Engine, env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version})
			require.NoError(t, err)

			_, err = env.Engine.Resubmit(env.Ctx, as("alice"), engine.ResubmitInput{
				InstanceID: w.Instance.ID, Approvers: approvers(2, "erin", "carol"), Version: w.Instance.Version - 1,
			})
			var ce *engine.ConflictError
			require.ErrorAs(t, err, &ce)

			_, err = env.Engine.Resubmit(env.Ctx, as("bob"), engine.ResubmitInput{
				InstanceID: w.Instance.ID, Approvers: approvers(2, "erin", "carol"), Version: w.Instance.Version,
			})
			var fe auth.ForbiddenError
			require.ErrorAs(t, err, &fe)

			again, err := env.Engine.Resubmit(env.Ctx, as("alice"), engine.ResubmitInput{
				InstanceID: w.Instance.ID, Approvers: approvers(2, "erin", "carol"), Version: w.Instance.Version,
			})
			require.NoError(t, err)
			assert.Equal(t, domain.InstanceInProgress, again.Instance.Status)
			assert.Nil(t, again.Instance.CompletedAt)
			assert.Equal(t, 1800.0, again.Instance.FormData["amount"], "nil form data keeps the previous payload")
			require.Len(t, again.Steps, 4)
			for _, old := range again.Steps[:2] {
				assert.True(t, old.Status.Terminal())
			}
			first := activeStep(t, again)
			assert.Equal(t, "erin", first.AssignedTo)
			assert.Equal(t, again.Steps[2].ID, first.ID)
			assert.Greater(t, again.Steps[2].DisplayNumber, w.Steps[1].DisplayNumber)

			again = decide(t, env, again)
			again = decide(t, env, again)
			assert.Equal(t, domain.InstanceApproved, again.Instance.Status)

			_, err = env.Engine.PostComment(env.Ctx, as("bob"), again.Instance.DisplayNumber, "glad it went through")
			require.NoError(t, err, "former approver keeps comment standing")
		})
	}
}

func TestResubmitRejectedOutsideResumableStatuses(t *testing.T) {
	env := newTestEnv(t)
	inProgress := env.submitted(t, 1, "bob")
	approved := env.submitted(t, 1, "bob")
	approved = decide(t, env, approved)

	inputs := []engine.ResubmitInput{
		{Approvers: approvers(1, "bob")},
		{Approvers: nil, FormData: map[string]any{"x": 1.0}},
		{Approvers: approvers(3, "bob")},
	}
	for _, w := range []engine.WorkflowWithSteps{inProgress, approved} {
		for i, in := range inputs {
			in.InstanceID = w.Instance.ID
			in.Version = w.Instance.Version + i
			_, err := env.Engine.Resubmit(env.Ctx, as("alice"), in)
			var br *engine.BadRequestError
			require.ErrorAs(t, err, &br, "%s input %d", w.Instance.Status, i)
			var te *domain.TransitionError
			assert.ErrorAs(t, err, &te)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	def := env.publish(t, 2)
	inst, err := env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "Trip"})
	require.NoError(t, err)
	assert.Equal(t, "WF-1", inst.DisplayID())

	cases := map[string][]domain.Approver{
		"too few":      approvers(1, "bob"),
		"too many":     approvers(3, "bob"),
		"wrong order":  {{StepID: "finance", AssignedTo: "bob"}, {StepID: "manager", AssignedTo: "carol"}},
		"empty person": {{StepID: "manager", AssignedTo: "bob"}, {StepID: "finance", AssignedTo: " "}},
	}
	for name, list := range cases {
		_, err := env.Engine.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: list})
		var br *engine.BadRequestError
		require.ErrorAs(t, err, &br, name)
	}

	_, err = env.Engine.Submit(env.Ctx, as("bob"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(2, "bob", "carol")})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	stale := 0
	_, err = env.Engine.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(2, "bob", "carol"), Version: &stale})
	var ce *engine.ConflictError
	require.ErrorAs(t, err, &ce)

	w, err := env.Engine.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(2, "bob", "carol")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Steps[0].DisplayNumber, "rejected submissions allocate no step numbers")
	assert.Equal(t, "STEP-2", w.Steps[1].DisplayID())

	_, err = env.Engine.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(2, "bob", "carol")})
	var br *engine.BadRequestError
	require.ErrorAs(t, err, &br, "second submit")
}

func TestCreateInstanceRules(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.Engine.CreateDefinition(env.Ctx, as("admin"), engine.CreateDefinitionInput{
		Name: "Unpublished", Steps: []domain.StepDefinition{{ID: "a", Type: domain.StepTypeApproval, Name: "A"}},
	})
	require.NoError(t, err)

	_, err = env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: draft.ID, Title: "x"})
	var br *engine.BadRequestError
	require.ErrorAs(t, err, &br)

	_, err = env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: "missing", Title: "x"})
	require.ErrorIs(t, err, engine.ErrNotFound)

	def := env.publish(t, 1)
	_, err = env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID})
	require.ErrorAs(t, err, &br, "title required")

	first, err := env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "a"})
	require.NoError(t, err)
	second, err := env.Engine.CreateInstance(env.Ctx, as("bob"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, first.DisplayNumber+1, second.DisplayNumber)
	assert.Equal(t, domain.InstanceDraft, second.Status)
	assert.Equal(t, 1, second.Version)
}

func TestDefinitionPublishing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateDefinition(env.Ctx, as("admin"), engine.CreateDefinitionInput{
		Name: "No approvals", Steps: []domain.StepDefinition{{ID: "form", Type: "input", Name: "Form"}},
	})
	var br *engine.BadRequestError
	require.ErrorAs(t, err, &br)

	def := env.publish(t, 1)
	_, err = env.Engine.PublishDefinition(env.Ctx, as("admin"), def.ID)
	require.ErrorAs(t, err, &br, "publish twice")

	_, err = env.Engine.CreateDefinition(env.Ctx, as("admin"), engine.CreateDefinitionInput{
		Name: "Draft", Steps: []domain.StepDefinition{{ID: "a", Type: domain.StepTypeApproval, Name: "A"}},
	})
	require.NoError(t, err)
	published, err := env.Engine.ListDefinitions(env.Ctx, as("alice"))
	require.NoError(t, err)
	require.Len(t, published, 1)
	all, err := env.Engine.ListAllDefinitions(env.Ctx, as("alice"))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestComments(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	number := w.Instance.DisplayNumber

	_, err := env.Engine.PostComment(env.Ctx, as("alice"), number, "receipt attached")
	require.NoError(t, err)
	_, err = env.Engine.PostComment(env.Ctx, as("carol"), number, "will review tomorrow")
	require.NoError(t, err, "pending approver holds an assignment")

	_, err = env.Engine.PostComment(env.Ctx, as("dave"), number, "drive-by")
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	var br *engine.BadRequestError
	_, err = env.Engine.PostComment(env.Ctx, as("alice"), number, "   ")
	require.ErrorAs(t, err, &br)
	_, err = env.Engine.PostComment(env.Ctx, as("alice"), number, strings.Repeat("あ", domain.MaxCommentLength+1))
	require.ErrorAs(t, err, &br)
	_, err = env.Engine.PostComment(env.Ctx, as("alice"), number, strings.Repeat("あ", domain.MaxCommentLength))
	require.NoError(t, err)

	_, err = env.Engine.PostComment(env.Ctx, as("alice"), 999, "lost")
	require.ErrorIs(t, err, engine.ErrNotFound)

	comments, err := env.Engine.ListComments(env.Ctx, as("dave"), number)
	require.NoError(t, err)
	require.Len(t, comments, 3)
	assert.Equal(t, "alice", comments[0].PostedBy)

	after, err := env.Engine.GetInstance(env.Ctx, as("alice"), w.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Instance.Version, after.Instance.Version, "comments do not touch versions")
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	first := env.submitted(t, 2, "bob", "carol")
	second := env.submitted(t, 1, "bob")

	tasks, err := env.Engine.ListMyTasks(env.Ctx, as("bob"))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.Instance.ID, tasks[0].Instance.ID)
	assert.False(t, tasks[0].Overdue)

	tasks, err = env.Engine.ListMyTasks(env.Ctx, as("carol"))
	require.NoError(t, err)
	assert.Empty(t, tasks, "pending steps are not tasks yet")

	mine, err := env.Engine.ListMyInstances(env.Ctx, as("alice"), engine.ListInstancesInput{Limit: 1})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second.Instance.ID, mine[0].ID)
	mine, err = env.Engine.ListMyInstances(env.Ctx, as("alice"), engine.ListInstancesInput{Before: mine[0].DisplayNumber})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.Instance.ID, mine[0].ID)

	got, err := env.Engine.GetInstanceByDisplayNumber(env.Ctx, as("dave"), first.Instance.DisplayNumber)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Names["alice"])
	assert.Equal(t, "Carol", got.Names["carol"])

	_, err = env.Engine.GetInstanceByDisplayNumber(env.Ctx, as("alice"), 404)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDisplayNumberAddressing(t *testing.T) {
	env := newTestEnv(t)
	def := env.publish(t, 2)
	inst, err := env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "Trip"})
	require.NoError(t, err)
	w, err := env.Engine.SubmitByDisplayNumber(env.Ctx, as("alice"), inst.DisplayNumber, engine.SubmitInput{Approvers: approvers(2, "bob", "carol")})
	require.NoError(t, err)

	w, err = env.Engine.ApproveByDisplayNumber(env.Ctx, as("bob"), inst.DisplayNumber, w.Steps[0].DisplayNumber, engine.DecisionInput{Version: w.Steps[0].Version})
	require.NoError(t, err)
	w, err = env.Engine.RequestChangesByDisplayNumber(env.Ctx, as("carol"), inst.DisplayNumber, w.Steps[1].DisplayNumber, engine.DecisionInput{Version: w.Steps[1].Version})
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceChangesRequested, w.Instance.Status)

	w, err = env.Engine.ResubmitByDisplayNumber(env.Ctx, as("alice"), inst.DisplayNumber, engine.ResubmitInput{
		Approvers: approvers(2, "bob", "carol"), Version: w.Instance.Version, FormData: map[string]any{"amount": 900.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 900.0, w.Instance.FormData["amount"])
	st := activeStep(t, w)
	w, err = env.Engine.RejectByDisplayNumber(env.Ctx, as("bob"), inst.DisplayNumber, st.DisplayNumber, engine.DecisionInput{Version: st.Version})
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceRejected, w.Instance.Status)

	_, err = env.Engine.ApproveByDisplayNumber(env.Ctx, as("bob"), inst.DisplayNumber, 9999, engine.DecisionInput{})
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 1, "bob")
	st := activeStep(t, w)
	outsider := engine.Principal{TenantID: "globex", UserID: "bob"}

	_, err := env.Engine.Approve(env.Ctx, outsider, engine.DecisionInput{StepID: st.ID, Version: st.Version})
	require.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetInstance(env.Ctx, outsider, w.Instance.ID)
	require.ErrorIs(t, err, engine.ErrNotFound)
	tasks, err := env.Engine.ListMyTasks(env.Ctx, outsider)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = env.Engine.ListMyTasks(env.Ctx, engine.Principal{UserID: "bob"})
	var br *engine.BadRequestError
	require.ErrorAs(t, err, &br, "missing tenant")
}

func TestConcurrentDecisionsOnOneStep(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	st := activeStep(t, w)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := engine.DecisionInput{StepID: st.ID, Version: st.Version}
			if i%2 == 0 {
				_, errs[i] = env.Engine.Approve(env.Ctx, as("bob"), in)
			} else {
				_, errs[i] = env.Engine.Reject(env.Ctx, as("bob"), in)
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var ce *engine.ConflictError
		require.ErrorAs(t, err, &ce)
	}
	assert.Equal(t, 1, wins)

	after, err := env.Engine.GetInstance(env.Ctx, as("alice"), w.Instance.ID)
	require.NoError(t, err)
	assertAtMostOneActive(t, after)
	assert.Equal(t, w.Instance.Version+1, after.Instance.Version)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 1, "bob")
	env.Notes.err = errors.New("smtp down")
	st := activeStep(t, w)

	out, err := env.Engine.Approve(env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version})
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceApproved, out.Instance.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.Metrics.NotificationFailuresTotal.WithLabelValues("approved")))
}

type failingAllocator struct{ err error }

func (f failingAllocator) NextDisplayNumber(context.Context, string, domain.EntityType) (int64, error) {
	return 0, f.err
}

func TestAllocatorFailures(t *testing.T) {
	env := newTestEnv(t)
	def := env.publish(t, 1)
	inst, err := env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "x"})
	require.NoError(t, err)

	eng := env.Engine
	eng.Numbers = failingAllocator{err: errors.New("connection reset by peer")}
	_, err = eng.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(1, "bob")})
	var ie *engine.InternalError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "internal error", err.Error())
	assert.Contains(t, ie.Cause(), "connection reset")

	eng.Numbers = failingAllocator{err: fmt.Errorf("select counter: %w", context.DeadlineExceeded)}
	_, err = eng.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(1, "bob")})
	var ue *engine.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Retryable())

	after, err := env.Engine.GetInstance(env.Ctx, as("alice"), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceDraft, after.Instance.Status)
	assert.Equal(t, 1, after.Instance.Version)
	assert.Empty(t, after.Steps)
}

func TestUnprovisionedCounterIsInternal(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Repo.DB.Exec(`DELETE FROM display_id_counters WHERE tenant_id='acme' AND entity_type='workflow_instance'`)
	require.NoError(t, err)
	def := env.publish(t, 1)
	_, err = env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "x"})
	var ie *engine.InternalError
	require.ErrorAs(t, err, &ie)
}

func TestTaskDetailIsAssigneeOnly(t *testing.T) {
	env := newTestEnv(t)
	w := env.submitted(t, 2, "bob", "carol")
	wf := w.Instance.DisplayNumber

	got, err := env.Engine.GetTaskByDisplayNumbers(env.Ctx, as("bob"), wf, w.Steps[0].DisplayNumber)
	require.NoError(t, err)
	assert.Equal(t, w.Steps[0].ID, got.Step.ID)
	assert.Equal(t, w.Instance.ID, got.Instance.ID)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "Bob", got.Names["bob"])

	pending, err := env.Engine.GetTaskByDisplayNumbers(env.Ctx, as("carol"), wf, w.Steps[1].DisplayNumber)
	require.NoError(t, err, "assignees can read their pending steps")
	assert.Equal(t, domain.StepPending, pending.Step.Status)

	for _, who := range []string{"carol", "alice", "dave"} {
		_, err := env.Engine.GetTaskByDisplayNumbers(env.Ctx, as(who), wf, w.Steps[0].DisplayNumber)
		var fe auth.ForbiddenError
		require.ErrorAs(t, err, &fe, who)
		assert.Equal(t, "view", fe.Action)
	}

	_, err = env.Engine.GetTaskByDisplayNumbers(env.Ctx, as("bob"), wf, 9999)
	require.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetTaskByDisplayNumbers(env.Ctx, engine.Principal{TenantID: "globex", UserID: "bob"}, wf, w.Steps[0].DisplayNumber)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDashboardStatsRollOverAtUTCMidnight(t *testing.T) {
	env := newTestEnv(t)
	clock := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return clock }

	first := env.submitted(t, 1, "bob")
	second := env.submitted(t, 1, "bob")
	third := env.submitted(t, 2, "bob", "carol")

	clock = time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC)
	st := activeStep(t, first)
	_, err := env.Engine.Approve(env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version})
	require.NoError(t, err)

	stats, err := env.Engine.DashboardStats(env.Ctx, as("bob"))
	require.NoError(t, err)
	assert.Equal(t, engine.DashboardStats{ActiveTasks: 2, InProgressInstances: 0, CompletedToday: 1}, stats)
	stats, err = env.Engine.DashboardStats(env.Ctx, as("alice"))
	require.NoError(t, err)
	assert.Equal(t, engine.DashboardStats{InProgressInstances: 2}, stats)

	clock = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	stats, err = env.Engine.DashboardStats(env.Ctx, as("bob"))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CompletedToday, "yesterday's decision no longer counts")

	st = activeStep(t, second)
	_, err = env.Engine.Reject(env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version})
	require.NoError(t, err)
	st = activeStep(t, third)
	_, err = env.Engine.Reject(env.Ctx, as("bob"), engine.DecisionInput{StepID: st.ID, Version: st.Version})
	require.NoError(t, err)

	stats, err = env.Engine.DashboardStats(env.Ctx, as("bob"))
	require.NoError(t, err)
	assert.Equal(t, engine.DashboardStats{ActiveTasks: 0, CompletedToday: 2}, stats, "decisions at 00:00:00 belong to the new day")
	stats, err = env.Engine.DashboardStats(env.Ctx, as("carol"))
	require.NoError(t, err)
	assert.Equal(t, engine.DashboardStats{}, stats, "skipped steps are not decisions")
}

func TestStepDueDatesFollowDefinition(t *testing.T) {
	env := newTestEnv(t)
	clock := testNow
	env.Engine.Now = func() time.Time { return clock }

	def, err := env.Engine.CreateDefinition(env.Ctx, as("admin"), engine.CreateDefinitionInput{Name: "Timed", Steps: []domain.StepDefinition{
		{ID: "manager", Type: domain.StepTypeApproval, Name: "Manager", DueInHours: 48},
		{ID: "finance", Type: domain.StepTypeApproval, Name: "Finance"},
	}})
	require.NoError(t, err)
	_, err = env.Engine.PublishDefinition(env.Ctx, as("admin"), def.ID)
	require.NoError(t, err)
	inst, err := env.Engine.CreateInstance(env.Ctx, as("alice"), engine.CreateInstanceInput{DefinitionID: def.ID, Title: "Timed"})
	require.NoError(t, err)
	w, err := env.Engine.Submit(env.Ctx, as("alice"), engine.SubmitInput{InstanceID: inst.ID, Approvers: approvers(2, "bob", "carol")})
	require.NoError(t, err)

	require.NotNil(t, w.Steps[0].DueDate)
	assert.Equal(t, domain.Timestamp(testNow.Add(48*time.Hour)), *w.Steps[0].DueDate)
	assert.Nil(t, w.Steps[1].DueDate)

	tasks, err := env.Engine.ListMyTasks(env.Ctx, as("bob"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Overdue)

	clock = testNow.Add(49 * time.Hour)
	tasks, err = env.Engine.ListMyTasks(env.Ctx, as("bob"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Overdue)
}
