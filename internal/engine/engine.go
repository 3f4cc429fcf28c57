package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ringi/internal/db"
	"ringi/internal/directory"
	"ringi/internal/domain"
	"ringi/internal/events"
	"ringi/internal/logging"
	"ringi/internal/metrics"
	"ringi/internal/notify"
	"ringi/internal/repo"
)

// NumberAllocator hands out per tenant display numbers. Each call commits on
// its own.
type NumberAllocator interface {
	NextDisplayNumber(ctx context.Context, tenantID string, entityType domain.EntityType) (int64, error)
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	TenantID string
	UserID   string
}

type Engine struct {
	Repo     repo.Repo
	Numbers  NumberAllocator
	Events   events.Sink
	Notifier notify.Notifier
	Names    directory.Resolver
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

func New(conn *db.DB) Engine {
	r := repo.Repo{DB: conn}
	return Engine{
		Repo:    r,
		Numbers: r,
		Names:   directory.SQL{Repo: r},
		Logger:  zap.NewNop(),
		Now:     time.Now,
	}
}

// WorkflowWithSteps is an instance with every step it ever had, oldest first.
type WorkflowWithSteps struct {
	Instance domain.Instance   `json:"instance"`
	Steps    []domain.Step     `json:"steps"`
	Names    map[string]string `json:"names,omitempty"`
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger(ctx context.Context) *zap.Logger {
	return logging.From(ctx, e.Logger)
}

func (e Engine) scope(p Principal) (repo.Scoped, error) {
	s, err := e.Repo.Tenant(p.TenantID)
	if err != nil {
		return s, badRequest(err)
	}
	return s, nil
}

func (e Engine) allocate(ctx context.Context, tenantID string, entityType domain.EntityType) (int64, error) {
	numbers := e.Numbers
	if numbers == nil {
		numbers = e.Repo
	}
	n, err := numbers.NextDisplayNumber(ctx, tenantID, entityType)
	if err != nil {
		return 0, storeErr("allocate "+string(entityType)+" number", err)
	}
	e.Metrics.Allocated(string(entityType), 1)
	return n, nil
}

// inTx runs fn in one transaction and classifies whatever it returns.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return storeErr(op, e.Repo.InTx(ctx, fn))
}

// observe records the outcome of a mutating operation.
func (e Engine) observe(ctx context.Context, action string, p Principal, err error) {
	if err == nil {
		return
	}
	result := resultLabel(err)
	e.Metrics.Event(action, result)
	log := e.logger(ctx).With(
		zap.String("action", action),
		zap.String("tenant_id", p.TenantID),
		zap.String("actor_id", p.UserID),
		zap.String("result", result),
	)
	var ce *ConflictError
	var ie *InternalError
	var ue *UnavailableError
	switch {
	case errors.As(err, &ce):
		e.Metrics.Conflict(ce.Entity)
		log.Warn("version conflict", zap.String("entity", ce.Entity))
	case errors.As(err, &ie):
		log.Error("operation failed", zap.String("cause", ie.Cause()))
	case errors.As(err, &ue):
		log.Error("store unavailable", zap.Error(ue.Err))
	}
}

func (e Engine) emit(ctx context.Context, evt events.Event) {
	if e.Events == nil {
		return
	}
	if evt.TS == "" {
		evt.TS = domain.Timestamp(e.now())
	}
	e.Events.Emit(ctx, evt)
}

func (e Engine) notify(ctx context.Context, notes ...notify.Notification) {
	if e.Notifier == nil {
		return
	}
	for _, n := range notes {
		if err := e.Notifier.Notify(ctx, n); err != nil {
			e.Metrics.NotificationFailed(string(n.Kind))
			e.logger(ctx).Warn("notification failed",
				zap.String("kind", string(n.Kind)),
				zap.String("tenant_id", n.TenantID),
				zap.String("workflow", n.WorkflowDisplayID),
				zap.Error(err),
			)
		}
	}
}

// names resolves display names for enrichment. Failures yield an empty map.
func (e Engine) names(ctx context.Context, tenantID string, ids ...string) map[string]string {
	if e.Names == nil || len(ids) == 0 {
		return map[string]string{}
	}
	out, err := e.Names.ResolveNames(ctx, tenantID, ids)
	if err != nil {
		e.logger(ctx).Warn("name resolution failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return map[string]string{}
	}
	return out
}

// loadWorkflow reads an instance with its steps after a commit.
func (e Engine) loadWorkflow(ctx context.Context, s repo.Scoped, instanceID string) (WorkflowWithSteps, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return WorkflowWithSteps{}, lookupErr("workflow instance", err)
	}
	steps, err := s.ListStepsByInstance(ctx, instanceID)
	if err != nil {
		return WorkflowWithSteps{}, storeErr("list steps", err)
	}
	return WorkflowWithSteps{Instance: inst, Steps: steps}, nil
}

func (e Engine) definitionFor(ctx context.Context, s repo.Scoped, inst domain.Instance) (domain.Definition, []domain.StepDefinition, error) {
	def, err := s.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return def, nil, lookupErr("workflow definition", err)
	}
	if def.Status != domain.DefinitionPublished {
		return def, nil, badRequest(&domain.ValidationError{Field: "definition_id", Message: "definition " + def.ID + " is not published"})
	}
	steps, err := def.ApprovalSteps()
	if err != nil {
		return def, nil, storeErr("read approval steps", err)
	}
	return def, steps, nil
}
