package engine

import (
	"context"

	"ringi/internal/domain"
	"ringi/internal/events"
)

type CreateDefinitionInput struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Steps       []domain.StepDefinition `yaml:"steps"`
}

// CreateDefinition stores a new draft definition at version 1.
func (e Engine) CreateDefinition(ctx context.Context, p Principal, in CreateDefinitionInput) (def domain.Definition, err error) {
	defer func() { e.observe(ctx, events.DefinitionCreated, p, err) }()
	s, err := e.scope(p)
	if err != nil {
		return def, err
	}
	now := domain.Timestamp(e.now())
	def = domain.Definition{
		ID:          e.newID(),
		TenantID:    s.TenantID(),
		Name:        in.Name,
		Description: in.Description,
		Version:     1,
		Steps:       in.Steps,
		Status:      domain.DefinitionDraft,
		CreatedBy:   p.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := def.Validate(); err != nil {
		return def, badRequest(err)
	}
	if err := s.InsertDefinition(ctx, nil, def); err != nil {
		return def, storeErr("insert definition", err)
	}
	e.emit(ctx, events.Event{
		Type: events.DefinitionCreated, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_definition", EntityID: def.ID,
		Payload: map[string]any{"name": def.Name},
	})
	return def, nil
}

// PublishDefinition makes a draft available for new instances.
func (e Engine) PublishDefinition(ctx context.Context, p Principal, id string) (def domain.Definition, err error) {
	defer func() { e.observe(ctx, events.DefinitionPublished, p, err) }()
	s, err := e.scope(p)
	if err != nil {
		return def, err
	}
	current, err := s.GetDefinition(ctx, id)
	if err != nil {
		return def, lookupErr("workflow definition", err)
	}
	def, err = current.Published(e.now())
	if err != nil {
		return def, badRequest(err)
	}
	res, err := s.UpdateDefinitionStatus(ctx, nil, def, current.Status)
	if err := updateErr("workflow definition", res, err); err != nil {
		return def, err
	}
	e.emit(ctx, events.Event{
		Type: events.DefinitionPublished, TenantID: s.TenantID(), ActorID: p.UserID,
		EntityKind: "workflow_definition", EntityID: def.ID,
	})
	return def, nil
}
