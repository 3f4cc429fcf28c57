package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ringi/internal/domain"
	"ringi/internal/repo"
)

// ErrTenantNotSpecified is returned when no tenant can be inferred.
var ErrTenantNotSpecified = errors.New("tenant not specified; use --tenant")

// ResolveTenant picks the active tenant: the override when given, otherwise
// the only tenant in the database.
func ResolveTenant(ctx context.Context, override string, r repo.Repo) (domain.Tenant, error) {
	if id := strings.TrimSpace(override); id != "" {
		t, err := r.GetTenant(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return t, fmt.Errorf("tenant %s not provisioned; run ringi tenant provision %s", id, id)
		}
		return t, err
	}
	tenants, err := r.ListTenants(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	if len(tenants) != 1 {
		return domain.Tenant{}, ErrTenantNotSpecified
	}
	return tenants[0], nil
}

// ProvisionTenant creates the tenant row and its display number counters in
// one transaction. Running it again is a no-op.
func ProvisionTenant(ctx context.Context, r repo.Repo, id, name string, now time.Time) (domain.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Tenant{}, repo.ErrTenantRequired
	}
	if name == "" {
		name = id
	}
	t := domain.Tenant{ID: id, Name: name, CreatedAt: domain.Timestamp(now)}
	err := r.InTx(ctx, func(tx *sql.Tx) error {
		if err := r.InsertTenantTx(ctx, tx, t); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		for _, et := range domain.EntityTypes {
			if err := r.EnsureCounterTx(ctx, tx, id, et); err != nil {
				return fmt.Errorf("provision %s counter: %w", et, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	return r.GetTenant(ctx, id)
}

// NameCache is implemented by resolvers that keep names around.
type NameCache interface {
	Forget(ctx context.Context, tenantID, userID string) error
}

// UpsertUser adds or renames a directory entry for a tenant.
func UpsertUser(ctx context.Context, r repo.Repo, cache NameCache, u domain.User, now time.Time) (domain.User, error) {
	s, err := r.Tenant(u.TenantID)
	if err != nil {
		return u, err
	}
	if strings.TrimSpace(u.ID) == "" {
		return u, errors.New("user id is required")
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	u.CreatedAt = domain.Timestamp(now)
	if err := s.UpsertUser(ctx, nil, u); err != nil {
		return u, err
	}
	if cache != nil {
		if err := cache.Forget(ctx, u.TenantID, u.ID); err != nil {
			return u, fmt.Errorf("invalidate name cache: %w", err)
		}
	}
	return s.GetUser(ctx, u.ID)
}
