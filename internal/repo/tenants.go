package repo

import (
	"context"
	"database/sql"

	"ringi/internal/domain"
)

func (r Repo) InsertTenantTx(ctx context.Context, tx *sql.Tx, t domain.Tenant) error {
	_, err := tx.ExecContext(ctx, r.DB.Dialect.Rebind(`INSERT INTO tenants(id, name, created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`),
		t.ID, t.Name, t.CreatedAt)
	return err
}

// EnsureCounterTx provisions the display number row for one sequence.
func (r Repo) EnsureCounterTx(ctx context.Context, tx *sql.Tx, tenantID string, entityType domain.EntityType) error {
	_, err := tx.ExecContext(ctx, r.DB.Dialect.Rebind(`INSERT INTO display_id_counters(tenant_id, entity_type, last_number) VALUES (?,?,0) ON CONFLICT(tenant_id, entity_type) DO NOTHING`),
		tenantID, string(entityType))
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, r.DB.Dialect.Rebind(`SELECT id, name, created_at FROM tenants WHERE id=?`), id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
