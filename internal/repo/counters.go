package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ringi/internal/domain"
)

// NextDisplayNumber allocates the next number of a tenant sequence. It runs in
// its own short transaction so the counter row lock is never held by a
// workflow transaction.
func (r Repo) NextDisplayNumber(ctx context.Context, tenantID string, entityType domain.EntityType) (int64, error) {
	s, err := r.Tenant(tenantID)
	if err != nil {
		return 0, err
	}
	return s.NextDisplayNumber(ctx, entityType)
}

func (s Scoped) NextDisplayNumber(ctx context.Context, entityType domain.EntityType) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var next int64
	err := s.repo.InTx(ctx, func(tx *sql.Tx) error {
		var last int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT last_number FROM display_id_counters WHERE tenant_id=? AND entity_type=?`+s.repo.DB.Dialect.ForUpdate()),
			s.tenantID, string(entityType)).Scan(&last)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: tenant=%s entity_type=%s", ErrCounterNotProvisioned, s.tenantID, entityType)
		}
		if err != nil {
			return err
		}
		next = last + 1
		_, err = tx.ExecContext(ctx, s.q(`UPDATE display_id_counters SET last_number=? WHERE tenant_id=? AND entity_type=?`),
			next, s.tenantID, string(entityType))
		return err
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
