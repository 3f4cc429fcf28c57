package repo

import (
	"context"
	"database/sql"

	"ringi/internal/domain"
)

func (s Scoped) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.conn(tx).ExecContext(ctx, s.q(`INSERT INTO users(tenant_id, id, name, email, created_at) VALUES (?,?,?,?,?)
ON CONFLICT(tenant_id, id) DO UPDATE SET name=excluded.name, email=excluded.email`),
		s.tenantID, u.ID, u.Name, nullable(u.Email), u.CreatedAt)
	return err
}

func (s Scoped) GetUser(ctx context.Context, id string) (domain.User, error) {
	if err := s.check(); err != nil {
		return domain.User{}, err
	}
	var u domain.User
	var email sql.NullString
	err := s.repo.DB.QueryRowContext(ctx, s.q(`SELECT id, tenant_id, name, email, created_at FROM users WHERE tenant_id=? AND id=?`), s.tenantID, id).
		Scan(&u.ID, &u.TenantID, &u.Name, &email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Email = email.String
	return u, err
}

// UsersByIDs returns the known users among ids; unknown ids are left out.
func (s Scoped) UsersByIDs(ctx context.Context, ids []string) ([]domain.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{s.tenantID}
	for _, id := range ids {
		args = append(args, id)
	}
	return s.queryUsers(ctx, `SELECT id, tenant_id, name, email, created_at FROM users WHERE tenant_id=? AND id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
}

func (s Scoped) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.queryUsers(ctx, `SELECT id, tenant_id, name, email, created_at FROM users WHERE tenant_id=? ORDER BY id`, s.tenantID)
}

func (s Scoped) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.repo.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Name, &email, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		res = append(res, u)
	}
	return res, rows.Err()
}
