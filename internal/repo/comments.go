package repo

import (
	"context"
	"database/sql"

	"ringi/internal/domain"
)

func (s Scoped) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.conn(tx).ExecContext(ctx, s.q(`INSERT INTO workflow_comments(id, tenant_id, instance_id, posted_by, body, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`),
		c.ID, s.tenantID, c.InstanceID, c.PostedBy, c.Body, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s Scoped) ListComments(ctx context.Context, instanceID string) ([]domain.Comment, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.repo.DB.QueryContext(ctx, s.q(`SELECT id, tenant_id, instance_id, posted_by, body, created_at, updated_at
FROM workflow_comments WHERE tenant_id=? AND instance_id=? ORDER BY created_at, id`), s.tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TenantID, &c.InstanceID, &c.PostedBy, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
