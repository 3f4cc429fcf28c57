package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ringi/internal/domain"
)

const instanceColumns = `id, tenant_id, definition_id, definition_version, display_number, title, form_data_json, status, version, initiated_by, current_step_id, submitted_at, completed_at, created_at, updated_at`

func scanInstance(row rowScanner) (domain.Instance, error) {
	var i domain.Instance
	var form, status string
	var current, submitted, completed sql.NullString
	err := row.Scan(&i.ID, &i.TenantID, &i.DefinitionID, &i.DefinitionVersion, &i.DisplayNumber, &i.Title, &form, &status,
		&i.Version, &i.InitiatedBy, &current, &submitted, &completed, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.Status = domain.InstanceStatus(status)
	i.CurrentStepID = stringPtr(current)
	i.SubmittedAt = stringPtr(submitted)
	i.CompletedAt = stringPtr(completed)
	if form != "" {
		if err := json.Unmarshal([]byte(form), &i.FormData); err != nil {
			return i, fmt.Errorf("decode form data of %s: %w", i.ID, err)
		}
	}
	return i, nil
}

func marshalForm(form map[string]any) (string, error) {
	if len(form) == 0 {
		return "{}", nil
	}
	return marshalJSON(form)
}

func (s Scoped) InsertInstance(ctx context.Context, tx *sql.Tx, i domain.Instance) error {
	if err := s.check(); err != nil {
		return err
	}
	form, err := marshalForm(i.FormData)
	if err != nil {
		return err
	}
	_, err = s.conn(tx).ExecContext(ctx, s.q(`INSERT INTO workflow_instances(`+instanceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		i.ID, s.tenantID, i.DefinitionID, i.DefinitionVersion, i.DisplayNumber, i.Title, form, string(i.Status), i.Version,
		i.InitiatedBy, nullableStringPtr(i.CurrentStepID), nullableStringPtr(i.SubmittedAt), nullableStringPtr(i.CompletedAt), i.CreatedAt, i.UpdatedAt)
	return err
}

func (s Scoped) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	if err := s.check(); err != nil {
		return domain.Instance{}, err
	}
	return scanInstance(s.repo.DB.QueryRowContext(ctx, s.q(`SELECT `+instanceColumns+` FROM workflow_instances WHERE tenant_id=? AND id=?`), s.tenantID, id))
}

func (s Scoped) GetInstanceByDisplayNumber(ctx context.Context, number int64) (domain.Instance, error) {
	if err := s.check(); err != nil {
		return domain.Instance{}, err
	}
	return scanInstance(s.repo.DB.QueryRowContext(ctx, s.q(`SELECT `+instanceColumns+` FROM workflow_instances WHERE tenant_id=? AND display_number=?`), s.tenantID, number))
}

// ListInstancesByInitiator pages newest first; before > 0 continues after
// that display number.
func (s Scoped) ListInstancesByInitiator(ctx context.Context, userID string, limit int, before int64) ([]domain.Instance, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE tenant_id=? AND initiated_by=?`
	args := []any{s.tenantID, userID}
	if before > 0 {
		query += ` AND display_number < ?`
		args = append(args, before)
	}
	query += ` ORDER BY display_number DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.repo.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// CountInstancesByInitiator counts the instances a user started that are
// in status.
func (s Scoped) CountInstancesByInitiator(ctx context.Context, userID string, status domain.InstanceStatus) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int
	err := s.repo.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM workflow_instances WHERE tenant_id=? AND initiated_by=? AND status=?`),
		s.tenantID, userID, string(status)).Scan(&n)
	return n, err
}

// UpdateInstanceWithVersionCheck writes i only if the stored version still
// equals expected, bumping it by one.
func (s Scoped) UpdateInstanceWithVersionCheck(ctx context.Context, tx *sql.Tx, i domain.Instance, expected int) (UpdateResult, error) {
	if err := s.check(); err != nil {
		return NotFound, err
	}
	form, err := marshalForm(i.FormData)
	if err != nil {
		return NotFound, err
	}
	var version int
	err = s.conn(tx).QueryRowContext(ctx, s.q(`UPDATE workflow_instances SET
title=?, form_data_json=?, status=?, version=version+1, current_step_id=?, submitted_at=?, completed_at=?, updated_at=?
WHERE id=? AND tenant_id=? AND version=? RETURNING version`),
		i.Title, form, string(i.Status), nullableStringPtr(i.CurrentStepID), nullableStringPtr(i.SubmittedAt), nullableStringPtr(i.CompletedAt), i.UpdatedAt,
		i.ID, s.tenantID, expected).Scan(&version)
	if err == nil {
		return Updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return NotFound, err
	}
	return s.probe(ctx, tx, "workflow_instances", i.ID)
}
