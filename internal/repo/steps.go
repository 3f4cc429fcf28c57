package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ringi/internal/domain"
)

const stepColumns = `id, tenant_id, instance_id, display_number, step_id, step_name, step_type, status, version, assigned_to, decision, comment, due_date, started_at, completed_at, created_at, updated_at`

func scanStep(row rowScanner) (domain.Step, error) {
	var st domain.Step
	var status string
	var decision, comment, due, started, completed sql.NullString
	err := row.Scan(&st.ID, &st.TenantID, &st.InstanceID, &st.DisplayNumber, &st.StepID, &st.StepName, &st.StepType, &status,
		&st.Version, &st.AssignedTo, &decision, &comment, &due, &started, &completed, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	if err != nil {
		return st, err
	}
	st.Status = domain.StepStatus(status)
	if decision.Valid {
		d := domain.Decision(decision.String)
		st.Decision = &d
	}
	st.Comment = stringPtr(comment)
	st.DueDate = stringPtr(due)
	st.StartedAt = stringPtr(started)
	st.CompletedAt = stringPtr(completed)
	return st, nil
}

func decisionValue(d *domain.Decision) any {
	if d == nil {
		return nil
	}
	return string(*d)
}

func (s Scoped) InsertStep(ctx context.Context, tx *sql.Tx, st domain.Step) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.conn(tx).ExecContext(ctx, s.q(`INSERT INTO workflow_steps(`+stepColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		st.ID, s.tenantID, st.InstanceID, st.DisplayNumber, st.StepID, st.StepName, st.StepType, string(st.Status), st.Version,
		st.AssignedTo, decisionValue(st.Decision), nullableStringPtr(st.Comment), nullableStringPtr(st.DueDate),
		nullableStringPtr(st.StartedAt), nullableStringPtr(st.CompletedAt), st.CreatedAt, st.UpdatedAt)
	return err
}

func (s Scoped) GetStep(ctx context.Context, id string) (domain.Step, error) {
	if err := s.check(); err != nil {
		return domain.Step{}, err
	}
	return scanStep(s.repo.DB.QueryRowContext(ctx, s.q(`SELECT `+stepColumns+` FROM workflow_steps WHERE tenant_id=? AND id=?`), s.tenantID, id))
}

func (s Scoped) GetStepByDisplayNumber(ctx context.Context, instanceID string, number int64) (domain.Step, error) {
	if err := s.check(); err != nil {
		return domain.Step{}, err
	}
	return scanStep(s.repo.DB.QueryRowContext(ctx, s.q(`SELECT `+stepColumns+` FROM workflow_steps WHERE tenant_id=? AND instance_id=? AND display_number=?`),
		s.tenantID, instanceID, number))
}

// ListStepsByInstance returns every step of an instance, including earlier
// submissions, in allocation order.
func (s Scoped) ListStepsByInstance(ctx context.Context, instanceID string) ([]domain.Step, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.querySteps(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE tenant_id=? AND instance_id=? ORDER BY display_number`, s.tenantID, instanceID)
}

// ListStepsByAssignee lists a user's steps, optionally by status, newest first.
func (s Scoped) ListStepsByAssignee(ctx context.Context, userID string, status domain.StepStatus) ([]domain.Step, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE tenant_id=? AND assigned_to=?`
	args := []any{s.tenantID, userID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY display_number DESC`
	return s.querySteps(ctx, query, args...)
}

// CountStepsByAssignee counts a user's steps in status.
func (s Scoped) CountStepsByAssignee(ctx context.Context, userID string, status domain.StepStatus) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int
	err := s.repo.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM workflow_steps WHERE tenant_id=? AND assigned_to=? AND status=?`),
		s.tenantID, userID, string(status)).Scan(&n)
	return n, err
}

// CountDecisionsBetween counts the steps a user decided with
// from <= completed_at < to. Skipped steps carry no decision and are not
// counted.
func (s Scoped) CountDecisionsBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int
	err := s.repo.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM workflow_steps
WHERE tenant_id=? AND assigned_to=? AND decision IS NOT NULL AND completed_at >= ? AND completed_at < ?`),
		s.tenantID, userID, domain.Timestamp(from), domain.Timestamp(to)).Scan(&n)
	return n, err
}

func (s Scoped) querySteps(ctx context.Context, query string, args ...any) ([]domain.Step, error) {
	rows, err := s.repo.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// UpdateStepWithVersionCheck writes st only if the stored version still
// equals expected, bumping it by one.
func (s Scoped) UpdateStepWithVersionCheck(ctx context.Context, tx *sql.Tx, st domain.Step, expected int) (UpdateResult, error) {
	if err := s.check(); err != nil {
		return NotFound, err
	}
	var version int
	err := s.conn(tx).QueryRowContext(ctx, s.q(`UPDATE workflow_steps SET
status=?, version=version+1, assigned_to=?, decision=?, comment=?, due_date=?, started_at=?, completed_at=?, updated_at=?
WHERE id=? AND tenant_id=? AND version=? RETURNING version`),
		string(st.Status), st.AssignedTo, decisionValue(st.Decision), nullableStringPtr(st.Comment), nullableStringPtr(st.DueDate),
		nullableStringPtr(st.StartedAt), nullableStringPtr(st.CompletedAt), st.UpdatedAt,
		st.ID, s.tenantID, expected).Scan(&version)
	if err == nil {
		return Updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return NotFound, err
	}
	return s.probe(ctx, tx, "workflow_steps", st.ID)
}
