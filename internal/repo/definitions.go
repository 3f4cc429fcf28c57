package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ringi/internal/domain"
)

const definitionColumns = `id, tenant_id, name, description, version, definition_json, status, created_by, created_at, updated_at`

type definitionDocument struct {
	Steps []domain.StepDefinition `json:"steps"`
}

func scanDefinition(row rowScanner) (domain.Definition, error) {
	var d domain.Definition
	var desc sql.NullString
	var doc string
	var status string
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &desc, &d.Version, &doc, &status, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Description = desc.String
	d.Status = domain.DefinitionStatus(status)
	var parsed definitionDocument
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return d, fmt.Errorf("decode definition %s: %w", d.ID, err)
	}
	d.Steps = parsed.Steps
	return d, nil
}

func (s Scoped) InsertDefinition(ctx context.Context, tx *sql.Tx, d domain.Definition) error {
	if err := s.check(); err != nil {
		return err
	}
	doc, err := json.Marshal(definitionDocument{Steps: d.Steps})
	if err != nil {
		return err
	}
	_, err = s.conn(tx).ExecContext(ctx, s.q(`INSERT INTO workflow_definitions(`+definitionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		d.ID, s.tenantID, d.Name, nullable(d.Description), d.Version, string(doc), string(d.Status), d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	return err
}

func (s Scoped) GetDefinition(ctx context.Context, id string) (domain.Definition, error) {
	if err := s.check(); err != nil {
		return domain.Definition{}, err
	}
	return scanDefinition(s.repo.DB.QueryRowContext(ctx, s.q(`SELECT `+definitionColumns+` FROM workflow_definitions WHERE tenant_id=? AND id=?`), s.tenantID, id))
}

// ListDefinitions lists the tenant's definitions, optionally by status.
func (s Scoped) ListDefinitions(ctx context.Context, status domain.DefinitionStatus) ([]domain.Definition, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE tenant_id=?`
	args := []any{s.tenantID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name, id`
	rows, err := s.repo.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpdateDefinitionStatus moves a definition out of status from.
func (s Scoped) UpdateDefinitionStatus(ctx context.Context, tx *sql.Tx, d domain.Definition, from domain.DefinitionStatus) (UpdateResult, error) {
	if err := s.check(); err != nil {
		return NotFound, err
	}
	var id string
	err := s.conn(tx).QueryRowContext(ctx, s.q(`UPDATE workflow_definitions SET status=?, updated_at=? WHERE id=? AND tenant_id=? AND status=? RETURNING id`),
		string(d.Status), d.UpdatedAt, d.ID, s.tenantID, string(from)).Scan(&id)
	if err == nil {
		return Updated, nil
	}
	if err != sql.ErrNoRows {
		return NotFound, err
	}
	return s.probe(ctx, tx, "workflow_definitions", d.ID)
}
