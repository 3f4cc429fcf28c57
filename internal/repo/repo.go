package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ringi/internal/db"
)

type Repo struct {
	DB *db.DB
}

var (
	ErrNotFound              = errors.New("not found")
	ErrTenantRequired        = errors.New("tenant id required")
	ErrCounterNotProvisioned = errors.New("display id counter not provisioned")
)

// UpdateResult is the outcome of a version-checked update.
type UpdateResult int

const (
	Updated UpdateResult = iota + 1
	Conflict
	NotFound
)

func (r UpdateResult) String() string {
	switch r {
	case Updated:
		return "updated"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// InTx runs fn inside one transaction, committing only when fn succeeds.
func (r Repo) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Tenant returns the tenant scoped view. Entity tables are only reachable
// through it, and every statement it issues carries the tenant predicate.
func (r Repo) Tenant(tenantID string) (Scoped, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Scoped{}, ErrTenantRequired
	}
	return Scoped{repo: r, tenantID: tenantID}, nil
}

type Scoped struct {
	repo     Repo
	tenantID string
}

func (s Scoped) TenantID() string { return s.tenantID }

func (s Scoped) check() error {
	if s.tenantID == "" || s.repo.DB == nil {
		return ErrTenantRequired
	}
	return nil
}

func (s Scoped) q(query string) string {
	return s.repo.DB.Dialect.Rebind(query)
}

func (s Scoped) conn(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.repo.DB
}

// probe tells a stale version apart from a missing row after an update
// matched nothing.
func (s Scoped) probe(ctx context.Context, tx *sql.Tx, table, id string) (UpdateResult, error) {
	var one int
	err := s.conn(tx).QueryRowContext(ctx, s.q(`SELECT 1 FROM `+table+` WHERE id=? AND tenant_id=?`), id, s.tenantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound, nil
	}
	if err != nil {
		return NotFound, err
	}
	return Conflict, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
