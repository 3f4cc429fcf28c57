package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"ringi/internal/db"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// lockKey is the Postgres advisory lock every migrator takes before looking
// at schema_version.
const lockKey int64 = 0x72696e6769

// Migration is one embedded NNN_name.sql file.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

func loadMigrations() ([]Migration, error) {
	names, err := fs.Glob(migrationsFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	seen := map[int]string{}
	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		prefix, _, ok := strings.Cut(base, "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version and _", base)
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, base, v)
		}
		seen[v] = base
		data, err := migrationsFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: v, Name: base, UpSQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrate applies embedded migrations in order.
func Migrate(conn *db.DB) error {
	return MigrateContext(context.Background(), conn)
}

// MigrateContext upgrades the schema inside one transaction. Concurrent
// callers serialize on the migration lock; the later ones find the schema
// current and change nothing.
func MigrateContext(ctx context.Context, conn *db.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lock(ctx, tx, conn.Dialect); err != nil {
		return err
	}
	current, err := schemaVersion(ctx, tx, conn.Dialect)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, conn.Dialect.Rebind(`UPDATE schema_version SET version=? WHERE id=1`), m.Version); err != nil {
			return fmt.Errorf("record %s: %w", m.Name, err)
		}
		current = m.Version
	}
	return tx.Commit()
}

// lock serializes migrators. SQLite connections begin IMMEDIATE and already
// hold the write lock; the seed insert in schemaVersion covers DSNs that do
// not.
func lock(ctx context.Context, tx *sql.Tx, d db.Dialect) error {
	if d.Driver != db.DriverPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	return nil
}

// schemaVersion creates the single-row version table when missing and
// returns the applied version.
func schemaVersion(ctx context.Context, tx *sql.Tx, d db.Dialect) (int, error) {
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(
  id INTEGER PRIMARY KEY CHECK (id = 1),
  version INTEGER NOT NULL
)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`); err != nil {
		return 0, fmt.Errorf("seed schema_version: %w", err)
	}
	var v int
	if err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id=1`+d.ForUpdate()).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
