package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const defaultDBName = "ringi.db"

// DefaultBusyTimeout bounds how long a SQLite writer waits for the database
// lock. The wait does not observe context deadlines.
const DefaultBusyTimeout = 2 * time.Second

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver    string
	DSN       string
	Workspace string
	// BusyTimeout overrides DefaultBusyTimeout for SQLite. Ignored when DSN
	// is set.
	BusyTimeout time.Duration
}

// Dialect hides the few statement differences between the supported drivers.
type Dialect struct {
	Driver string
}

// Rebind rewrites ? placeholders for the driver.
func (d Dialect) Rebind(query string) string {
	if d.Driver == DriverPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// ForUpdate is the row lock suffix for exclusive reads. SQLite takes the
// database write lock at BEGIN IMMEDIATE instead.
func (d Dialect) ForUpdate() string {
	if d.Driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// DB bundles the pool with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".ringi", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".ringi")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs in WAL mode with immediate
// transactions so writers queue on the busy timeout instead of failing.
func Open(cfg Config) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverSQLite:
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := cfg.DSN
		if dsn == "" {
			dsn = sqliteDSN(dbPath(cfg.Workspace), cfg.BusyTimeout)
		}
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		return &DB{DB: conn, Dialect: Dialect{Driver: DriverSQLite}}, nil
	case DriverPostgres, "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for driver postgres")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &DB{DB: conn, Dialect: Dialect{Driver: DriverPostgres}}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", path, busy.Milliseconds())
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
