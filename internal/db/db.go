package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "efile.db"

// Dialect selects SQL flavour differences between the supported stores.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Workspace string
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is required for postgres and ignored for sqlite.
	DSN string
}

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", driver)
	}
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".efile", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".efile")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys on and
// immediate transactions so concurrent writers on one file serialize.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	if dialect == Postgres {
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("postgres dsn is required")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return conn, dialect, nil
	}
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	return conn, dialect, nil
}

// Path returns the sqlite db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites '?' placeholders into the dialect's positional form.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
