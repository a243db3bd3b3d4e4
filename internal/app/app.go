// Package app wires the database, policy config and logger into an engine.
package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"efileflow/internal/config"
	"efileflow/internal/db"
	"efileflow/internal/engine"
	"efileflow/internal/migrate"
)

type Options struct {
	Workspace string
	Driver    string
	DSN       string
	// ConfigPath overrides <workspace>/efile.yml.
	ConfigPath string
	Logger     *zap.Logger
}

// Runtime is an opened workspace. Close releases the database.
type Runtime struct {
	Engine engine.Engine
	Config *config.Config
	conn   *sql.DB
}

func (r *Runtime) Close() error {
	return r.conn.Close()
}

// LoadConfig reads the routing policy, falling back to the built-in default
// when no config file exists.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open opens and migrates the database and builds an engine over it.
func Open(opts Options) (*Runtime, error) {
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: opts.Driver, DSN: opts.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, dialect, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	return &Runtime{Engine: e, Config: cfg, conn: conn}, nil
}
