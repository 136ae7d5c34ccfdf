package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"buildledger/internal/config"
	"buildledger/internal/db"
	"buildledger/internal/engine"
	"buildledger/internal/migrate"
)

// DefaultAdminID is the admin used when a workspace has no config file.
const DefaultAdminID = "admin"

// Workspace is an opened, migrated and bootstrapped buildledger workspace.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// LoadConfig returns the workspace config, or defaults derived from the
// directory name when no config file exists.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}
	return config.Default(filepath.Base(abs), DefaultAdminID), nil
}

// Open opens the workspace database, applies migrations and makes sure the
// configured admin exists.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	eng.Log = logger
	if _, err := eng.Bootstrap(ctx, cfg.Admin.ActorID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Debug("workspace opened", "workspace", workspace, "db", db.Path(workspace), "schema_version", version, "project", cfg.Project.ID)
	return &Workspace{Dir: workspace, DB: conn, Config: cfg, Engine: eng}, nil
}
