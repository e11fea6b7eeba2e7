package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mandato/internal/config"
	"mandato/internal/db"
	"mandato/internal/engine"
	"mandato/internal/migrate"
	"mandato/internal/repo"
)

// ResolveConfig loads the product config from the database, seeding the
// default when none has been imported yet.
func ResolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		cfg = config.Default()
		if err := r.UpsertConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
	}
	return cfg, nil
}

// OpenEngine opens the workspace database, runs migrations, resolves config
// and builds a ready engine. The caller owns the returned *sql.DB.
func OpenEngine(ctx context.Context, workspace string) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	r := repo.Repo{DB: conn}
	cfg, err := ResolveConfig(ctx, r)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), conn, nil
}
