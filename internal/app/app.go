package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"hopline/internal/config"
	"hopline/internal/db"
	"hopline/internal/engine"
	"hopline/internal/migrate"
)

// Runtime bundles what a command needs against one workspace.
type Runtime struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Log       *slog.Logger
	Engine    engine.Engine
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open loads hopline.yml (defaults when absent), opens and migrates the
// workspace database and builds the engine. Logs go to out as JSON.
func Open(ctx context.Context, workspace string, out io.Writer) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log := NewLogger(out, cfg.Log.Level)
	return &Runtime{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Log:       log,
		Engine:    engine.New(conn, cfg, log),
	}, nil
}

// NewLogger returns a JSON slog logger at level; unknown levels mean info.
func NewLogger(out io.Writer, level string) *slog.Logger {
	if out == nil {
		out = io.Discard
	}
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
}
