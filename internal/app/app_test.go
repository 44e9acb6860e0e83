package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hopline/internal/config"
	"hopline/internal/repo"
)

func TestOpenUsesDefaultsWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Config.Chain.MaxDepth != config.Default().Chain.MaxDepth {
		t.Fatalf("expected default max depth, got %d", rt.Config.Chain.MaxDepth)
	}
	if _, err := os.Stat(filepath.Join(dir, ".hopline", "hopline.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if _, err := rt.Engine.ListAgents(context.Background(), repo.AgentFilters{}); err != nil {
		t.Fatalf("list agents on fresh workspace: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("chain:\n  max_depth: 99\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), dir, nil); err == nil || !strings.Contains(err.Error(), "max_depth") {
		t.Fatalf("expected max_depth validation error, got %v", err)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
