package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"efileflow/internal/config"
	"efileflow/internal/domain"
)

func TestOpenFallsBackToDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if len(rt.Config.Routing.ExternalTierRoles) == 0 {
		t.Fatalf("expected default routing policy")
	}
	if _, err := rt.Engine.UpsertUser(context.Background(), domain.User{ID: "u1", Name: "U", RoleCode: "XEN", IsActive: true}, "admin"); err != nil {
		t.Fatalf("engine not usable: %v", err)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte(strings.Replace(config.GenerateDefault(), "requests: 120", "requests: 7", 1)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rt, err := Open(Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Config.RateLimit.Requests != 7 {
		t.Fatalf("expected workspace config, got %+v", rt.Config.RateLimit)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(path, []byte("rate_limit: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(Options{Workspace: dir, ConfigPath: path}); err == nil {
		t.Fatalf("expected config error")
	}
}
