package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Routing.ExternalTierRoles.MatchesAny("cfo") {
		t.Fatalf("expected CFO in external tier")
	}
	if !cfg.Routing.TeamMemberRoles.MatchesAny("Sub-Engineer") {
		t.Fatalf("expected sub engineer spelling to match team member roles")
	}
	if !cfg.Routing.TeamMemberRoles.MatchesAny("ACCOUNTANT") {
		t.Fatalf("expected ACCOUNT* to match ACCOUNTANT")
	}
	if len(cfg.Routing.Escalations) != 2 {
		t.Fatalf("expected 2 escalations, got %d", len(cfg.Routing.Escalations))
	}
	if !cfg.Routing.Escalations[0].Matches("XEN", "SE") {
		t.Fatalf("expected XEN->SE escalation")
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Fatalf("unexpected window %s", cfg.RateLimit.Window())
	}
}

func TestValidateRejectsMissingSets(t *testing.T) {
	_, err := FromYAML([]byte("routing:\n  external_tier_roles: [SE]\n"))
	if err == nil || !strings.Contains(err.Error(), "team_member_roles") {
		t.Fatalf("expected team_member_roles error, got %v", err)
	}
	_, err = FromYAML([]byte(`routing:
  team_member_roles: [AEE]
  external_tier_roles: [SE]
  assistant_team_roles: [AO]
  escalations:
    - from: [RE]
`))
	if err == nil || !strings.Contains(err.Error(), "escalations[0]") {
		t.Fatalf("expected escalation error, got %v", err)
	}
	_, err = FromYAML([]byte(`routing:
  team_member_roles: [AEE]
  external_tier_roles: [SE]
  assistant_team_roles: [AO]
webhooks:
  - events: [file.marked]
`))
	if err == nil || !strings.Contains(err.Error(), "webhooks[0].url") {
		t.Fatalf("expected webhook url error, got %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for missing file, got %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "efile.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Directory.TTL() != 30*time.Second {
		t.Fatalf("unexpected ttl %s", cfg.Directory.TTL())
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing config")
	}
}
