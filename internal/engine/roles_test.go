package engine_test

import (
	"errors"
	"testing"

	"efileflow/internal/engine/auth"
	"efileflow/internal/repo"
)

func TestGrantAndRevokeRole(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Auth.Require(env.Ctx, "ops", auth.PermUsersWrite); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden before grant, got %v", err)
	}
	if err := env.Engine.Auth.Require(env.Ctx, "", auth.PermUsersWrite); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("anonymous actor must be forbidden, got %v", err)
	}

	g, err := env.Engine.GrantRole(env.Ctx, "ops", auth.RoleDirectoryAdmin, "root")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if g.ActorID != "ops" || g.GrantedBy != "root" || g.CreatedAt == "" {
		t.Fatalf("unexpected grant %+v", g)
	}
	if _, err := env.Engine.GrantRole(env.Ctx, "ops", auth.RoleDirectoryAdmin, "root"); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}
	for _, perm := range []string{auth.PermUsersWrite, auth.PermTeamsWrite} {
		if err := env.Engine.Auth.Require(env.Ctx, "ops", perm); err != nil {
			t.Fatalf("require %s: %v", perm, err)
		}
	}
	if err := env.Engine.Auth.Require(env.Ctx, "ops", auth.PermRolesManage); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("directory admin must not manage roles, got %v", err)
	}
	if _, err := env.Engine.GrantRole(env.Ctx, "ops", "superuser", "root"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown role, got %v", err)
	}

	if err := env.Engine.RevokeRole(env.Ctx, "ops", auth.RoleDirectoryAdmin, "root"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, "ops", auth.RoleDirectoryAdmin, "root"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
	roles, err := env.Engine.Auth.ActorRoles(env.Ctx, "ops")
	if err != nil || len(roles) != 0 {
		t.Fatalf("roles after revoke %v %v", roles, err)
	}
}
