package auth

import (
	"context"
	"fmt"

	"efileflow/internal/repo"
)

// Administrative permissions. Routing decisions never consult these.
const (
	PermUsersWrite     = "users.write"
	PermTeamsWrite     = "teams.write"
	PermAPIKeysManage  = "api_keys.manage"
	PermRolesManage    = "roles.manage"
	RoleAdmin          = "admin"
	RoleDirectoryAdmin = "directory_admin"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC checks backed by the store.
type Service struct {
	Repo repo.Repo
}

// Require returns ForbiddenError unless actorID holds perm. Store errors are
// returned as is, so an unreadable grant table denies.
func (s Service) Require(ctx context.Context, actorID, perm string) error {
	if actorID == "" {
		return ForbiddenError{Permission: perm}
	}
	ok, err := s.Repo.ActorHasPermission(ctx, actorID, perm)
	if err != nil {
		return fmt.Errorf("check permission %s: %w", perm, err)
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	return s.Repo.ActorRoles(ctx, actorID)
}

func (s Service) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	return s.Repo.ActorPermissions(ctx, actorID)
}
