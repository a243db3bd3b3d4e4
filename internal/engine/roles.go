package engine

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"efileflow/internal/domain"
	"efileflow/internal/events"
)

// GrantRole binds actorID to roleID. Granting a role the actor already holds
// is a no-op that still records the request.
func (e Engine) GrantRole(ctx context.Context, actorID, roleID, grantedBy string) (domain.RoleGrant, error) {
	g := domain.RoleGrant{ActorID: strings.TrimSpace(actorID), RoleID: strings.TrimSpace(roleID), GrantedBy: grantedBy}
	err := validation.ValidateStruct(&g,
		validation.Field(&g.ActorID, validation.Required, validation.Length(1, 128)),
		validation.Field(&g.RoleID, validation.Required),
	)
	if err != nil {
		return domain.RoleGrant{}, err
	}
	if _, err := e.Repo.GetRole(ctx, g.RoleID); err != nil {
		return domain.RoleGrant{}, fmt.Errorf("role %s: %w", g.RoleID, err)
	}
	g.CreatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RoleGrant{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.AssignRole(ctx, tx, g); err != nil {
		return domain.RoleGrant{}, fmt.Errorf("grant role: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeRoleGranted, "", "actor_role", g.ActorID+"/"+g.RoleID, actorOr(grantedBy), events.EventPayload{
		"actor_id": g.ActorID, "role_id": g.RoleID,
	}); err != nil {
		return domain.RoleGrant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RoleGrant{}, err
	}
	e.log().Info("role granted", zap.String("actor_id", g.ActorID), zap.String("role_id", g.RoleID), zap.String("granted_by", actorOr(grantedBy)))
	return g, nil
}

// RevokeRole removes a grant; repo.ErrNotFound when actorID does not hold it.
func (e Engine) RevokeRole(ctx context.Context, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeRoleRevoked, "", "actor_role", actorID+"/"+roleID, actorOr(revokedBy), events.EventPayload{
		"actor_id": actorID, "role_id": roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return e.Repo.ListRoles(ctx)
}
