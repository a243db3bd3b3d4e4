package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"efileflow/internal/config"
	"efileflow/internal/db"
	"efileflow/internal/directory"
	"efileflow/internal/engine/auth"
	"efileflow/internal/domain"
	"efileflow/internal/events"
	"efileflow/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Directory directory.Directory
	Auth      auth.Service
	Logger    *zap.Logger
	Now       func() time.Time
}

// New wires an engine over conn. A nil cfg falls back to the built-in policy.
func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:        conn,
		Repo:      r,
		Events:    events.Writer{Dialect: dialect},
		Config:    cfg,
		Directory: directory.NewCached(directory.Store{Repo: r}, cfg.Directory.Size, cfg.Directory.TTL()),
		Auth:      auth.Service{Repo: r},
		Logger:    zap.NewNop(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) routing() config.Routing {
	if e.Config == nil {
		return config.Default().Routing
	}
	return e.Config.Routing
}

// resolveUser returns the directory entry for id; found is false when the
// directory has no such user.
func (e Engine) resolveUser(ctx context.Context, id string) (domain.User, bool, error) {
	if id == "" {
		return domain.User{}, false, nil
	}
	u, err := e.Directory.ResolveUser(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("resolve user %s: %w", id, err)
	}
	return u, true, nil
}

func (e Engine) invalidateUser(id string) {
	if inv, ok := e.Directory.(directory.Invalidator); ok {
		inv.Invalidate(id)
	}
}

// UpsertUser creates or refreshes a directory entry.
func (e Engine) UpsertUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	err := validation.ValidateStruct(&u,
		validation.Field(&u.ID, validation.Required, validation.Length(1, 128)),
		validation.Field(&u.Name, validation.Required, validation.Length(1, 256)),
		validation.Field(&u.RoleCode, validation.Required, validation.Length(1, 64)),
	)
	if err != nil {
		return domain.User{}, err
	}
	now := e.stamp()
	if existing, err := e.Repo.GetUser(ctx, u.ID); err == nil {
		u.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeUserUpserted, "", "user", u.ID, actorOr(actorID), events.EventPayload{
		"role_code": u.RoleCode, "department": u.Department, "is_active": u.IsActive,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	e.invalidateUser(u.ID)
	return u, nil
}

// LinkTeamMember adds memberID to managerID's team with the given team role.
func (e Engine) LinkTeamMember(ctx context.Context, managerID, memberID, teamRole, actorID string) (domain.TeamRelation, error) {
	rel := domain.TeamRelation{ManagerID: managerID, MemberID: memberID, TeamRole: teamRole, IsActive: true}
	err := validation.ValidateStruct(&rel,
		validation.Field(&rel.ManagerID, validation.Required),
		validation.Field(&rel.MemberID, validation.Required, validation.NotIn(managerID).Error("must differ from manager_id")),
		validation.Field(&rel.TeamRole, validation.Required, validation.Length(1, 64)),
	)
	if err != nil {
		return domain.TeamRelation{}, err
	}
	for _, id := range []string{managerID, memberID} {
		if _, err := e.Repo.GetUser(ctx, id); err != nil {
			return domain.TeamRelation{}, fmt.Errorf("user %s: %w", id, err)
		}
	}
	rel.CreatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamRelation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTeamRelation(ctx, tx, rel); err != nil {
		return domain.TeamRelation{}, fmt.Errorf("link team member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTeamLinked, "", "team_relation", managerID+"/"+memberID, actorOr(actorID), events.EventPayload{
		"manager_id": managerID, "member_id": memberID, "team_role": teamRole,
	}); err != nil {
		return domain.TeamRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamRelation{}, err
	}
	return rel, nil
}

// UnlinkTeamMember deactivates a team relation.
func (e Engine) UnlinkTeamMember(ctx context.Context, managerID, memberID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateTeamRelation(ctx, tx, managerID, memberID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTeamUnlinked, "", "team_relation", managerID+"/"+memberID, actorOr(actorID), events.EventPayload{
		"manager_id": managerID, "member_id": memberID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func actorOr(actorID string) string {
	if actorID == "" {
		return "system"
	}
	return actorID
}
