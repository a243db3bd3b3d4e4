package engine_test

import (
	"testing"
	"time"

	"efileflow/internal/domain"
	"efileflow/internal/engine"
)

// insertLegacyFile stores a file record without a workflow state, the way
// files created before routing was tracked look.
func insertLegacyFile(t *testing.T, env testEnv, id, creatorID, assignee string) {
	t.Helper()
	now := env.Clock.Now().UTC().Format(time.RFC3339)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.InsertFile(env.Ctx, tx, domain.File{
		ID:         id,
		FileNumber: "LEGACY/" + id,
		Subject:    "Legacy file",
		CreatorID:  creatorID,
		AssignedTo: &assignee,
		Status:     "open",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("insert legacy file: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func canEdit(t *testing.T, env testEnv, fileID, userID string) bool {
	t.Helper()
	ok, err := env.Engine.CanEditFile(env.Ctx, fileID, userID)
	if err != nil {
		t.Fatalf("can edit %s: %v", userID, err)
	}
	return ok
}

func canAddPages(t *testing.T, env testEnv, fileID, userID string) bool {
	t.Helper()
	ok, err := env.Engine.CanAddPages(env.Ctx, fileID, userID)
	if err != nil {
		t.Fatalf("can add pages %s: %v", userID, err)
	}
	return ok
}

func TestCanEditFileLocksCreator(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/300")

	if !canEdit(t, env, f.ID, "c1") {
		t.Fatalf("creator holding a new file must edit")
	}
	if canEdit(t, env, f.ID, "t1") {
		t.Fatalf("only the creator edits")
	}

	env.mark(t, f.ID, "c1", "t1")
	if canEdit(t, env, f.ID, "c1") {
		t.Fatalf("creator must not edit while t1 holds the file")
	}
	if canEdit(t, env, f.ID, "t1") {
		t.Fatalf("holder who is not the creator must not edit")
	}

	env.mark(t, f.ID, "t1", "c1")
	if !canEdit(t, env, f.ID, "c1") {
		t.Fatalf("creator must edit once the file is back")
	}

	if _, err := env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "c1"}); err == nil {
		t.Fatalf("expected return by creator holding the file to be denied")
	}
	env.mark(t, f.ID, "c1", "t2")
	if _, err := env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "t2"}); err != nil {
		t.Fatalf("return: %v", err)
	}
	if !canEdit(t, env, f.ID, "c1") {
		t.Fatalf("creator must edit a returned file")
	}

	if canEdit(t, env, "missing", "c1") {
		t.Fatalf("missing file is never editable")
	}
}

func TestCanEditFileWithoutWorkflowState(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	insertLegacyFile(t, env, "legacy-own", "c1", "c1")
	insertLegacyFile(t, env, "legacy-away", "c1", "t1")

	if !canEdit(t, env, "legacy-own", "c1") {
		t.Fatalf("legacy file held by its creator stays editable")
	}
	if canEdit(t, env, "legacy-away", "c1") {
		t.Fatalf("legacy file held by someone else is locked")
	}
	if ok, err := env.Engine.IsFileWithTeam(env.Ctx, "legacy-own"); err != nil || ok {
		t.Fatalf("expected legacy file outside team workflow, got %t %v", ok, err)
	}
}

func TestCanAddPages(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/301")

	if canAddPages(t, env, f.ID, "c1") {
		t.Fatalf("XEN creator has no page-adding role")
	}
	env.mark(t, f.ID, "c1", "t1")
	if canAddPages(t, env, f.ID, "t1") {
		t.Fatalf("AEE holder has no page-adding role")
	}

	env.sign(t, f.ID, "t1")
	env.mark(t, f.ID, "t1", "se1")
	if !canAddPages(t, env, f.ID, "se1") {
		t.Fatalf("SE holding the file adds pages")
	}
	if canAddPages(t, env, f.ID, "ce1") {
		t.Fatalf("CE not holding the file must not add pages")
	}
	if !canAddPages(t, env, f.ID, "sea1") {
		t.Fatalf("SE assistant adds pages while the SE holds the file")
	}

	env.sign(t, f.ID, "se1")
	env.mark(t, f.ID, "se1", "acct1")
	if !canAddPages(t, env, f.ID, "acct1") {
		t.Fatalf("budget and billing staff holding the file add pages")
	}
	if canAddPages(t, env, f.ID, "sea1") {
		t.Fatalf("SE assistant must not add pages once the SE let go")
	}
	if canAddPages(t, env, f.ID, "se1") {
		t.Fatalf("SE no longer holds the file")
	}
	if canAddPages(t, env, f.ID, "ghost") || canAddPages(t, env, "missing", "se1") {
		t.Fatalf("unknown user or file never adds pages")
	}
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/302")
	env.mark(t, f.ID, "c1", "t1")

	p, err := env.Engine.Permissions(env.Ctx, f.ID, "c1")
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if p.CanEdit || p.CanAddPages || !p.IsFileWithTeam {
		t.Fatalf("unexpected permissions %+v", p)
	}
}
