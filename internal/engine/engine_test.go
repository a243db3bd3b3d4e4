package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"efileflow/internal/db"
	"efileflow/internal/domain"
	"efileflow/internal/engine"
	"efileflow/internal/migrate"
	"efileflow/internal/repo"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *testClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, dialect, nil)
	eng.Now = clock.Now
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: clock}
}

func (env testEnv) user(t *testing.T, id, role, department string) {
	t.Helper()
	_, err := env.Engine.UpsertUser(env.Ctx, domain.User{ID: id, Name: "User " + id, RoleCode: role, Department: department, IsActive: true}, "admin")
	if err != nil {
		t.Fatalf("upsert user %s: %v", id, err)
	}
}

func (env testEnv) link(t *testing.T, managerID, memberID, teamRole string) {
	t.Helper()
	if _, err := env.Engine.LinkTeamMember(env.Ctx, managerID, memberID, teamRole, "admin"); err != nil {
		t.Fatalf("link %s->%s: %v", managerID, memberID, err)
	}
}

// seedOrg creates a creator c1 (XEN) with team members t1 (AEE) and t2
// (Sub Engineer), the external tier, an SE assistant and a few unrelated
// roles.
func seedOrg(t *testing.T, env testEnv) {
	t.Helper()
	env.user(t, "c1", "XEN", "Civil Works")
	env.user(t, "t1", "AEE", "Civil Works")
	env.user(t, "t2", "Sub-Engineer", "Civil Works")
	env.user(t, "se1", "SE", "Civil Works")
	env.user(t, "ce1", "CE", "Headquarters")
	env.user(t, "cfo1", "CFO", "Finance")
	env.user(t, "coo1", "COO", "Operations")
	env.user(t, "ceo1", "CEO", "Board")
	env.user(t, "dao1", "DAO", "Accounts")
	env.user(t, "re1", "RE", "Civil Works")
	env.user(t, "je1", "JE", "Civil Works")
	env.user(t, "adm1", "Administrative Officer", "Medical")
	env.user(t, "dms1", "Director Medical Services", "Medical")
	env.user(t, "acct1", "CLERK", "Budget & Billing")
	env.user(t, "sea1", "PA", "Civil Works")
	env.link(t, "c1", "t1", domain.TeamRoleAssistant)
	env.link(t, "c1", "t2", domain.TeamRoleAO)
	env.link(t, "se1", "sea1", domain.TeamRoleSEAssistant)
}

func (env testEnv) newFile(t *testing.T, creatorID, number string) domain.File {
	t.Helper()
	f, _, err := env.Engine.CreateFile(env.Ctx, engine.CreateFileOptions{
		FileNumber: number,
		Subject:    "Road resurfacing estimate",
		CreatorID:  creatorID,
	})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	return f
}

func (env testEnv) sign(t *testing.T, fileID, userID string) {
	t.Helper()
	if _, err := env.Engine.Sign(env.Ctx, engine.SignOptions{FileID: fileID, UserID: userID, Method: "typed"}); err != nil {
		t.Fatalf("sign %s: %v", userID, err)
	}
}

func (env testEnv) mark(t *testing.T, fileID, from, to string) engine.MarkResult {
	t.Helper()
	res, err := env.Engine.MarkTo(env.Ctx, engine.MarkOptions{FileID: fileID, ActorID: from, ToUserID: to})
	if err != nil {
		t.Fatalf("mark %s->%s: %v", from, to, err)
	}
	return res
}

func (env testEnv) state(t *testing.T, fileID string) domain.WorkflowState {
	t.Helper()
	st, err := env.Engine.GetWorkflowState(env.Ctx, fileID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st == nil {
		t.Fatalf("expected workflow state for %s", fileID)
	}
	assertInvariant(t, *st)
	return *st
}

func assertInvariant(t *testing.T, st domain.WorkflowState) {
	t.Helper()
	want := st.CurrentState == domain.StateTeamInternal || st.CurrentState == domain.StateReturnedToCreator
	if st.IsWithinTeam != want {
		t.Fatalf("isWithinTeam=%t with state %s", st.IsWithinTeam, st.CurrentState)
	}
}

func TestCreateFileInitializesWorkflow(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f, st, err := env.Engine.CreateFile(env.Ctx, engine.CreateFileOptions{FileNumber: "EF/2024/001", Subject: "Bridge repair", CreatorID: "c1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.AssignedTo == nil || *f.AssignedTo != "c1" {
		t.Fatalf("expected file assigned to creator, got %v", f.AssignedTo)
	}
	if st.CurrentState != domain.StateTeamInternal || !st.IsWithinTeam || st.TATStarted || st.CurrentAssignedTo != "c1" {
		t.Fatalf("unexpected initial state %+v", st)
	}
	if st.TATStartedAt != nil || st.LastExternalMarkAt != nil {
		t.Fatalf("expected no TAT timestamps on a new file")
	}
	moves, err := env.Engine.ListMovements(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(moves) != 1 || moves[0].Action != engine.ActionCreate || moves[0].FromUserID != nil {
		t.Fatalf("unexpected movements %+v", moves)
	}
	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE file_id=? AND type='file.created'`, f.ID).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected file.created event, got %d", count)
	}
}

func TestCreateFileValidation(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	_, _, err := env.Engine.CreateFile(env.Ctx, engine.CreateFileOptions{FileNumber: "EF/1", CreatorID: "c1"})
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if _, ok := verrs["Subject"]; !ok {
		t.Fatalf("expected subject error, got %v", verrs)
	}
	_, _, err = env.Engine.CreateFile(env.Ctx, engine.CreateFileOptions{FileNumber: "EF/2", Subject: "x", CreatorID: "nobody"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown creator, got %v", err)
	}
	env.newFile(t, "c1", "EF/3")
	_, _, err = env.Engine.CreateFile(env.Ctx, engine.CreateFileOptions{FileNumber: "EF/3", Subject: "dup", CreatorID: "c1"})
	if err == nil {
		t.Fatalf("expected duplicate file number to fail")
	}
}

func TestTeamMembership(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	env.user(t, "t3", "DAO", "Accounts")
	env.link(t, "c1", "t3", "MEMBER")

	members, err := env.Engine.GetTeamMembers(env.Ctx, "c1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	var got []string
	for _, m := range members {
		got = append(got, m.TeamRole+":"+m.UserID)
	}
	want := []string{"AO:t2", "ASSISTANT:t1", "MEMBER:t3"}
	if len(got) != len(want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("members = %v, want %v", got, want)
		}
	}

	if ok, _ := env.Engine.IsTeamMember(env.Ctx, "c1", "t1"); !ok {
		t.Fatalf("expected t1 in c1's team")
	}
	if ok, _ := env.Engine.IsTeamMember(env.Ctx, "c1", "se1"); ok {
		t.Fatalf("did not expect se1 in c1's team")
	}

	mgr, err := env.Engine.GetManagerForUser(env.Ctx, "t1")
	if err != nil || mgr == nil || mgr.ManagerID != "c1" {
		t.Fatalf("expected manager c1, got %+v %v", mgr, err)
	}
	if mgr, _ := env.Engine.GetManagerForUser(env.Ctx, "ceo1"); mgr != nil {
		t.Fatalf("expected no manager for ceo1, got %+v", mgr)
	}

	candidates, err := env.Engine.GetTeamMembersForMarking(env.Ctx, "c1")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 4 || candidates[0].UserID != "c1" || candidates[0].TeamRole != domain.TeamRoleCreator {
		t.Fatalf("expected creator first among 4 candidates, got %+v", candidates)
	}

	assistants, err := env.Engine.GetAssistantsForManager(env.Ctx, "c1")
	if err != nil {
		t.Fatalf("assistants: %v", err)
	}
	if len(assistants) != 2 {
		t.Fatalf("expected AO and ASSISTANT members only, got %+v", assistants)
	}

	if err := env.Engine.UnlinkTeamMember(env.Ctx, "c1", "t1", "admin"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if ok, _ := env.Engine.IsTeamMember(env.Ctx, "c1", "t1"); ok {
		t.Fatalf("expected t1 removed from team")
	}
	if err := env.Engine.UnlinkTeamMember(env.Ctx, "c1", "nobody", "admin"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found unlinking unknown member, got %v", err)
	}
}

func TestInactiveMembersAreHidden(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	if _, err := env.Engine.UpsertUser(env.Ctx, domain.User{ID: "t2", Name: "Gone", RoleCode: "SUB_ENGINEER", IsActive: false}, "admin"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	members, err := env.Engine.GetTeamMembers(env.Ctx, "c1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0].UserID != "t1" {
		t.Fatalf("expected only t1, got %+v", members)
	}
}

func TestIsSEOrCEAssistant(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	mgr, err := env.Engine.IsSEOrCEAssistant(env.Ctx, "sea1")
	if err != nil {
		t.Fatalf("assistant: %v", err)
	}
	if mgr == nil || mgr.ManagerID != "se1" {
		t.Fatalf("expected se1 as manager, got %+v", mgr)
	}
	// t1 assists an XEN, not an SE or CE.
	if mgr, _ := env.Engine.IsSEOrCEAssistant(env.Ctx, "t1"); mgr != nil {
		t.Fatalf("expected nil for t1, got %+v", mgr)
	}
	// A plain member of an SE is not an assistant.
	env.user(t, "m1", "JE", "")
	env.link(t, "se1", "m1", "MEMBER")
	if mgr, _ := env.Engine.IsSEOrCEAssistant(env.Ctx, "m1"); mgr != nil {
		t.Fatalf("expected nil for plain member, got %+v", mgr)
	}
}

func TestLinkTeamMemberValidation(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	if _, err := env.Engine.LinkTeamMember(env.Ctx, "c1", "c1", "AO", "admin"); err == nil {
		t.Fatalf("expected self link to fail")
	}
	if _, err := env.Engine.LinkTeamMember(env.Ctx, "c1", "ghost", "AO", "admin"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown member, got %v", err)
	}
}

func TestMarkingCandidatesListUnknownCreator(t *testing.T) {
	env := newTestEnv(t)
	candidates, err := env.Engine.GetTeamMembersForMarking(env.Ctx, "ghost")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].UserID != "ghost" || candidates[0].TeamRole != domain.TeamRoleCreator || candidates[0].Name != "" {
		t.Fatalf("expected a bare creator entry, got %+v", candidates)
	}
	candidates, err = env.Engine.GetTeamMembersForMarking(env.Ctx, "")
	if err != nil || len(candidates) != 0 {
		t.Fatalf("expected no candidates without a creator, got %+v %v", candidates, err)
	}
}
