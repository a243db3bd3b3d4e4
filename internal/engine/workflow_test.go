package engine_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"efileflow/internal/domain"
	"efileflow/internal/engine"
	"efileflow/internal/events"
	"efileflow/internal/repo"
)

func TestRoutingScenarios(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/100")

	// Creator hands the file to a team member.
	within, err := env.Engine.IsWithinTeamWorkflow(env.Ctx, f.ID, "c1", "t1")
	if err != nil || !within {
		t.Fatalf("expected c1->t1 within team, got %t %v", within, err)
	}
	res := env.mark(t, f.ID, "c1", "t1")
	if !res.TeamInternal || res.RequiresSignature {
		t.Fatalf("unexpected mark result %+v", res)
	}
	st := env.state(t, f.ID)
	if st.CurrentState != domain.StateTeamInternal || st.CurrentAssignedTo != "t1" || st.TATStarted {
		t.Fatalf("after c1->t1: %+v", st)
	}

	// The team member escalates to the SE and must sign first.
	required, err := env.Engine.RequiresESignatureBeforeMarking(env.Ctx, f.ID, "t1", "se1")
	if err != nil || !required {
		t.Fatalf("expected signature required for t1->se1, got %t %v", required, err)
	}
	decision, err := env.Engine.CanMarkFileForward(env.Ctx, f.ID, "t1", "se1")
	if err != nil {
		t.Fatalf("can mark: %v", err)
	}
	if decision.CanMark || !decision.RequiresSignature || decision.Reason != engine.ReasonSignatureRequired {
		t.Fatalf("unexpected decision %+v", decision)
	}
	_, err = env.Engine.MarkTo(env.Ctx, engine.MarkOptions{FileID: f.ID, ActorID: "t1", ToUserID: "se1"})
	var denied engine.DeniedError
	if !errors.As(err, &denied) || !denied.Decision.RequiresSignature {
		t.Fatalf("expected signature denial, got %v", err)
	}
	if st := env.state(t, f.ID); st.CurrentAssignedTo != "t1" {
		t.Fatalf("denied mark must not move the file, got %s", st.CurrentAssignedTo)
	}

	env.Clock.Advance(time.Hour)
	env.sign(t, f.ID, "t1")
	res = env.mark(t, f.ID, "t1", "se1")
	if res.TeamInternal || !res.TATStartedNow {
		t.Fatalf("expected external mark starting TAT, got %+v", res)
	}
	st = env.state(t, f.ID)
	tatStart := env.Clock.Now().UTC().Format(time.RFC3339)
	if st.CurrentState != domain.StateExternal || st.CurrentAssignedTo != "se1" || !st.TATStarted {
		t.Fatalf("after t1->se1: %+v", st)
	}
	if st.TATStartedAt == nil || *st.TATStartedAt != tatStart {
		t.Fatalf("expected tat_started_at %s, got %v", tatStart, st.TATStartedAt)
	}

	// Forwarding while external always needs a signature.
	env.Clock.Advance(time.Hour)
	required, err = env.Engine.RequiresESignatureBeforeMarking(env.Ctx, f.ID, "se1", "ce1")
	if err != nil || !required {
		t.Fatalf("expected signature for se1->ce1, got %t %v", required, err)
	}
	env.sign(t, f.ID, "se1")
	env.mark(t, f.ID, "se1", "ce1")
	st = env.state(t, f.ID)
	if st.CurrentAssignedTo != "ce1" || st.CurrentState != domain.StateExternal {
		t.Fatalf("after se1->ce1: %+v", st)
	}
	if *st.TATStartedAt != tatStart {
		t.Fatalf("tat_started_at moved from %s to %s", tatStart, *st.TATStartedAt)
	}
	if st.LastExternalMarkAt == nil || *st.LastExternalMarkAt != env.Clock.Now().UTC().Format(time.RFC3339) {
		t.Fatalf("expected last_external_mark_at refreshed, got %v", st.LastExternalMarkAt)
	}

	// The CE sends it back to the creator.
	if ok, _ := env.Engine.CanEditFile(env.Ctx, f.ID, "c1"); ok {
		t.Fatalf("creator must not edit while ce1 holds the file")
	}
	st, err = env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "ce1", Remarks: "revise estimate"})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	assertInvariant(t, st)
	if st.CurrentState != domain.StateReturnedToCreator || st.CurrentAssignedTo != "c1" || !st.IsWithinTeam {
		t.Fatalf("after return: %+v", st)
	}
	if ok, _ := env.Engine.CanEditFile(env.Ctx, f.ID, "c1"); !ok {
		t.Fatalf("creator must edit a returned file")
	}
	if ok, _ := env.Engine.IsFileWithTeam(env.Ctx, f.ID); ok {
		t.Fatalf("returned file is not circulating within the team")
	}

	// Creator restarts internal circulation; the clock stays started.
	env.mark(t, f.ID, "c1", "t2")
	st = env.state(t, f.ID)
	if st.CurrentState != domain.StateTeamInternal || !st.TATStarted || *st.TATStartedAt != tatStart {
		t.Fatalf("after c1->t2: %+v", st)
	}
	if ok, _ := env.Engine.IsFileWithTeam(env.Ctx, f.ID); !ok {
		t.Fatalf("expected file back within team")
	}

	moves, err := env.Engine.ListMovements(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	wantActions := []string{"create", "mark", "mark", "mark", "return", "mark"}
	if len(moves) != len(wantActions) {
		t.Fatalf("expected %d movements, got %d", len(wantActions), len(moves))
	}
	for i, a := range wantActions {
		if moves[i].Action != a {
			t.Fatalf("movement %d action = %s, want %s", i, moves[i].Action, a)
		}
	}
	if moves[4].Remarks != "revise estimate" || *moves[4].FromState != domain.StateExternal {
		t.Fatalf("unexpected return movement %+v", moves[4])
	}
	file, err := env.Engine.Repo.GetFile(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if file.AssignedTo == nil || *file.AssignedTo != "t2" {
		t.Fatalf("file record assignee out of sync: %v", file.AssignedTo)
	}
}

func TestInitializeWorkflowStateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/101")
	first, err := env.Engine.InitializeWorkflowState(env.Ctx, f.ID, "c1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	second, err := env.Engine.InitializeWorkflowState(env.Ctx, f.ID, "c1")
	if err != nil {
		t.Fatalf("init again: %v", err)
	}
	if first.CurrentState != second.CurrentState || second.CurrentState != domain.StateTeamInternal {
		t.Fatalf("state changed across initialization: %s -> %s", first.CurrentState, second.CurrentState)
	}

	if _, err := env.Engine.StartTAT(env.Ctx, f.ID, "c1"); err != nil {
		t.Fatalf("start tat: %v", err)
	}
	again, err := env.Engine.InitializeWorkflowState(env.Ctx, f.ID, "c1")
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}
	assertInvariant(t, again)
	if again.CurrentState != domain.StateExternal || !again.TATStarted {
		t.Fatalf("re-initialization must not regress state, got %+v", again)
	}
}

func TestUpdateWorkflowStateKeepsInvariants(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/102")

	_, err := env.Engine.UpdateWorkflowState(env.Ctx, f.ID, engine.StateUpdate{State: domain.StateExternal, TeamInternal: true})
	if !errors.Is(err, engine.ErrInvalidStateUpdate) {
		t.Fatalf("expected invalid update, got %v", err)
	}
	_, err = env.Engine.UpdateWorkflowState(env.Ctx, f.ID, engine.StateUpdate{State: "ARCHIVED", TeamInternal: true})
	if !errors.Is(err, engine.ErrInvalidStateUpdate) {
		t.Fatalf("expected invalid update for unknown state, got %v", err)
	}
	_, err = env.Engine.UpdateWorkflowState(env.Ctx, "missing", engine.StateUpdate{State: domain.StateTeamInternal, TeamInternal: true})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// External without StartTAT stamps the external mark only.
	st, err := env.Engine.UpdateWorkflowState(env.Ctx, f.ID, engine.StateUpdate{State: domain.StateExternal, AssignedTo: "se1"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if st.TATStarted || st.TATStartedAt != nil || st.LastExternalMarkAt == nil {
		t.Fatalf("unexpected external update %+v", st)
	}

	env.Clock.Advance(time.Minute)
	st, err = env.Engine.UpdateWorkflowState(env.Ctx, f.ID, engine.StateUpdate{State: domain.StateExternal, AssignedTo: "ce1", StartTAT: true})
	if err != nil {
		t.Fatalf("update with tat: %v", err)
	}
	started := *st.TATStartedAt

	env.Clock.Advance(time.Minute)
	st, err = env.Engine.UpdateWorkflowState(env.Ctx, f.ID, engine.StateUpdate{State: domain.StateTeamInternal, AssignedTo: "c1", TeamInternal: true})
	if err != nil {
		t.Fatalf("back to team: %v", err)
	}
	if !st.TATStarted || *st.TATStartedAt != started {
		t.Fatalf("tat must stay started, got %+v", st)
	}

	env.Clock.Advance(time.Minute)
	st, err = env.Engine.StartTAT(env.Ctx, f.ID, "c1")
	if err != nil {
		t.Fatalf("start tat: %v", err)
	}
	if st.CurrentState != domain.StateExternal || st.IsWithinTeam || *st.TATStartedAt != started {
		t.Fatalf("StartTAT must keep the first start time, got %+v", st)
	}
	stored := env.state(t, f.ID)
	if stored.Version != st.Version {
		t.Fatalf("returned version %d, stored %d", st.Version, stored.Version)
	}
}

func TestMarkReturnToCreator(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/103")
	env.sign(t, f.ID, "c1")
	env.mark(t, f.ID, "c1", "se1")

	if _, err := env.Engine.MarkReturnToCreator(env.Ctx, f.ID, "t1", "se1"); !errors.Is(err, engine.ErrInvalidStateUpdate) {
		t.Fatalf("expected creator mismatch error, got %v", err)
	}
	st, err := env.Engine.MarkReturnToCreator(env.Ctx, f.ID, "c1", "se1")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if st.CurrentState != domain.StateReturnedToCreator || st.CurrentAssignedTo != "c1" || !st.TATStarted {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestReturnToCreatorRequiresHolder(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/104")
	_, err := env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "c1"})
	var denied engine.DeniedError
	if !errors.As(err, &denied) || denied.Decision.Reason != engine.ReasonAlreadyWithCreator {
		t.Fatalf("expected already-with-creator denial, got %v", err)
	}
	env.mark(t, f.ID, "c1", "t1")
	_, err = env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "se1"})
	if !errors.As(err, &denied) || denied.Decision.Reason != engine.ReasonNotAssigned {
		t.Fatalf("expected not-assigned denial, got %v", err)
	}
	st, err := env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "t1"})
	if err != nil {
		t.Fatalf("team member return: %v", err)
	}
	if st.CurrentState != domain.StateReturnedToCreator || st.TATStarted {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestTATNeverResets(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/105")
	for _, u := range []string{"c1", "t1", "se1", "ce1"} {
		env.sign(t, f.ID, u)
	}
	steps := []struct {
		from, to string
		ret      bool
	}{
		{"c1", "t1", false},
		{"t1", "se1", false},
		{"se1", "", true},
		{"c1", "t1", false},
		{"t1", "c1", false},
		{"c1", "ce1", false},
		{"ce1", "", true},
	}
	seenStart := false
	var first string
	for i, s := range steps {
		env.Clock.Advance(time.Minute)
		if s.ret {
			if _, err := env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: s.from}); err != nil {
				t.Fatalf("step %d return: %v", i, err)
			}
		} else {
			env.mark(t, f.ID, s.from, s.to)
		}
		st := env.state(t, f.ID)
		if seenStart && !st.TATStarted {
			t.Fatalf("step %d: tat reset", i)
		}
		if st.TATStarted {
			if !seenStart {
				first = *st.TATStartedAt
			}
			seenStart = true
			if *st.TATStartedAt != first {
				t.Fatalf("step %d: tat_started_at changed", i)
			}
		}
	}
	if !seenStart {
		t.Fatalf("expected TAT to start")
	}
}

func TestMarkWithoutWorkflowStateInitializesIt(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	insertLegacyFile(t, env, "legacy-1", "c1", "c1")
	res := env.mark(t, "legacy-1", "c1", "t1")
	if res.State.CurrentState != domain.StateTeamInternal || res.State.CurrentAssignedTo != "t1" {
		t.Fatalf("unexpected state %+v", res.State)
	}
}

func TestConcurrentMarksSerialize(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/106")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, to := range []string{"t1", "t2"} {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			_, err := env.Engine.MarkTo(env.Ctx, engine.MarkOptions{FileID: f.ID, ActorID: "c1", ToUserID: to})
			errs <- err
		}(to)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent mark: %v", err)
		}
	}
	st := env.state(t, f.ID)
	if st.Version != 3 {
		t.Fatalf("expected two applied transitions (version 3), got %d", st.Version)
	}
	file, err := env.Engine.Repo.GetFile(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if file.AssignedTo == nil || *file.AssignedTo != st.CurrentAssignedTo {
		t.Fatalf("file assignee %v disagrees with state %s", file.AssignedTo, st.CurrentAssignedTo)
	}
	moves, _ := env.Engine.ListMovements(env.Ctx, f.ID)
	if len(moves) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(moves))
	}
}

func TestStaleVersionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/107")
	st := env.state(t, f.ID)
	env.mark(t, f.ID, "c1", "t1")

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	st.CurrentAssignedTo = "t2"
	if err := env.Engine.Repo.UpdateWorkflowState(env.Ctx, tx, st, st.Version); !errors.Is(err, repo.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}
}

func TestStartFileTATByHolder(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/2024/120")

	_, err := env.Engine.StartFileTAT(env.Ctx, engine.StartTATOptions{FileID: f.ID, ActorID: "t1"})
	var denied engine.DeniedError
	if !errors.As(err, &denied) || denied.Decision.Reason != engine.ReasonNotAssigned {
		t.Fatalf("expected holder denial, got %v", err)
	}
	if _, err := env.Engine.StartFileTAT(env.Ctx, engine.StartTATOptions{FileID: "missing", ActorID: "c1"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	env.Clock.Advance(time.Hour)
	st, err := env.Engine.StartFileTAT(env.Ctx, engine.StartTATOptions{FileID: f.ID, ActorID: "c1"})
	if err != nil {
		t.Fatalf("start tat: %v", err)
	}
	assertInvariant(t, st)
	if st.CurrentState != domain.StateExternal || !st.TATStarted || st.CurrentAssignedTo != "c1" {
		t.Fatalf("unexpected state %+v", st)
	}
	started := *st.TATStartedAt

	env.Clock.Advance(time.Hour)
	again, err := env.Engine.StartFileTAT(env.Ctx, engine.StartTATOptions{FileID: f.ID, ActorID: "c1"})
	if err != nil {
		t.Fatalf("start tat again: %v", err)
	}
	if again.Version != st.Version || *again.TATStartedAt != started {
		t.Fatalf("repeat start must not write, got %+v", again)
	}

	moves, err := env.Engine.ListMovements(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(moves) != 2 || moves[1].Action != engine.ActionStartTAT {
		t.Fatalf("unexpected movements %+v", moves)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{FileID: f.ID, Type: events.TypeTATStarted})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one tat_started event, got %+v %v", evts, err)
	}
}
