package engine_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"efileflow/internal/db"
	"efileflow/internal/domain"
	"efileflow/internal/engine"
	"efileflow/internal/migrate"
)

// newPostgresEnv runs the engine against a throwaway PostgreSQL container.
// Set TEST_INTEGRATION to run it.
func newPostgresEnv(t *testing.T) testEnv {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("efile_test"),
		postgres.WithUsername("efile"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	conn, dialect, err := db.Open(db.Config{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, dialect, nil)
	eng.Now = clock.Now
	return testEnv{Engine: eng, Ctx: ctx, Clock: clock}
}

func TestPostgresRouting(t *testing.T) {
	env := newPostgresEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/PG/1")

	env.mark(t, f.ID, "c1", "t1")
	if st := env.state(t, f.ID); st.TATStarted || st.CurrentState != domain.StateTeamInternal {
		t.Fatalf("unexpected team-internal state %+v", st)
	}
	env.sign(t, f.ID, "t1")
	env.Clock.Advance(time.Hour)
	res := env.mark(t, f.ID, "t1", "se1")
	if !res.TATStartedNow || res.State.CurrentState != domain.StateExternal {
		t.Fatalf("expected TAT start on external mark, got %+v", res)
	}
	started := *res.State.TATStartedAt

	env.Clock.Advance(time.Hour)
	if _, err := env.Engine.ReturnToCreator(env.Ctx, engine.ReturnOptions{FileID: f.ID, ActorID: "se1"}); err != nil {
		t.Fatalf("return: %v", err)
	}
	st := env.state(t, f.ID)
	if st.CurrentState != domain.StateReturnedToCreator || !st.TATStarted || *st.TATStartedAt != started {
		t.Fatalf("TAT must survive a return: %+v", st)
	}

	entries, err := env.Engine.TATRegister(env.Ctx, true)
	if err != nil {
		t.Fatalf("tat register: %v", err)
	}
	if len(entries) != 1 || entries[0].FileID != f.ID {
		t.Fatalf("unexpected register %+v", entries)
	}
}

func TestPostgresConcurrentMarks(t *testing.T) {
	env := newPostgresEnv(t)
	seedOrg(t, env)
	f := env.newFile(t, "c1", "EF/PG/2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, to := range []string{"t1", "t2"} {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()
			_, errs[i] = env.Engine.MarkTo(env.Ctx, engine.MarkOptions{FileID: f.ID, ActorID: "c1", ToUserID: to})
		}(i, to)
	}
	wg.Wait()
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatalf("expected at least one mark to succeed: %v", errs)
	}
	st := env.state(t, f.ID)
	moves, err := env.Engine.ListMovements(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if int64(len(moves)) != st.Version {
		t.Fatalf("movements (%d) and version (%d) diverged", len(moves), st.Version)
	}
}
