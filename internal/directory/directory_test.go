package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"efileflow/internal/domain"
	"efileflow/internal/repo"
)

type countingDirectory struct {
	users map[string]domain.User
	calls int
}

func (d *countingDirectory) ResolveUser(ctx context.Context, userID string) (domain.User, error) {
	d.calls++
	u, ok := d.users[userID]
	if !ok {
		return domain.User{}, repo.ErrNotFound
	}
	return u, nil
}

func TestCachedServesRepeatLookups(t *testing.T) {
	next := &countingDirectory{users: map[string]domain.User{
		"u1": {ID: "u1", Name: "Asha", RoleCode: "SE", IsActive: true},
	}}
	c := NewCached(next, 10, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		u, err := c.ResolveUser(ctx, "u1")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if u.RoleCode != "SE" {
			t.Fatalf("unexpected role %q", u.RoleCode)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 store call, got %d", next.calls)
	}
	c.Invalidate("u1")
	if _, err := c.ResolveUser(ctx, "u1"); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", next.calls)
	}
}

func TestCachedDoesNotCacheMisses(t *testing.T) {
	next := &countingDirectory{users: map[string]domain.User{}}
	c := NewCached(next, 10, time.Minute)
	ctx := context.Background()
	if _, err := c.ResolveUser(ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	next.users["ghost"] = domain.User{ID: "ghost", IsActive: true}
	if _, err := c.ResolveUser(ctx, "ghost"); err != nil {
		t.Fatalf("expected user after creation, got %v", err)
	}
}
