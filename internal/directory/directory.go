// Package directory resolves directory users for the routing engine.
package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"efileflow/internal/domain"
	"efileflow/internal/repo"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efile_directory_cache_hits_total",
		Help: "Directory lookups served from the user cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efile_directory_cache_misses_total",
		Help: "Directory lookups that went to the store.",
	})
)

// Directory resolves a user id to its directory entry. Unknown users yield
// repo.ErrNotFound.
type Directory interface {
	ResolveUser(ctx context.Context, userID string) (domain.User, error)
}

// Invalidator is implemented by directories that cache entries.
type Invalidator interface {
	Invalidate(userID string)
}

// Store reads users straight from the repository.
type Store struct {
	Repo repo.Repo
}

func (s Store) ResolveUser(ctx context.Context, userID string) (domain.User, error) {
	return s.Repo.GetUser(ctx, userID)
}

// Cached keeps resolved users in an expiring LRU. Misses are not cached so a
// user created after a failed lookup is visible at once.
type Cached struct {
	next  Directory
	cache *expirable.LRU[string, domain.User]
}

// NewCached wraps next with a cache of at most size entries living ttl.
func NewCached(next Directory, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, domain.User](size, nil, ttl),
	}
}

func (c *Cached) ResolveUser(ctx context.Context, userID string) (domain.User, error) {
	if u, ok := c.cache.Get(userID); ok {
		cacheHitsTotal.Inc()
		return u, nil
	}
	cacheMissesTotal.Inc()
	u, err := c.next.ResolveUser(ctx, userID)
	if err != nil {
		return u, err
	}
	c.cache.Add(userID, u)
	return u, nil
}

func (c *Cached) Invalidate(userID string) {
	c.cache.Remove(userID)
}
