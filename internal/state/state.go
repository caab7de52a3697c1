// Package state is the durable store for the whitelist, the unfollowed
// ledger and the follow cache. Stores hold no business logic; they only
// load and save the three documents.
package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/hevygrow/internal/config"
)

// Store reads and writes the persisted documents. Loads of a missing or
// unreadable document return an empty value and log a warning; an error is
// only returned when the backend itself is unavailable.
type Store interface {
	LoadWhitelist(ctx context.Context) (Set, error)
	LoadUnfollowed(ctx context.Context) (Set, error)
	SaveUnfollowed(ctx context.Context, s Set) error
	LoadFollowCache(ctx context.Context) (FollowCache, error)
	SaveFollowCache(ctx context.Context, c FollowCache) error
}

// Set is a set of usernames
type Set map[string]struct{}

// NewSet builds a set from names
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s Set) Add(name string) {
	if name != "" {
		s[name] = struct{}{}
	}
}

// Sorted returns the members in lexical order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FollowEntry records when the agent followed a user
type FollowEntry struct {
	FollowTime int64 `json:"follow_time"`
}

// Followed returns the follow time as a time.Time
func (e FollowEntry) Followed() time.Time {
	return time.Unix(e.FollowTime, 0)
}

// FollowCache maps username to the moment the agent followed them
type FollowCache map[string]FollowEntry

func (c FollowCache) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Add records a follow at t. Existing entries are never overwritten.
func (c FollowCache) Add(name string, t time.Time) {
	if _, ok := c[name]; ok || name == "" {
		return
	}
	c[name] = FollowEntry{FollowTime: t.Unix()}
}

const (
	docWhitelist   = "whitelist"
	docUnfollowed  = "unfollowed"
	docFollowCache = "followed_cache"
)

// New builds the store selected by cfg.Backend
func New(cfg config.StateConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileStore(cfg.Dir), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(client, cfg.Redis.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
