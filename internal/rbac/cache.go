package rbac

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 5 * time.Minute
)

// RoleCache holds role names per (user, bar) for the whole process.
// Every invalidation bumps a generation; loads that started before it are not stored.
type RoleCache struct {
	lru *expirable.LRU[string, []string]

	mu    sync.Mutex
	epoch uint64
	users map[int64]uint64
}

// Generation identifies the cache state a load started from.
type Generation struct {
	epoch uint64
	user  uint64
}

// NewRoleCache builds a cache. Non-positive arguments fall back to defaults.
func NewRoleCache(size int, ttl time.Duration) *RoleCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RoleCache{lru: expirable.NewLRU[string, []string](size, nil, ttl), users: make(map[int64]uint64)}
}

func cacheKey(userID int64, barID string) string {
	return fmt.Sprintf("%d:%s", userID, barID)
}

// Get returns cached role names.
func (c *RoleCache) Get(userID int64, barID string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey(userID, barID))
}

// Generation returns the current generation of userID. Read it before loading roles.
func (c *RoleCache) Generation(userID int64) Generation {
	if c == nil {
		return Generation{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Generation{epoch: c.epoch, user: c.users[userID]}
}

// Put stores role names loaded at gen. It reports false and stores nothing when the
// user was invalidated since gen was read.
func (c *RoleCache) Put(userID int64, barID string, names []string, gen Generation) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen.epoch != c.epoch || gen.user != c.users[userID] {
		return false
	}
	c.lru.Add(cacheKey(userID, barID), names)
	return true
}

// InvalidateUser drops every entry of a user.
func (c *RoleCache) InvalidateUser(userID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userID]++
	prefix := fmt.Sprintf("%d:", userID)
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Purge drops everything.
func (c *RoleCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.users)
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *RoleCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
