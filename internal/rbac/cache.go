package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	roleVersionKeyPrefix = "rbac:role_version:"
	invalidateChannel    = "rbac:invalidate"
)

// RoleVersions tracks a monotonically increasing counter per role in
// Redis. Role-permission mutations bump the counter after commit; cache
// reads compare recorded counters instead of fanning invalidation out to
// every user holding the role.
type RoleVersions struct {
	client *redis.Client
}

// NewRoleVersions constructs the version counter helper.
func NewRoleVersions(client *redis.Client) *RoleVersions {
	return &RoleVersions{client: client}
}

// Bump increments the role's version counter. Called strictly after the
// grant-set mutation has committed.
func (v *RoleVersions) Bump(ctx context.Context, roleID int64) error {
	if err := v.client.Incr(ctx, roleVersionKey(roleID)).Err(); err != nil {
		return fmt.Errorf("bump role version: %w", err)
	}
	return nil
}

// Current returns the version counter for each role ID. Roles never
// bumped report version 0.
func (v *RoleVersions) Current(ctx context.Context, roleIDs []int64) (map[int64]int64, error) {
	versions := make(map[int64]int64, len(roleIDs))
	if len(roleIDs) == 0 {
		return versions, nil
	}
	keys := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		keys[i] = roleVersionKey(id)
	}
	vals, err := v.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read role versions: %w", err)
	}
	for i, raw := range vals {
		var ver int64
		if s, ok := raw.(string); ok {
			ver, _ = strconv.ParseInt(s, 10, 64)
		}
		versions[roleIDs[i]] = ver
	}
	return versions, nil
}

func roleVersionKey(roleID int64) string {
	return roleVersionKeyPrefix + strconv.FormatInt(roleID, 10)
}

type cacheEntry struct {
	set          *EffectiveSet
	roleVersions map[int64]int64
	computedAt   time.Time
}

// Cache memoizes resolver output per user. Concurrent misses for the same
// user collapse into a single resolver invocation; staleness comes from
// explicit invalidation, the TTL backstop, or any held role's current
// version counter differing from the one recorded at compute time.
//
// gens carries a per-user generation counter bumped by every invalidation.
// A recompute records the generation before it starts reading and only
// stores its result if the generation is unchanged, so an in-flight
// computation can never re-insert state that predates a mutation whose
// invalidation already ran.
type Cache struct {
	resolver *Resolver
	versions *RoleVersions
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[int64]cacheEntry
	gens    map[int64]uint64
	group   singleflight.Group
}

// NewCache constructs the permission cache.
func NewCache(resolver *Resolver, versions *RoleVersions, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		resolver: resolver,
		versions: versions,
		client:   client,
		ttl:      ttl,
		logger:   logger,
		entries:  make(map[int64]cacheEntry),
		gens:     make(map[int64]uint64),
	}
}

// Get returns the user's effective permission set, recomputing on a miss
// or stale entry. Resolution failures are logged and produce the deny-all
// empty set — never an error an authorization caller could mistake for an
// allow.
func (c *Cache) Get(ctx context.Context, userID int64) *EffectiveSet {
	if set, ok := c.cached(ctx, userID); ok {
		return set
	}
	set, err := c.recomputeShared(ctx, userID)
	if err != nil {
		LogResolveFailure(c.logger, userID, err)
		return DenyAll(userID)
	}
	return set
}

// Invalidate marks the user's entry stale locally and notifies peer
// instances. Callers invoke it strictly after their mutation committed.
func (c *Cache) Invalidate(ctx context.Context, userID int64) {
	c.dropEntry(userID)

	if err := c.client.Publish(ctx, invalidateChannel, strconv.FormatInt(userID, 10)).Err(); err != nil {
		c.logger.Warn("publish cache invalidation", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// BumpRole advances the role's version counter, staling every cached
// entry computed against the old version in O(1).
func (c *Cache) BumpRole(ctx context.Context, roleID int64) {
	if err := c.versions.Bump(ctx, roleID); err != nil {
		c.logger.Warn("bump role version", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

// Listen subscribes to peer invalidations and drops matching local
// entries until the context is canceled.
func (c *Cache) Listen(ctx context.Context) {
	pubsub := c.client.Subscribe(ctx, invalidateChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				c.dropEntry(userID)
			}
		}
	}()
}

func (c *Cache) cached(ctx context.Context, userID int64) (*EffectiveSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.computedAt) > c.ttl {
		return nil, false
	}
	if len(entry.roleVersions) > 0 {
		roleIDs := make([]int64, 0, len(entry.roleVersions))
		for id := range entry.roleVersions {
			roleIDs = append(roleIDs, id)
		}
		current, err := c.versions.Current(ctx, roleIDs)
		if err != nil {
			// Treat an unreadable counter as stale: recompute
			// rather than serve a possibly outdated set.
			return nil, false
		}
		for id, recorded := range entry.roleVersions {
			if current[id] != recorded {
				return nil, false
			}
		}
	}
	return entry.set, true
}

func (c *Cache) recomputeShared(ctx context.Context, userID int64) (*EffectiveSet, error) {
	resultChan := c.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		return c.recompute(ctx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*EffectiveSet), nil
	}
}

// dropEntry removes the user's entry and advances their generation so any
// recompute already in flight discards its result instead of storing it.
func (c *Cache) dropEntry(userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.gens[userID]++
	c.mu.Unlock()
}

func (c *Cache) recompute(ctx context.Context, userID int64) (*EffectiveSet, error) {
	c.mu.RLock()
	startGen := c.gens[userID]
	c.mu.RUnlock()

	// Version counters are read once the roles are known but before any
	// grant rows, so a bump landing mid-resolution leaves the entry
	// stamped with the pre-bump counter and stale on the next read.
	var versions map[int64]int64
	var versionErr error
	set, err := c.resolver.resolve(ctx, userID, func(roles []Role) error {
		roleIDs := make([]int64, len(roles))
		for i, role := range roles {
			roleIDs[i] = role.ID
		}
		versions, versionErr = c.versions.Current(ctx, roleIDs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if versionErr != nil {
		// Version counters unreadable: serve the fresh result but do
		// not cache it, so no entry outlives an unobserved bump.
		c.logger.Warn("role versions unavailable, skipping cache store",
			slog.Int64("user_id", userID), slog.Any("error", versionErr))
		return set, nil
	}

	c.mu.Lock()
	if c.gens[userID] == startGen {
		c.entries[userID] = cacheEntry{
			set:          set,
			roleVersions: versions,
			computedAt:   time.Now(),
		}
	}
	c.mu.Unlock()
	return set, nil
}
