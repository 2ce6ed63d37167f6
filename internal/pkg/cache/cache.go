package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
)

// ErrNotFound is returned by Get when no backend holds the key.
var ErrNotFound = errors.New("cache: key not found")

// maxMemorySetKeys bounds the in-memory set tier. Eviction of expired
// entries is opportunistic, triggered when the bound is crossed.
const maxMemorySetKeys = 1000

// defaultMemorySetTTL caps how long a memory-tier set lives when no Expire
// call reaches the memory tier, so orphaned sets are still reclaimed.
const defaultMemorySetTTL = 180 * 24 * time.Hour

// Store is a key/value and set-membership store over up to three backends:
// a primary cache service, a secondary Redis-compatible server, and an
// in-process last-resort tier. Backends are tried in order and any backend
// error degrades to the next tier; callers never learn which tier answered.
//
// All tiers present identical set-membership semantics: AddToSet reports
// whether the member was newly added, and TTLs apply per key.
type Store struct {
	primary   *redis.Client
	secondary *redis.Client

	memory *gocache.Cache

	setMu sync.Mutex
	sets  map[string]*memorySet
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// NewStore builds a store over the given Redis clients. Either client may be
// nil; the in-memory tier is always present.
func NewStore(primary, secondary *redis.Client) *Store {
	return &Store{
		primary:   primary,
		secondary: secondary,
		memory:    gocache.New(gocache.NoExpiration, 5*time.Minute),
		sets:      make(map[string]*memorySet),
	}
}

// NewStoreFromEnv wires the primary cache from CACHE_HOST/CACHE_PORT and an
// optional secondary from CACHE_FALLBACK_ADDR. Connection problems are
// logged, not fatal: the store degrades instead of blocking startup.
func NewStoreFromEnv() *Store {
	primary := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
	})
	if pong, err := primary.Ping(context.Background()).Result(); err != nil {
		log.Warnf("Could not connect to primary cache: %v", err)
	} else {
		log.Infof("Connected to primary cache: %s", pong)
	}

	var secondary *redis.Client
	if addr := env.GetEnv("CACHE_FALLBACK_ADDR", ""); addr != "" {
		secondary = redis.NewClient(&redis.Options{Addr: addr})
	}

	return NewStore(primary, secondary)
}

// Get retrieves a string value. A miss on a reachable backend is definitive
// and does not fall through.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	for _, c := range s.redisTiers() {
		val, err := c.Get(ctx, key).Result()
		if err == nil {
			return val, nil
		}
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		log.Warnf("cache get %q failed, trying next tier: %v", key, err)
	}

	if val, ok := s.memory.Get(key); ok {
		if str, isStr := val.(string); isStr {
			return str, nil
		}
	}
	return "", ErrNotFound
}

// Set stores a string value with a TTL on the first reachable backend.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	for _, c := range s.redisTiers() {
		if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
			log.Warnf("cache set %q failed, trying next tier: %v", key, err)
			continue
		}
		return nil
	}

	s.memory.Set(key, value, ttl)
	return nil
}

// Delete removes a key from every tier it may live in.
func (s *Store) Delete(ctx context.Context, key string) error {
	for _, c := range s.redisTiers() {
		if err := c.Del(ctx, key).Err(); err != nil {
			log.Warnf("cache delete %q failed: %v", key, err)
			continue
		}
		break
	}
	s.memory.Delete(key)
	s.deleteMemorySet(key)
	return nil
}

// AddToSet adds member to the set at key and reports whether it was newly
// added. For concurrent adds of the same member against the same backend,
// exactly one caller observes true.
func (s *Store) AddToSet(ctx context.Context, key, member string) (bool, error) {
	for _, c := range s.redisTiers() {
		added, err := c.SAdd(ctx, key, member).Result()
		if err != nil {
			log.Warnf("cache sadd %q failed, trying next tier: %v", key, err)
			continue
		}
		return added > 0, nil
	}

	return s.addToMemorySet(key, member), nil
}

// Expire sets a TTL on the set or value at key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	for _, c := range s.redisTiers() {
		if err := c.Expire(ctx, key, ttl).Err(); err != nil {
			log.Warnf("cache expire %q failed, trying next tier: %v", key, err)
			continue
		}
		return nil
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()
	if set, ok := s.sets[key]; ok {
		set.expiresAt = time.Now().Add(ttl)
	}
	if val, ok := s.memory.Get(key); ok {
		s.memory.Set(key, val, ttl)
	}
	return nil
}

func (s *Store) redisTiers() []*redis.Client {
	tiers := make([]*redis.Client, 0, 2)
	if s.primary != nil {
		tiers = append(tiers, s.primary)
	}
	if s.secondary != nil {
		tiers = append(tiers, s.secondary)
	}
	return tiers
}

func (s *Store) addToMemorySet(key, member string) bool {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	now := time.Now()
	set, ok := s.sets[key]
	if !ok || !set.expiresAt.After(now) {
		set = &memorySet{
			members:   make(map[string]struct{}),
			expiresAt: now.Add(defaultMemorySetTTL),
		}
		s.sets[key] = set
	}

	_, exists := set.members[member]
	if !exists {
		set.members[member] = struct{}{}
	}

	if len(s.sets) > maxMemorySetKeys {
		for k, v := range s.sets {
			if v == nil || !v.expiresAt.After(now) {
				delete(s.sets, k)
			}
		}
	}

	return !exists
}

func (s *Store) deleteMemorySet(key string) {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	delete(s.sets, key)
}
