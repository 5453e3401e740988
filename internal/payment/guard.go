package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// RedisGuard claims payment references with Redis SetNX, fronted by a local
// LRU of references this process holds.
type RedisGuard struct {
	redis      *redis.Client
	localCache *lru.Cache[string, bool]
	ttl        time.Duration
	keyPrefix  string
}

// NewRedisGuard creates a guard. ttl bounds how long a crashed holder keeps a claim.
func NewRedisGuard(redisClient *redis.Client, localCacheSize int, ttl time.Duration) (*RedisGuard, error) {
	cache, err := lru.New[string, bool](localCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &RedisGuard{
		redis:      redisClient,
		localCache: cache,
		ttl:        ttl,
		keyPrefix:  "boost:payment:",
	}, nil
}

// Acquire claims reference. Returns false if it is already claimed.
func (g *RedisGuard) Acquire(ctx context.Context, reference string) (bool, error) {
	// Fast path: Check local LRU cache
	if g.localCache.Contains(reference) {
		log.Debugf("Payment guard hit (local cache): %s", reference)
		return false, nil
	}

	ok, err := g.redis.SetNX(ctx, g.keyPrefix+reference, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}

	if !ok {
		log.Debugf("Payment guard hit (redis): %s", reference)
		return false, nil
	}

	// only our own claims are cached; a foreign claim may be released later
	g.localCache.Add(reference, true)
	return true, nil
}

// Release frees reference.
func (g *RedisGuard) Release(ctx context.Context, reference string) error {
	g.localCache.Remove(reference)
	if err := g.redis.Del(ctx, g.keyPrefix+reference).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

// MemoryGuard is a single-process Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryGuard creates an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

// Acquire claims reference. Returns false if it is already claimed.
func (g *MemoryGuard) Acquire(_ context.Context, reference string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[reference]; ok {
		return false, nil
	}
	g.held[reference] = struct{}{}
	return true, nil
}

// Release frees reference.
func (g *MemoryGuard) Release(_ context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, reference)
	return nil
}

// Verify interface compliance at compile time.
var (
	_ Guard = (*RedisGuard)(nil)
	_ Guard = (*MemoryGuard)(nil)
)
