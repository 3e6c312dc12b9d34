// Package reference provides the read-through cache for effectively-static
// reference data (state code to state name). The cache is owned by the
// process composition root and injected where needed; it is not a hidden
// global.
package reference

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CountryIN is the only country scope state lookups support.
const CountryIN = "IN"

// StateLoader reads the full state table for a country from the source of
// truth. Called once per process on the first cache miss.
type StateLoader interface {
	LoadStates(ctx context.Context, country string) (map[string]string, error)
}

// StateCache resolves state codes to display names. Reads hit an in-memory
// snapshot first, then Redis, then the loader (filling both on the way back).
// Reference data is treated as static, so there is no TTL at this layer; the
// Invalidate hook exists for the rare manual refresh.
type StateCache struct {
	rdb    *redis.Client
	loader StateLoader

	mu       sync.RWMutex
	snapshot map[string]string
}

// NewStateCache creates a cache backed by the given Redis client and loader.
func NewStateCache(rdb *redis.Client, loader StateLoader) *StateCache {
	return &StateCache{rdb: rdb, loader: loader}
}

func stateKey(country string) string {
	return fmt.Sprintf("reference:states:%s", country)
}

// StateName resolves one state code. Unknown codes return an empty name and
// no error; callers decide the fallback.
func (c *StateCache) StateName(ctx context.Context, code string) (string, error) {
	c.mu.RLock()
	if c.snapshot != nil {
		name := c.snapshot[code]
		c.mu.RUnlock()
		return name, nil
	}
	c.mu.RUnlock()

	name, err := c.rdb.HGet(ctx, stateKey(CountryIN), code).Result()
	if err == nil {
		return name, nil
	}
	if err != redis.Nil {
		// Redis being down degrades to the loader, it does not fail lookups.
		log.Printf("[reference] redis state lookup failed: %v", err)
	}

	states, err := c.fill(ctx)
	if err != nil {
		return "", err
	}
	return states[code], nil
}

// fill loads the full table, populates Redis and the in-memory snapshot, and
// returns the table. Subsequent lookups in the same process use the snapshot.
func (c *StateCache) fill(ctx context.Context) (map[string]string, error) {
	states, err := c.loader.LoadStates(ctx, CountryIN)
	if err != nil {
		return nil, fmt.Errorf("fill state cache: %w", err)
	}

	if len(states) > 0 {
		pairs := make([]interface{}, 0, len(states)*2)
		for code, name := range states {
			pairs = append(pairs, code, name)
		}
		if err := c.rdb.HSet(ctx, stateKey(CountryIN), pairs...).Err(); err != nil {
			log.Printf("[reference] redis state fill failed: %v", err)
		}
	}

	c.mu.Lock()
	c.snapshot = states
	c.mu.Unlock()
	return states, nil
}

// Invalidate drops the in-memory snapshot and the Redis hash so the next
// lookup refills from the loader.
func (c *StateCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()

	if err := c.rdb.Del(ctx, stateKey(CountryIN)).Err(); err != nil {
		return fmt.Errorf("invalidate state cache: %w", err)
	}
	return nil
}
