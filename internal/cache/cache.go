// Package cache fronts the probe orchestrator with a Redis-backed,
// TTL-bounded result cache. Concurrent lookups for the same address
// share one in-flight probe through a per-address lock registry,
// grounded on the single-flight pattern used for MX resolution.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mailprobe/internal/errtag"
	"mailprobe/internal/verdict"
)

// ProbeFunc runs the full orchestration pipeline for one address.
type ProbeFunc func(ctx context.Context, address string) verdict.Verdict

const keyPrefix = "verification_results:"
const categoryPrefix = "verification_category:"

// envelope is the JSON shape stored under each address key; cachedAt
// is kept alongside Redis' own EX expiry so RefreshExpired can find
// rows that are stale but have not yet been evicted.
type envelope struct {
	Verdict  verdict.Verdict `json:"verdict"`
	CachedAt time.Time       `json:"cachedAt"`
}

// Cache is the Redis-backed result cache.
type Cache struct {
	log   *logrus.Entry
	rdb   *redis.Client
	ttl   time.Duration
	probe ProbeFunc

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Cache backed by rdb, with entries expiring after ttl
// and cache misses resolved by calling probe.
func New(log *logrus.Entry, rdb *redis.Client, ttl time.Duration, probe ProbeFunc) *Cache {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Cache{
		log:   log,
		rdb:   rdb,
		ttl:   ttl,
		probe: probe,
		locks: make(map[string]*sync.Mutex),
	}
}

func cacheKey(address string) string {
	return keyPrefix + strings.ToLower(address)
}

func categoryKey(category string) string {
	return categoryPrefix + strings.ToLower(category)
}

// lockFor returns the mutex guarding address, creating it on first use.
func (c *Cache) lockFor(address string) *sync.Mutex {
	address = strings.ToLower(address)
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	m, ok := c.locks[address]
	if !ok {
		m = &sync.Mutex{}
		c.locks[address] = m
	}
	return m
}

// Fetch returns the cached Verdict for address, probing and storing a
// fresh one on a miss. Concurrent Fetch calls for the same address
// block on the first one in flight and share its result.
func (c *Cache) Fetch(ctx context.Context, address string) (verdict.Verdict, error) {
	lock := c.lockFor(address)
	lock.Lock()
	defer func() {
		lock.Unlock()
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	raw, err := c.rdb.Get(ctx, cacheKey(address)).Result()
	switch {
	case err == nil:
		var env envelope
		if jsonErr := json.Unmarshal([]byte(raw), &env); jsonErr != nil {
			c.log.WithField("address", address).WithError(jsonErr).Warn("cache: corrupt row treated as miss")
			break
		}
		return env.Verdict, nil
	case errors.Is(err, redis.Nil):
		// fall through to probe
	default:
		return verdict.Verdict{}, fmt.Errorf("%w: cache get %s: %v", errtag.ErrInternal, address, err)
	}

	v := c.probe(ctx, address)
	if err := c.Store(ctx, address, v); err != nil {
		c.log.WithField("address", address).WithError(err).Warn("cache: store after probe failed")
	}
	return v, nil
}

// Store writes v under address with the configured TTL and maintains
// the per-category membership set used by AllByCategory.
func (c *Cache) Store(ctx context.Context, address string, v verdict.Verdict) error {
	address = strings.ToLower(address)
	env := envelope{Verdict: v, CachedAt: time.Now()}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: marshal verdict for %s: %v", errtag.ErrInternal, address, err)
	}

	prevCategory, _ := c.currentCategory(ctx, address)

	if err := c.rdb.Set(ctx, cacheKey(address), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: cache set %s: %v", errtag.ErrInternal, address, err)
	}

	if prevCategory != "" && prevCategory != v.Category {
		c.rdb.SRem(ctx, categoryKey(prevCategory), address)
	}
	if v.Category != "" {
		if err := c.rdb.SAdd(ctx, categoryKey(v.Category), address).Err(); err != nil {
			return fmt.Errorf("%w: category index %s: %v", errtag.ErrInternal, address, err)
		}
	}
	return nil
}

func (c *Cache) currentCategory(ctx context.Context, address string) (string, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(address)).Result()
	if err != nil {
		return "", err
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", err
	}
	return env.Verdict.Category, nil
}

// RefreshExpired re-probes every cache row whose cachedAt has aged
// past ttl but that Redis has not yet evicted, and overwrites it with
// a fresh probe. backfill, if non-nil, is called with every address
// touched so the primary address store learns of it.
func (c *Cache) RefreshExpired(ctx context.Context, backfill func(ctx context.Context, address string)) error {
	var cursor uint64
	now := time.Now()
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("%w: scan cache keys: %v", errtag.ErrInternal, err)
		}
		for _, key := range keys {
			address := strings.TrimPrefix(key, keyPrefix)
			raw, err := c.rdb.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var env envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				c.log.WithField("address", address).WithError(err).Warn("cache: corrupt row skipped during refresh")
				continue
			}
			if now.Sub(env.CachedAt) < c.ttl {
				continue
			}

			lock := c.lockFor(address)
			lock.Lock()
			v := c.probe(ctx, address)
			if err := c.Store(ctx, address, v); err != nil {
				c.log.WithField("address", address).WithError(err).Warn("cache: refresh store failed")
			}
			lock.Unlock()

			if backfill != nil {
				backfill(ctx, address)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return nil
}

// AllByCategory returns every cached Verdict currently filed under
// category.
func (c *Cache) AllByCategory(ctx context.Context, category string) ([]verdict.Verdict, error) {
	addresses, err := c.rdb.SMembers(ctx, categoryKey(category)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %v", errtag.ErrInternal, category, err)
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	keys := make([]string, len(addresses))
	for i, addr := range addresses {
		keys[i] = cacheKey(addr)
	}
	rows, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: mget category %s: %v", errtag.ErrInternal, category, err)
	}

	verdicts := make([]verdict.Verdict, 0, len(rows))
	for i, row := range rows {
		s, ok := row.(string)
		if !ok {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			c.log.WithField("address", addresses[i]).WithError(err).Warn("cache: corrupt row skipped in AllByCategory")
			continue
		}
		verdicts = append(verdicts, env.Verdict)
	}
	return verdicts, nil
}
