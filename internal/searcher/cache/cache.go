// Package cache memoises query results in Redis. Keys include the index name
// and build id, so a rebuild in any process sharing the Redis makes every
// earlier entry unreachable; Invalidate deletes them eagerly. Redis calls run behind a circuit breaker and any
// cache failure falls back to computing the result.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/resilience"
)

const keyPrefix = "poemsearch:query:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cacheable query.
type Key struct {
	Index      string
	BuildID    string
	Generation uint64
	Op         string
	Field      string
	Value      string
	Distance   int
	Options    query.Options
}

func (k Key) String() string {
	o := k.Options
	return strings.Join([]string{
		k.Index,
		k.BuildID,
		strconv.FormatUint(k.Generation, 10),
		k.Op,
		k.Field,
		k.Value,
		strconv.Itoa(k.Distance),
		strings.ToLower(o.SortBy),
		strconv.FormatBool(o.Desc),
		strconv.Itoa(o.Offset),
		strconv.Itoa(o.Limit),
	}, "\x00")
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        10 * time.Second,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(name string, to resilience.State) {
			c.logger.Warn("cache circuit breaker changed state", "state", to.String())
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Get returns the cached result for key, if present.
func (c *QueryCache) Get(ctx context.Context, key Key) (query.Result, bool) {
	redisKey := buildKey(key)
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, redisKey)
		if pkgredis.IsNilError(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Debug("cache get failed", "key", redisKey, "error", err)
		}
		c.miss()
		return query.Result{}, false
	}
	var result query.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", redisKey, "error", err)
		c.miss()
		return query.Result{}, false
	}
	c.hit()
	return result, true
}

// Set stores result under key. Failures are logged and otherwise ignored.
func (c *QueryCache) Set(ctx context.Context, key Key, result query.Result) {
	redisKey := buildKey(key)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", redisKey, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.backend.Set(ctx, redisKey, data, c.ttl)
	}); err != nil {
		c.logger.Debug("cache set failed", "key", redisKey, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute once per key across
// concurrent callers. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(ctx context.Context, key Key, compute func() (query.Result, error)) (query.Result, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(buildKey(key), func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return query.Result{}, false, err
	}
	return val.(query.Result), false, nil
}

// Invalidate deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats reports hits and misses since start.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
	Breaker string  `json:"breaker"`
}

func (c *QueryCache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Breaker: c.breaker.State().String()}
	s.Total = s.Hits + s.Misses
	if s.Total > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Total)
	}
	return s
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(key Key) string {
	hash := sha256.Sum256([]byte(key.String()))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
