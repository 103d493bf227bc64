package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/metrics"
)

// mapBackend mimics the Redis client: missing keys return redis.Nil.
type mapBackend struct {
	mu   sync.Mutex
	data map[string]string
	down bool
	gets atomic.Int32
}

func newMapBackend() *mapBackend { return &mapBackend{data: make(map[string]string)} }

var errDown = errors.New("connection refused")

func (b *mapBackend) Get(_ context.Context, key string) (string, error) {
	b.gets.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return "", errDown
	}
	v, ok := b.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (b *mapBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errDown
	}
	b.data[key] = string(value.([]byte))
	return nil
}

func (b *mapBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func result(title string) query.Result {
	return query.Result{
		Query:     "@title:(" + title + ")",
		Total:     1,
		Documents: []model.Document{{ID: "1", Fields: map[string]string{"title": title}}},
	}
}

func TestGetOrCompute(t *testing.T) {
	m := metrics.New(nil)
	c := New(newMapBackend(), time.Minute, m)
	key := Key{Generation: 1, Op: "text", Field: "title", Value: "birches"}
	calls := 0
	compute := func() (query.Result, error) {
		calls++
		return result("Birches"), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Birches", got.Documents[0].Value("title"))

	got, hit, err = c.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, result("Birches"), got)
	assert.Equal(t, 1, calls)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestGenerationSeparatesEntries(t *testing.T) {
	c := New(newMapBackend(), time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, Key{Generation: 1, Op: "text", Field: "title", Value: "x"}, result("old"))

	_, ok := c.Get(ctx, Key{Generation: 2, Op: "text", Field: "title", Value: "x"})
	assert.False(t, ok)
	_, ok = c.Get(ctx, Key{Generation: 1, Op: "text", Field: "title", Value: "x", Options: query.Options{Limit: 5}})
	assert.False(t, ok)
	_, ok = c.Get(ctx, Key{Generation: 1, Op: "text", Field: "title", Value: "x"})
	assert.True(t, ok)
}

func TestBuildAndIndexSeparateEntries(t *testing.T) {
	c := New(newMapBackend(), time.Minute, nil)
	ctx := context.Background()
	base := Key{Index: "poems", BuildID: "a", Generation: 1, Op: "text", Field: "author", Value: "frost"}
	c.Set(ctx, base, result("old"))

	otherBuild := base
	otherBuild.BuildID = "b"
	_, ok := c.Get(ctx, otherBuild)
	assert.False(t, ok)

	otherIndex := base
	otherIndex.Index = "drafts"
	_, ok = c.Get(ctx, otherIndex)
	assert.False(t, ok)

	_, ok = c.Get(ctx, base)
	assert.True(t, ok)
}

func TestComputeErrorsAreNotCached(t *testing.T) {
	c := New(newMapBackend(), time.Minute, nil)
	key := Key{Generation: 1, Op: "text", Field: "nope", Value: "x"}
	boom := errors.New("unknown field")
	_, _, err := c.GetOrCompute(context.Background(), key, func() (query.Result, error) {
		return query.Result{}, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestBreakerOpensWhenRedisIsDown(t *testing.T) {
	m := metrics.New(nil)
	backend := newMapBackend()
	backend.down = true
	c := New(backend, time.Minute, m)
	key := Key{Generation: 1, Op: "all"}

	for range 10 {
		got, hit, err := c.GetOrCompute(context.Background(), key, func() (query.Result, error) {
			return result("fallback"), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "fallback", got.Documents[0].Value("title"))
	}
	assert.Equal(t, "open", c.Stats().Breaker)
	assert.Less(t, backend.gets.Load(), int32(10))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("query-cache")))
}

func TestInvalidate(t *testing.T) {
	backend := newMapBackend()
	backend.data["unrelated"] = "keep"
	c := New(backend, time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, Key{Generation: 1, Op: "all"}, result("a"))
	c.Set(ctx, Key{Generation: 2, Op: "all"}, result("b"))

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, backend.data, 1)
}
