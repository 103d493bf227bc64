package searcher

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (b *memBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = string(value.([]byte))
	return nil
}

func (b *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, strings.TrimSuffix(pattern, "*")) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func poems() []model.Document {
	return []model.Document{
		{ID: "1", Fields: map[string]string{"author": "Robert Frost", "title": "Birches", "content": "When I see birches bend to left and right", "type": "Nature", "age": "Modern"}},
		{ID: "2", Fields: map[string]string{"author": "Emily Dickinson", "title": "Hope", "content": "Hope is the thing with feathers", "type": "Love,Nature", "age": "Modern"}},
		{ID: "3", Fields: map[string]string{"author": "Robert Frost", "title": "Acquainted with the Night", "content": "I have been one acquainted with the night", "type": "Love", "age": "Modern"}},
	}
}

func newSearcher(t *testing.T, withCache bool) (*Searcher, *analytics.Collector) {
	t.Helper()
	cfg := config.Default()
	cat := catalog.New(catalog.Options{
		Name:    "poems",
		Schema:  model.PoemSchema(),
		Store:   store.NewMemoryStore(),
		Builder: index.NewBuilder(2, 4),
		Engine:  query.NewEngine(cfg.Search),
	})
	_, err := cat.Replace(context.Background(), poems(), 4)
	require.NoError(t, err)

	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&memBackend{data: make(map[string]string)}, time.Minute, nil)
	}
	collector := analytics.NewCollector(analytics.NewAggregator(), nil, 100, time.Hour)
	return New(cat, qc, collector, cfg.Search), collector
}

func TestPage(t *testing.T) {
	s, _ := newSearcher(t, false)
	assert.Equal(t, 10, s.Page(query.Options{}).Limit)
	assert.Equal(t, 3, s.Page(query.Options{Limit: 3}).Limit)
	assert.Equal(t, 1000, s.Page(query.Options{Limit: 5000}).Limit)
	assert.Equal(t, 1000, s.Page(query.Options{Limit: -1}).Limit)
}

func TestSearchTracksAnalytics(t *testing.T) {
	s, collector := newSearcher(t, false)
	ctx := logger.WithRequestID(context.Background(), "req-1")

	res, out, err := s.SearchText(ctx, "author", "/frost/", query.Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 2, res.Total)

	_, _, err = s.SearchTag(ctx, "type", "war", query.Options{})
	require.NoError(t, err)
	_, _, err = s.SearchText(ctx, "type", "love", query.Options{})
	assert.ErrorIs(t, err, apperrors.ErrFieldKind)

	stats := collector.Aggregator().Stats()
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.FailedQueries)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.Equal(t, 3, collector.Pending())
}

func TestSearchUsesCache(t *testing.T) {
	s, collector := newSearcher(t, true)
	ctx := context.Background()

	first, out, err := s.Fuzzy(ctx, "title", "hop", 1, query.Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)

	second, out, err := s.Fuzzy(ctx, "title", "hop", 1, query.Options{})
	require.NoError(t, err)
	assert.True(t, out.CacheHit)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first.Documents, second.Documents)

	_, out, err = s.Fuzzy(ctx, "title", "hop", 2, query.Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)

	assert.Equal(t, int64(1), s.Cache().Stats().Hits)
	assert.Equal(t, int64(1), collector.Aggregator().Stats().CacheHits)
}

func TestRebuildBypassesOldEntries(t *testing.T) {
	s, _ := newSearcher(t, true)
	ctx := context.Background()
	_, _, err := s.SearchAll(ctx, query.Options{})
	require.NoError(t, err)

	require.NoError(t, s.Catalog().Put(ctx, "4", map[string]string{"title": "Fire and Ice", "author": "Robert Frost"}))
	_, err = s.Catalog().Rebuild(ctx)
	require.NoError(t, err)

	res, out, err := s.SearchAll(ctx, query.Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 4, res.Total)
}

func TestGroupBy(t *testing.T) {
	s, collector := newSearcher(t, false)
	groups, err := s.GroupBy(context.Background(), "author")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Robert Frost", groups[0].Value)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, int64(1), collector.Aggregator().Stats().ByOp["groupby"])
}

func TestInvalidateOnBuild(t *testing.T) {
	backend := &memBackend{data: map[string]string{"poemsearch:query:abc": "{}"}}
	qc := cache.New(backend, time.Minute, nil)
	value, err := json.Marshal(catalog.IndexBuilt{Index: "poems", Generation: 2})
	require.NoError(t, err)

	require.NoError(t, InvalidateOnBuild(qc)(context.Background(), []byte("poems"), value))
	assert.Empty(t, backend.data)

	assert.Error(t, InvalidateOnBuild(qc)(context.Background(), nil, []byte("not json")))
}

func TestSharedCacheIgnoresOtherProcessBuilds(t *testing.T) {
	cfg := config.Default()
	backend := &memBackend{data: make(map[string]string)}
	ctx := context.Background()

	newProcess := func(docs []model.Document) *Searcher {
		cat := catalog.New(catalog.Options{
			Name:    "poems",
			Schema:  model.PoemSchema(),
			Store:   store.NewMemoryStore(),
			Builder: index.NewBuilder(1, 1),
			Engine:  query.NewEngine(cfg.Search),
		})
		_, err := cat.Replace(ctx, docs, 1)
		require.NoError(t, err)
		return New(cat, cache.New(backend, time.Minute, nil), nil, cfg.Search)
	}

	first := newProcess([]model.Document{{ID: "x", Fields: map[string]string{"author": "Frost"}}})
	res, _, err := first.SearchText(ctx, "author", "r", query.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	second := newProcess([]model.Document{{ID: "y", Fields: map[string]string{"author": "Keats"}}})
	require.Equal(t, first.Stats().Index.Generation, second.Stats().Index.Generation)

	res, out, err := second.SearchText(ctx, "author", "r", query.Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 0, res.Total)

	res, out, err = second.SearchText(ctx, "author", "k", query.Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "y", res.Documents[0].ID)
}
