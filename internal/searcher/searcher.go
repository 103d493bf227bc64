// Package searcher is the query service shared by the HTTP and RPC
// surfaces. It clamps paging, consults the query cache, records analytics
// and traces each request before delegating to the catalog.
package searcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/aggregate"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/tracing"
)

// Outcome accompanies every query result.
type Outcome struct {
	CacheHit bool
	Took     time.Duration
}

type Searcher struct {
	catalog      *catalog.Catalog
	cache        *cache.QueryCache
	collector    *analytics.Collector
	defaultLimit int
	maxResults   int
}

// New builds a Searcher. queryCache and collector may be nil.
func New(cat *catalog.Catalog, queryCache *cache.QueryCache, collector *analytics.Collector, cfg config.SearchConfig) *Searcher {
	return &Searcher{
		catalog:      cat,
		cache:        queryCache,
		collector:    collector,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
	}
}

func (s *Searcher) Catalog() *catalog.Catalog { return s.catalog }

// Cache returns the query cache, or nil when caching is disabled.
func (s *Searcher) Cache() *cache.QueryCache { return s.cache }

// Collector returns the analytics collector, or nil.
func (s *Searcher) Collector() *analytics.Collector { return s.collector }

// Page applies the default page size and the result cap. A negative limit
// requests every match up to the cap.
func (s *Searcher) Page(opts query.Options) query.Options {
	switch {
	case opts.Limit == 0:
		opts.Limit = s.defaultLimit
	case opts.Limit < 0 || opts.Limit > s.maxResults:
		opts.Limit = s.maxResults
	}
	return opts
}

func (s *Searcher) SearchText(ctx context.Context, field, pattern string, opts query.Options) (query.Result, Outcome, error) {
	opts = s.Page(opts)
	key := cache.Key{Op: "text", Field: field, Value: pattern, Options: opts}
	return s.run(ctx, key, func(ctx context.Context) (query.Result, error) {
		return s.catalog.SearchText(ctx, field, pattern, opts)
	})
}

func (s *Searcher) SearchTag(ctx context.Context, field, value string, opts query.Options) (query.Result, Outcome, error) {
	opts = s.Page(opts)
	key := cache.Key{Op: "tag", Field: field, Value: value, Options: opts}
	return s.run(ctx, key, func(ctx context.Context) (query.Result, error) {
		return s.catalog.SearchTag(ctx, field, value, opts)
	})
}

func (s *Searcher) Fuzzy(ctx context.Context, field, text string, distance int, opts query.Options) (query.Result, Outcome, error) {
	opts = s.Page(opts)
	key := cache.Key{Op: "fuzzy", Field: field, Value: text, Distance: distance, Options: opts}
	return s.run(ctx, key, func(ctx context.Context) (query.Result, error) {
		return s.catalog.Fuzzy(ctx, field, text, distance, opts)
	})
}

func (s *Searcher) SearchAll(ctx context.Context, opts query.Options) (query.Result, Outcome, error) {
	opts = s.Page(opts)
	key := cache.Key{Op: "all", Options: opts}
	return s.run(ctx, key, func(ctx context.Context) (query.Result, error) {
		return s.catalog.SearchAll(ctx, opts)
	})
}

// GroupBy counts the whole collection by field. Group counts are not cached.
func (s *Searcher) GroupBy(ctx context.Context, field string) ([]aggregate.Group, error) {
	ctx, span := tracing.StartSpan(ctx, "search.groupby", logger.RequestID(ctx))
	defer span.Finish(logger.FromContext(ctx))
	start := time.Now()
	groups, err := s.catalog.GroupBy(ctx, field)
	s.track(ctx, analytics.QueryEvent{
		Op:        "groupby",
		Field:     field,
		Query:     "*",
		Total:     len(groups),
		Returned:  len(groups),
		LatencyMs: time.Since(start).Milliseconds(),
		Failed:    err != nil,
	})
	return groups, err
}

func (s *Searcher) Get(ctx context.Context, id string) (model.Document, error) {
	return s.catalog.Get(ctx, id)
}

func (s *Searcher) Stats() catalog.Stats {
	return s.catalog.Stats()
}

func (s *Searcher) run(ctx context.Context, key cache.Key, compute func(context.Context) (query.Result, error)) (query.Result, Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "search."+key.Op, logger.RequestID(ctx))
	span.SetAttr("field", key.Field)
	span.SetAttr("value", key.Value)
	log := logger.FromContext(ctx)
	defer span.Finish(log)

	start := time.Now()
	var (
		res query.Result
		hit bool
		err error
	)
	var cacheable bool
	if ix, ierr := s.catalog.Index(); ierr == nil {
		key.Index, key.BuildID, key.Generation = ix.Name(), ix.BuildID(), ix.Generation()
		cacheable = true
	}
	if s.cache != nil && cacheable {
		res, hit, err = s.cache.GetOrCompute(ctx, key, func() (query.Result, error) {
			return compute(ctx)
		})
	} else {
		res, err = compute(ctx)
	}
	out := Outcome{CacheHit: hit, Took: time.Since(start)}
	span.SetAttr("cache_hit", hit)

	event := analytics.QueryEvent{
		Op:        key.Op,
		Field:     key.Field,
		Query:     key.Value,
		LatencyMs: out.Took.Milliseconds(),
		CacheHit:  hit,
		Failed:    err != nil,
	}
	if err != nil {
		log.Debug("query failed", "op", key.Op, "field", key.Field, "value", key.Value, "error", err)
		s.track(ctx, event)
		return query.Result{}, out, err
	}
	event.Total = res.Total
	event.Returned = len(res.Documents)
	s.track(ctx, event)
	log.Info("search completed",
		"op", key.Op,
		"field", key.Field,
		"value", key.Value,
		"total", res.Total,
		"returned", len(res.Documents),
		"cache_hit", hit,
		"latency_ms", event.LatencyMs,
	)
	return res, out, nil
}

func (s *Searcher) track(ctx context.Context, event analytics.QueryEvent) {
	if s.collector == nil {
		return
	}
	event.RequestID = logger.RequestID(ctx)
	s.collector.Track(event)
}

// InvalidateOnBuild returns a Kafka handler that clears qc whenever an
// IndexBuilt event arrives, dropping entries of superseded generations.
func InvalidateOnBuild(qc *cache.QueryCache) kafka.MessageHandler {
	log := slog.Default().With("component", "cache-invalidator")
	return kafka.HandleJSON(func(ctx context.Context, ev catalog.IndexBuilt) error {
		deleted, err := qc.Invalidate(ctx)
		if err != nil {
			return err
		}
		log.Info("cache cleared after rebuild", "index", ev.Index, "generation", ev.Generation, "keys_deleted", deleted)
		return nil
	})
}
