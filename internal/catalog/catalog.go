// Package catalog owns the live index of one collection. It is the only
// writer: documents reach the store and new indexes are published through it,
// while any number of readers query the current index without locking.
//
// A catalog is Loading until its first build completes and again after a
// Flush. Queries while Loading fail with ErrNotReady. A rebuild while Ready
// keeps serving the previous index until the new one is swapped in whole.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/aggregate"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/metrics"
)

// State is the lifecycle phase of a catalog.
type State int32

const (
	StateLoading State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "loading"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ready":
		*s = StateReady
	case "loading":
		*s = StateLoading
	default:
		return fmt.Errorf("unknown catalog state %q", b)
	}
	return nil
}

// IndexBuilt is published after every successful build.
type IndexBuilt struct {
	Index      string    `json:"index"`
	Generation uint64    `json:"generation"`
	BuildID    string    `json:"build_id"`
	Documents  int       `json:"documents"`
	Postings   int       `json:"postings"`
	BuiltAt    time.Time `json:"built_at"`
}

// Options wires a Catalog. Store, Schema, Builder and Engine are required.
type Options struct {
	Name    string
	Schema  *model.Schema
	Store   store.Store
	Builder *index.Builder
	Engine  *query.Engine
	// Events receives IndexBuilt events; nil discards them.
	Events kafka.Publisher
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Catalog is the process-wide handle to one searchable collection.
type Catalog struct {
	name    string
	schema  *model.Schema
	store   store.Store
	builder *index.Builder
	engine  *query.Engine
	events  kafka.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	writeMu sync.Mutex
	live    atomic.Pointer[index.Index]
	stale   atomic.Bool
}

func New(opts Options) *Catalog {
	events := opts.Events
	if events == nil {
		events = kafka.Discard{}
	}
	return &Catalog{
		name:    opts.Name,
		schema:  opts.Schema,
		store:   opts.Store,
		builder: opts.Builder,
		engine:  opts.Engine,
		events:  events,
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "catalog", "index", opts.Name),
	}
}

func (c *Catalog) Name() string          { return c.name }
func (c *Catalog) Schema() *model.Schema { return c.schema }

// State reports whether an index is live.
func (c *Catalog) State() State {
	if c.live.Load() == nil {
		return StateLoading
	}
	return StateReady
}

// Stale reports whether the store changed since the live index was built.
func (c *Catalog) Stale() bool { return c.stale.Load() }

// Generation returns the generation of the live index, or 0 while loading.
func (c *Catalog) Generation() uint64 {
	if ix := c.live.Load(); ix != nil {
		return ix.Generation()
	}
	return 0
}

// Index returns the live index or ErrNotReady.
func (c *Catalog) Index() (*index.Index, error) {
	ix := c.live.Load()
	if ix == nil {
		return nil, fmt.Errorf("%w: index %q is loading", apperrors.ErrNotReady, c.name)
	}
	return ix, nil
}

// Put validates and stores one document. The live index is not updated until
// the next Rebuild.
func (c *Catalog) Put(ctx context.Context, id string, fields map[string]string) error {
	doc := model.Document{ID: id, Fields: fields}
	if err := c.schema.Validate(doc); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.store.Put(ctx, id, fields); err != nil {
		return fmt.Errorf("storing %s: %w", id, err)
	}
	c.stale.Store(true)
	return nil
}

// Get reads a document from the store.
func (c *Catalog) Get(ctx context.Context, id string) (model.Document, error) {
	return c.store.Get(ctx, id)
}

// Flush empties the store and drops the live index.
func (c *Catalog) Flush(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Catalog) flushLocked(ctx context.Context) error {
	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("flushing store: %w", err)
	}
	c.live.Store(nil)
	c.stale.Store(false)
	c.observeState()
	c.logger.Info("catalog flushed")
	return nil
}

// Rebuild indexes the current store contents and swaps the result in.
func (c *Catalog) Rebuild(ctx context.Context) (*index.Index, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.rebuildLocked(ctx)
}

func (c *Catalog) rebuildLocked(ctx context.Context) (*index.Index, error) {
	start := time.Now()
	docs, err := store.Collect(ctx, c.store)
	if err != nil {
		c.observeBuild("error", start)
		return nil, fmt.Errorf("reading store: %w", err)
	}
	return c.buildLocked(ctx, docs, start)
}

func (c *Catalog) buildLocked(ctx context.Context, docs []model.Document, start time.Time) (*index.Index, error) {
	ix, err := c.builder.Build(ctx, c.name, c.schema, docs)
	if err != nil {
		c.observeBuild("error", start)
		return nil, err
	}
	c.publishLocked(ctx, ix, start)
	return ix, nil
}

// publishLocked swaps ix in as the live index and announces it.
func (c *Catalog) publishLocked(ctx context.Context, ix *index.Index, start time.Time) {
	c.live.Store(ix)
	c.stale.Store(false)
	c.observeBuild("ok", start)
	c.observeIndex(ix)

	stats := ix.Stats()
	event := IndexBuilt{
		Index:      c.name,
		Generation: stats.Generation,
		BuildID:    ix.BuildID(),
		Documents:  stats.Documents,
		Postings:   stats.Postings,
		BuiltAt:    stats.BuiltAt,
	}
	if err := c.events.Publish(ctx, kafka.Event{Key: c.name, Value: event}); err != nil {
		c.logger.Warn("index-built event not published", "error", err)
	}
}

// Replace swaps the collection for docs. The new index is built first, while
// the previous one keeps serving; cancelling ctx during the build changes
// nothing. The store is then flushed and rewritten with up to concurrency
// parallel writes, and that phase runs to completion even if ctx is
// cancelled. If a store write fails the previous index stays live and the
// catalog is marked stale. The new index follows the order of docs; a
// repeated ID keeps its first position and its last fields.
func (c *Catalog) Replace(ctx context.Context, docs []model.Document, concurrency int) (*index.Index, error) {
	start := time.Now()
	for _, doc := range docs {
		if err := c.schema.Validate(doc); err != nil {
			return nil, err
		}
	}
	docs = dedupe(docs)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ix, err := c.builder.Build(ctx, c.name, c.schema, docs)
	if err != nil {
		c.observeBuild("error", start)
		return nil, fmt.Errorf("building index: %w", err)
	}

	wctx := context.WithoutCancel(ctx)
	if err := c.storeAll(wctx, docs, concurrency); err != nil {
		c.observeBuild("error", start)
		if c.live.Load() != nil {
			c.stale.Store(true)
			c.logger.Error("store rewrite failed, previous index kept", "error", err)
		}
		return nil, err
	}
	c.logger.Info("documents stored", "count", len(docs), "backend", c.store.Backend())
	c.publishLocked(wctx, ix, start)
	return ix, nil
}

func (c *Catalog) storeAll(ctx context.Context, docs []model.Document, concurrency int) error {
	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("flushing store: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, doc := range docs {
		g.Go(func() error {
			if err := c.store.Put(gctx, doc.ID, doc.Fields); err != nil {
				return fmt.Errorf("storing %s: %w", doc.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func dedupe(docs []model.Document) []model.Document {
	pos := make(map[string]int, len(docs))
	out := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		if i, ok := pos[doc.ID]; ok {
			out[i] = doc
			continue
		}
		pos[doc.ID] = len(out)
		out = append(out, doc)
	}
	return out
}

// SearchText runs a text pattern query against the live index.
func (c *Catalog) SearchText(ctx context.Context, field, pattern string, opts query.Options) (query.Result, error) {
	return c.run(ctx, "text", func(ix *index.Index) (query.Result, error) {
		return c.engine.SearchText(ctx, ix, field, pattern, opts)
	})
}

// SearchTag runs an exact tag query against the live index.
func (c *Catalog) SearchTag(ctx context.Context, field, value string, opts query.Options) (query.Result, error) {
	return c.run(ctx, "tag", func(ix *index.Index) (query.Result, error) {
		return c.engine.SearchTag(ctx, ix, field, value, opts)
	})
}

// Fuzzy runs an edit-distance query against the live index.
func (c *Catalog) Fuzzy(ctx context.Context, field, text string, distance int, opts query.Options) (query.Result, error) {
	return c.run(ctx, "fuzzy", func(ix *index.Index) (query.Result, error) {
		return c.engine.Fuzzy(ctx, ix, field, text, distance, opts)
	})
}

// SearchAll returns every document of the live index.
func (c *Catalog) SearchAll(ctx context.Context, opts query.Options) (query.Result, error) {
	return c.run(ctx, "all", func(ix *index.Index) (query.Result, error) {
		return c.engine.SearchAll(ctx, ix, opts)
	})
}

// GroupBy counts every document of the live index by field value.
func (c *Catalog) GroupBy(ctx context.Context, field string) ([]aggregate.Group, error) {
	var groups []aggregate.Group
	_, err := c.run(ctx, "groupby", func(ix *index.Index) (query.Result, error) {
		all, err := c.engine.SearchAll(ctx, ix, query.Options{})
		if err != nil {
			return query.Result{}, err
		}
		counts, err := aggregate.GroupBy(ix.Schema(), all.Documents, field)
		if err != nil {
			return query.Result{}, err
		}
		groups = aggregate.Groups(counts)
		return query.Result{Total: len(groups)}, nil
	})
	return groups, err
}

func (c *Catalog) run(ctx context.Context, op string, fn func(*index.Index) (query.Result, error)) (query.Result, error) {
	ix, err := c.Index()
	if err != nil {
		c.observeQuery(op, "error", 0, 0)
		return query.Result{}, err
	}
	start := time.Now()
	res, err := fn(ix)
	if err != nil {
		c.observeQuery(op, "error", time.Since(start), 0)
		return query.Result{}, err
	}
	outcome := "hit"
	if res.Total == 0 {
		outcome = "zero_result"
	}
	c.observeQuery(op, outcome, time.Since(start), res.Total)
	return res, nil
}

// Stats describes the catalog and its live index.
type Stats struct {
	Name    string       `json:"name"`
	State   State        `json:"state"`
	Stale   bool         `json:"stale"`
	Backend string       `json:"backend"`
	Index   *index.Stats `json:"index,omitempty"`
}

func (c *Catalog) Stats() Stats {
	s := Stats{
		Name:    c.name,
		State:   c.State(),
		Stale:   c.Stale(),
		Backend: c.store.Backend(),
	}
	if ix := c.live.Load(); ix != nil {
		st := ix.Stats()
		s.Index = &st
	}
	return s
}

// Close releases the store and the event publisher.
func (c *Catalog) Close() error {
	if err := c.events.Close(); err != nil {
		c.logger.Warn("closing event publisher", "error", err)
	}
	return c.store.Close()
}

func (c *Catalog) observeState() {
	if c.metrics == nil {
		return
	}
	if c.State() == StateReady {
		c.metrics.CatalogReady.Set(1)
	} else {
		c.metrics.CatalogReady.Set(0)
		c.metrics.DocumentsStored.Set(0)
	}
}

func (c *Catalog) observeBuild(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.IndexBuildsTotal.WithLabelValues(status).Inc()
	c.metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
}

func (c *Catalog) observeIndex(ix *index.Index) {
	c.observeState()
	if c.metrics == nil {
		return
	}
	stats := ix.Stats()
	c.metrics.DocumentsStored.Set(float64(stats.Documents))
	c.metrics.IndexGeneration.Set(float64(stats.Generation))
	for field, n := range stats.Terms {
		c.metrics.IndexTerms.WithLabelValues(field).Set(float64(n))
	}
}

func (c *Catalog) observeQuery(op, outcome string, took time.Duration, total int) {
	if c.metrics == nil {
		return
	}
	c.metrics.QueriesTotal.WithLabelValues(op, outcome).Inc()
	if outcome != "error" {
		c.metrics.QueryLatency.WithLabelValues(op).Observe(took.Seconds())
		c.metrics.QueryResults.Observe(float64(total))
	}
}
