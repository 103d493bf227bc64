package analytics

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/postgres"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (b *batchRecorder) Publish(ctx context.Context, e kafka.Event) error {
	return b.PublishBatch(ctx, []kafka.Event{e})
}

func (b *batchRecorder) PublishBatch(_ context.Context, events []kafka.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker unavailable")
	}
	b.batches = append(b.batches, events)
	return nil
}

func (b *batchRecorder) Close() error { return nil }

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch)
	}
	return n
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(QueryEvent{Op: "text", Field: "author", Query: "frost", Total: 2, LatencyMs: 4})
	agg.Record(QueryEvent{Op: "text", Field: "author", Query: "frost", Total: 2, LatencyMs: 2, CacheHit: true})
	agg.Record(QueryEvent{Op: "tag", Field: "type", Query: "war", Total: 0, LatencyMs: 6})
	agg.Record(QueryEvent{Op: "text", Field: "bogus", Query: "x", Failed: true})

	stats := agg.Stats()
	assert.Equal(t, int64(4), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.FailedQueries)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.Equal(t, map[string]int64{"text": 3, "tag": 1}, stats.ByOp)
	assert.InDelta(t, 4.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(4), stats.P50LatencyMs)
	assert.Equal(t, int64(6), stats.P99LatencyMs)
	require.NotEmpty(t, stats.TopQueries)
	assert.Equal(t, QueryCount{Query: "text author:frost", Count: 2}, stats.TopQueries[0])
	assert.Equal(t, []QueryCount{{Query: "tag type:war", Count: 1}}, stats.ZeroResultQueries)
}

func TestAggregatorLatencyWindowIsBounded(t *testing.T) {
	agg := NewAggregator()
	for i := range maxLatencySamples + 50 {
		agg.Record(QueryEvent{Op: "all", Total: 1, LatencyMs: int64(i)})
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	assert.Len(t, agg.latencies, maxLatencySamples)
}

func TestCollectorFlushesBatches(t *testing.T) {
	rec := &batchRecorder{}
	c := NewCollector(NewAggregator(), rec, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(QueryEvent{Op: "text", Query: "a", Total: 1})
	c.Track(QueryEvent{Op: "text", Query: "b", Total: 1})
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	c.Track(QueryEvent{Op: "tag", Query: "c"})
	cancel()
	c.Wait()
	assert.Equal(t, 3, rec.count())
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, int64(3), c.Aggregator().Stats().TotalQueries)
}

func TestCollectorRequeuesOnFailure(t *testing.T) {
	rec := &batchRecorder{fail: true}
	c := NewCollector(NewAggregator(), rec, 2, time.Hour)
	for range 10 {
		c.Track(QueryEvent{Op: "text", Query: "q"})
	}
	c.flush(context.Background())
	assert.Equal(t, 6, c.Pending())

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()
	c.flush(context.Background())
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 6, rec.count())
}

func TestSnapshotStore(t *testing.T) {
	if os.Getenv("PS_TEST_POSTGRES") == "" {
		t.Skip("PS_TEST_POSTGRES not set")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	client, err := postgres.New(cfg.Postgres)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	s, err := NewSnapshotStore(ctx, client)
	require.NoError(t, err)

	agg := NewAggregator()
	agg.Record(QueryEvent{Op: "text", Query: "snapshot-test", Total: 1})
	require.NoError(t, s.Save(ctx, agg.Stats()))

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(1), latest.TotalQueries)
}
