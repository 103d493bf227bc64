package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/kafka"
)

// Collector records query events locally and publishes them to Kafka in
// batches, flushing when a batch fills or the flush interval passes.
type Collector struct {
	aggregator    *Aggregator
	publisher     kafka.Publisher
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event
	kick   chan struct{}
	done   chan struct{}
}

func NewCollector(agg *Aggregator, publisher kafka.Publisher, batchSize int, flushInterval time.Duration) *Collector {
	if publisher == nil {
		publisher = kafka.Discard{}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		aggregator:    agg,
		publisher:     publisher,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		buffer:        make([]kafka.Event, 0, batchSize),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Aggregator returns the local aggregate the collector feeds.
func (c *Collector) Aggregator() *Aggregator { return c.aggregator }

// Start runs the flush loop in the background until ctx is cancelled; the
// remaining buffer is flushed on the way out.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.kick:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "batch_size", c.batchSize, "flush_interval", c.flushInterval)
}

// Track records event and queues it for publishing. It never blocks on Kafka.
func (c *Collector) Track(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.aggregator.Record(event)

	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: event.Op, Value: event})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()
	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of events waiting to be published.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Wait blocks until the flush loop started by Start has exited.
func (c *Collector) Wait() {
	<-c.done
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if limit := c.batchSize * 3; len(c.buffer) > limit {
			dropped := len(c.buffer) - limit
			c.buffer = c.buffer[len(c.buffer)-limit:]
			c.logger.Warn("analytics buffer overflow, oldest events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}
