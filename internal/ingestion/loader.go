package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/resilience"
)

// Report summarises one completed load.
type Report struct {
	Location   string        `json:"location"`
	Source     string        `json:"source"`
	Documents  int           `json:"documents"`
	Generation uint64        `json:"generation"`
	Took       time.Duration `json:"took"`
}

// Loader replaces a catalog's contents with a fresh copy of the dataset.
type Loader struct {
	catalog *catalog.Catalog
	fetcher *Fetcher
	cfg     config.IngestionConfig
	logger  *slog.Logger

	mu   sync.Mutex
	last *Report
}

func NewLoader(cat *catalog.Catalog, fetcher *Fetcher, cfg config.IngestionConfig) *Loader {
	return &Loader{
		catalog: cat,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default().With("component", "ingestion"),
	}
}

// Load fetches the configured data source, flushes the catalog and stores and
// indexes every record, all within the ingestion timeout. Concurrent calls
// run one after another.
func (l *Loader) Load(ctx context.Context) (Report, error) {
	return l.LoadFrom(ctx, l.cfg.DataSource)
}

// LoadFrom is Load with an explicit location.
func (l *Loader) LoadFrom(ctx context.Context, location string) (Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	report := Report{Location: location}
	err := resilience.WithTimeout(ctx, l.cfg.Timeout, "ingestion", func(ctx context.Context) error {
		feed, err := l.fetcher.Fetch(ctx, location)
		if err != nil {
			return err
		}
		report.Source = feed.Source
		l.logger.Info("feed fetched", "location", location, "source", feed.Source, "records", len(feed.List))

		ix, err := l.catalog.Replace(ctx, feed.Documents(), l.cfg.Concurrency)
		if err != nil {
			return err
		}
		report.Documents = ix.Len()
		report.Generation = ix.Generation()
		return nil
	})
	if err != nil {
		l.logger.Error("ingestion failed", "location", location, "error", err)
		return Report{}, fmt.Errorf("loading %s: %w", location, err)
	}
	report.Took = time.Since(start)
	l.last = &report
	l.logger.Info("ingestion complete",
		"documents", report.Documents,
		"generation", report.Generation,
		"duration_ms", report.Took.Milliseconds(),
	)
	return report, nil
}

// Last returns the most recent successful load, if any.
func (l *Loader) Last() (Report, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Report{}, false
	}
	return *l.last, true
}
