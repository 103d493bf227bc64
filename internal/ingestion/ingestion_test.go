package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/resilience"
)

const feedJSON = `{
  "source": "test anthology",
  "list": [
    {"author": "Robert Frost", "title": "Birches", "content": "When I see birches bend", "type": "Nature", "age": "Modern"},
    {"author": "Emily Dickinson", "title": "Hope", "content": "Hope is the thing with feathers", "type": ["Love", "Nature"], "age": "Modern"},
    {"author": "Anon", "title": 42, "content": null, "type": "Mythology & Folklore", "age": true}
  ]
}`

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newCatalog() *catalog.Catalog {
	return catalog.New(catalog.Options{
		Name:    "poems",
		Schema:  model.PoemSchema(),
		Store:   store.NewMemoryStore(),
		Builder: index.NewBuilder(2, 4),
		Engine:  query.NewEngine(config.Default().Search),
	})
}

func ingestionConfig(location string) config.IngestionConfig {
	cfg := config.Default().Ingestion
	cfg.DataSource = location
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "cfcd208495d565ef66e7dff9f98764da", RecordID(0))
	assert.Equal(t, "c4ca4238a0b923820dcc509a6f75849b", RecordID(1))
}

func TestDecodeAndDocuments(t *testing.T) {
	feed, err := Decode([]byte(feedJSON))
	require.NoError(t, err)
	assert.Equal(t, "test anthology", feed.Source)

	docs := feed.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, RecordID(0), docs[0].ID)
	assert.Equal(t, "Birches", docs[0].Value("title"))
	assert.Equal(t, "Love,Nature", docs[1].Value("type"))
	assert.Equal(t, "42", docs[2].Value("title"))
	assert.Equal(t, "true", docs[2].Value("age"))
	content, hasContent := docs[2].Fields["content"]
	assert.True(t, hasContent)
	assert.Empty(t, content)
}

func TestNullUndeclaredFieldIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poems.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"list":[{"title":"x","rating":null}]}`), 0o644))

	cat := newCatalog()
	_, err := NewLoader(cat, NewFetcher(nil, fastRetry()), ingestionConfig(path)).Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`{"list": [`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	feed, err := NewFetcher(srv.Client(), fastRetry()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, feed.List, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), fastRetry()).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoaderFromHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	cat := newCatalog()
	loader := NewLoader(cat, NewFetcher(srv.Client(), fastRetry()), ingestionConfig(srv.URL))
	report, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Documents)
	assert.Equal(t, "test anthology", report.Source)
	assert.Equal(t, catalog.StateReady, cat.State())

	res, err := cat.SearchTag(context.Background(), "type", "nature", query.Options{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, RecordID(0), res.Documents[0].ID)

	last, ok := loader.Last()
	require.True(t, ok)
	assert.Equal(t, report.Generation, last.Generation)
}

func TestLoaderRejectsUndeclaredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poems.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"list":[{"title":"x","rating":"5"}]}`), 0o644))

	cat := newCatalog()
	_, err := NewLoader(cat, NewFetcher(nil, fastRetry()), ingestionConfig(path)).Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
	assert.Equal(t, catalog.StateLoading, cat.State())
}

func TestLoaderReplacesPreviousData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poems.json")
	require.NoError(t, os.WriteFile(path, []byte(feedJSON), 0o644))
	cat := newCatalog()
	loader := NewLoader(cat, NewFetcher(nil, fastRetry()), ingestionConfig(path))
	_, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"list":[{"title":"Only"}]}`), 0o644))
	report, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)

	res, err := cat.SearchAll(context.Background(), query.Options{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "Only", res.Documents[0].Value("title"))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poems.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"list":[{"title":"First"}]}`), 0o644))

	cat := newCatalog()
	loader := NewLoader(cat, NewFetcher(nil, fastRetry()), ingestionConfig(path))
	w := NewWatcher(path, loader, 20*time.Millisecond)
	w.loaded = make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(feedJSON), 0o644))

	select {
	case err := <-w.loaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	res, err := cat.SearchAll(context.Background(), query.Options{})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 3)

	cancel()
	assert.NoError(t, <-done)
}
