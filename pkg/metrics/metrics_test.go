package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.CacheHitsTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheHitsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheHitsTotal))
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.QueriesTotal.WithLabelValues("text", "hit").Inc()
	m.CatalogReady.Set(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `poemsearch_queries_total{op="text",outcome="hit"} 1`)
	assert.Contains(t, string(body), "poemsearch_catalog_ready 1")
}
