package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/middleware"
)

// RouterOptions tunes the middleware chain. Zero values disable the
// corresponding middleware.
type RouterOptions struct {
	Metrics *metrics.Metrics
	Limiter *middleware.Limiter
	Timeout time.Duration
	CORS    *middleware.CORSConfig
	// Admin guards reindex and cache invalidation.
	Admin apikey.Validator
}

// NewRouter builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET  /author/{author}                 regex search on author
//	GET  /title/{title}                   regex search on title
//	GET  /type/{type}                     tag search on type
//	GET  /groupcounts/{field}             group counts
//	GET  /api/v1/search/{field}?q=        text search
//	GET  /api/v1/tags/{field}/{value}     tag search
//	GET  /api/v1/fuzzy/{field}/{text}     fuzzy search
//	GET  /api/v1/groupcounts/{field}      group counts
//	GET  /api/v1/documents/{id}           fetch a document
//	GET  /api/v1/schema                   index schema
//	GET  /api/v1/stats                    catalog stats
//	POST /api/v1/reindex                  reload the dataset (admin)
//	GET  /api/v1/analytics                query analytics
//	GET  /api/v1/cache/stats              cache stats
//	POST /api/v1/cache/invalidate         clear the cache (admin)
//	GET  /health/live, /health/ready      probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → RateLimit → Timeout → Metrics → mux
func NewRouter(h *Handler, checker *health.Checker, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("GET /author/{author}", h.Author)
	mux.HandleFunc("GET /title/{title}", h.Title)
	mux.HandleFunc("GET /type/{type}", h.Type)
	mux.HandleFunc("GET /groupcounts/{field}", h.GroupCounts)

	mux.HandleFunc("GET /api/v1/search/{field}", h.Search)
	mux.HandleFunc("GET /api/v1/tags/{field}/{value}", h.Tags)
	mux.HandleFunc("GET /api/v1/fuzzy/{field}/{text}", h.Fuzzy)
	mux.HandleFunc("GET /api/v1/groupcounts/{field}", h.Groups)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("GET /api/v1/schema", h.Schema)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.Handle("POST /api/v1/reindex", admin(opts.Admin, h.Reindex))
	mux.HandleFunc("GET /api/v1/analytics", h.Analytics)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.Handle("POST /api/v1/cache/invalidate", admin(opts.Admin, h.CacheInvalidate))

	mux.HandleFunc("/", h.NotFound)

	var chain http.Handler = mux
	if opts.Metrics != nil {
		chain = middleware.Metrics(opts.Metrics)(chain)
	}
	if opts.Timeout > 0 {
		chain = middleware.Timeout(opts.Timeout)(chain)
	}
	if opts.Limiter != nil {
		chain = middleware.RateLimit(opts.Limiter, opts.Metrics)(chain)
	}
	if opts.CORS != nil {
		chain = middleware.CORS(*opts.CORS)(chain)
	}
	return middleware.RequestID(chain)
}

func admin(v apikey.Validator, fn http.HandlerFunc) http.Handler {
	if v == nil {
		return fn
	}
	return apikey.Require(v)(fn)
}

// CatalogCheck reports the catalog down while it is loading.
func CatalogCheck(cat *catalog.Catalog) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if cat.State() != catalog.StateReady {
			return health.ComponentHealth{Status: health.StatusDown, Message: "index is loading"}
		}
		msg := fmt.Sprintf("generation %d", cat.Generation())
		if cat.Stale() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: msg + ", stale"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: msg}
	}
}
