// Package api serves the HTTP query surface: the legacy /author, /title,
// /type and /groupcounts routes plus the versioned /api/v1 endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/aggregate"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
)

// Reloader re-ingests the dataset.
type Reloader interface {
	Load(ctx context.Context) (ingestion.Report, error)
}

// Handler implements the HTTP endpoints.
type Handler struct {
	searcher  *searcher.Searcher
	reloader  Reloader
	keyPrefix string
	logger    *slog.Logger
}

// New creates a Handler. reloader may be nil, which disables reindexing.
// keyPrefix is prepended to document ids on the legacy routes.
func New(s *searcher.Searcher, reloader Reloader, keyPrefix string) *Handler {
	return &Handler{
		searcher:  s,
		reloader:  reloader,
		keyPrefix: keyPrefix,
		logger:    slog.Default().With("component", "api-handler"),
	}
}

// DocumentView is the {id, value} rendering of a document.
type DocumentView struct {
	ID    string            `json:"id"`
	Value map[string]string `json:"value"`
}

// SearchResponse is the /api/v1 search envelope.
type SearchResponse struct {
	Query     string         `json:"query"`
	Total     int            `json:"total"`
	Offset    int            `json:"offset"`
	Limit     int            `json:"limit"`
	TookMs    int64          `json:"took_ms"`
	CacheHit  bool           `json:"cache_hit"`
	Documents []DocumentView `json:"documents"`
}

// ---------- Legacy routes ----------

// Author runs /{author}/ as a regex over the author field.
func (h *Handler) Author(w http.ResponseWriter, r *http.Request) {
	h.legacyText(w, r, "author", r.PathValue("author"))
}

// Title runs /{title}/ as a regex over the title field.
func (h *Handler) Title(w http.ResponseWriter, r *http.Request) {
	h.legacyText(w, r, "title", r.PathValue("title"))
}

// Type is an exact tag search on the type field.
func (h *Handler) Type(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.options(w, r)
	if !ok {
		return
	}
	res, _, err := h.searcher.SearchTag(r.Context(), "type", r.PathValue("type"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.views(res.Documents, h.keyPrefix))
}

// GroupCounts returns [{"<field>": value, "count-<field>": n}, ...].
func (h *Handler) GroupCounts(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	groups, err := h.searcher.GroupBy(r.Context(), field)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, aggregate.Rows(field, groups))
}

func (h *Handler) legacyText(w http.ResponseWriter, r *http.Request, field, value string) {
	opts, ok := h.options(w, r)
	if !ok {
		return
	}
	res, _, err := h.searcher.SearchText(r.Context(), field, "/"+value+"/", opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.views(res.Documents, h.keyPrefix))
}

// ---------- /api/v1 ----------

// Search runs ?q= against a text field: a literal, /regex/ or %fuzzy%
// pattern. An empty q returns every document.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.options(w, r)
	if !ok {
		return
	}
	field := r.PathValue("field")
	q := r.URL.Query().Get("q")
	var (
		res query.Result
		out searcher.Outcome
		err error
	)
	if q == "" {
		if _, err := h.searcher.Catalog().Schema().Field(field); err != nil {
			h.fail(w, r, err)
			return
		}
		res, out, err = h.searcher.SearchAll(r.Context(), opts)
	} else {
		res, out, err = h.searcher.SearchText(r.Context(), field, q, opts)
	}
	h.respond(w, r, res, out, opts, err)
}

// Tags runs an exact tag search; value may hold several tags joined by |.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.options(w, r)
	if !ok {
		return
	}
	res, out, err := h.searcher.SearchTag(r.Context(), r.PathValue("field"), r.PathValue("value"), opts)
	h.respond(w, r, res, out, opts, err)
}

// Fuzzy matches terms within ?distance= edits (default 1) of text.
func (h *Handler) Fuzzy(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.options(w, r)
	if !ok {
		return
	}
	distance := 1
	if v := r.URL.Query().Get("distance"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			h.fail(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "distance must be an integer"))
			return
		}
		distance = d
	}
	res, out, err := h.searcher.Fuzzy(r.Context(), r.PathValue("field"), r.PathValue("text"), distance, opts)
	h.respond(w, r, res, out, opts, err)
}

// Groups is the structured form of GroupCounts.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	groups, err := h.searcher.GroupBy(r.Context(), field)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"field":  field,
		"groups": groups,
		"rows":   aggregate.Rows(field, groups),
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.searcher.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DocumentView{ID: doc.ID, Value: doc.Fields})
}

func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"index":  h.searcher.Catalog().Name(),
		"fields": h.searcher.Catalog().Schema().Fields(),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searcher.Stats())
}

// Reindex reloads the dataset and rebuilds the index synchronously.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		h.writeError(w, http.StatusServiceUnavailable, "reindexing is disabled")
		return
	}
	report, err := h.reloader.Load(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	collector := h.searcher.Collector()
	if collector == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, collector.Aggregator().Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	qc := h.searcher.Cache()
	if qc == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, qc.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	qc := h.searcher.Cache()
	if qc == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := qc.Invalidate(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// ---------- helpers ----------

// options reads sort, desc, offset and limit. It writes a 400 and returns
// false on malformed values.
func (h *Handler) options(w http.ResponseWriter, r *http.Request) (query.Options, bool) {
	q := r.URL.Query()
	opts := query.Options{SortBy: q.Get("sort")}
	var err error
	if v := q.Get("desc"); v != "" {
		if opts.Desc, err = strconv.ParseBool(v); err != nil {
			h.fail(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "desc must be a boolean"))
			return opts, false
		}
	}
	for name, dst := range map[string]*int{"offset": &opts.Offset, "limit": &opts.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be a non-negative integer, got %q", name, v))
			return opts, false
		}
		*dst = n
	}
	return opts, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res query.Result, out searcher.Outcome, opts query.Options, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{
		Query:     res.Query,
		Total:     res.Total,
		Offset:    opts.Offset,
		Limit:     h.searcher.Page(opts).Limit,
		TookMs:    out.Took.Milliseconds(),
		CacheHit:  out.CacheHit,
		Documents: h.views(res.Documents, ""),
	})
}

func (h *Handler) views(docs []model.Document, prefix string) []DocumentView {
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentView{ID: prefix + d.ID, Value: d.Fields})
	}
	return out
}

// fail maps err to its HTTP status. Server-side failures are logged and
// answered with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, status, http.StatusText(status))
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// NotFound answers unknown routes in JSON.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}
