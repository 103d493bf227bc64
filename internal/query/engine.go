package query

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/tracing"
)

// checkEvery is how many vocabulary terms a scan visits between context checks.
const checkEvery = 1024

// Options control ordering and paging of a result.
type Options struct {
	// SortBy names a sortable field; empty keeps index order.
	SortBy string
	Desc   bool
	Offset int
	// Limit caps the page size; zero or less returns every match.
	Limit int
}

// Result is one page of matching documents.
type Result struct {
	Query     string           `json:"query"`
	Total     int              `json:"total"`
	Documents []model.Document `json:"documents"`
	Took      time.Duration    `json:"took"`
}

// Engine evaluates predicates. It holds only limits, so one Engine serves any
// number of concurrent queries against any index.
type Engine struct {
	maxPatternLength int
	maxScanCost      int
	logger           *slog.Logger
}

func NewEngine(cfg config.SearchConfig) *Engine {
	return &Engine{
		maxPatternLength: cfg.MaxPatternLength,
		maxScanCost:      cfg.MaxScanCost,
		logger:           slog.Default().With("component", "query-engine"),
	}
}

// SearchText matches a text field against a literal, /regex/ or %fuzzy% pattern.
func (e *Engine) SearchText(ctx context.Context, ix *index.Index, field, pattern string, opts Options) (Result, error) {
	_, span := tracing.StartChildSpan(ctx, "query.parse")
	p, err := ParseText(field, pattern, e.maxPatternLength)
	span.End()
	if err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, ix, p, opts)
}

// SearchTag matches a tag field exactly, case-insensitively.
func (e *Engine) SearchTag(ctx context.Context, ix *index.Index, field, value string, opts Options) (Result, error) {
	p, err := ParseTag(field, value)
	if err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, ix, p, opts)
}

// Fuzzy matches terms of a text field within distance edits of text.
func (e *Engine) Fuzzy(ctx context.Context, ix *index.Index, field, text string, distance int, opts Options) (Result, error) {
	p, err := ParseFuzzy(field, text, distance)
	if err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, ix, p, opts)
}

// SearchAll returns every document.
func (e *Engine) SearchAll(ctx context.Context, ix *index.Index, opts Options) (Result, error) {
	return e.Execute(ctx, ix, All(), opts)
}

// Execute validates p against the index schema, evaluates it and returns the
// requested page.
func (e *Engine) Execute(ctx context.Context, ix *index.Index, p Predicate, opts Options) (Result, error) {
	start := time.Now()
	if err := e.validate(ix.Schema(), p, opts); err != nil {
		return Result{}, err
	}

	evalCtx, span := tracing.StartChildSpan(ctx, "query.evaluate")
	span.SetAttr("predicate", p.String())
	ords, err := e.evaluate(evalCtx, ix, p)
	span.SetAttr("matches", len(ords))
	span.End()
	if err != nil {
		return Result{}, err
	}

	_, span = tracing.StartChildSpan(ctx, "query.result")
	docs := page(ix, order(ix, ords, opts), opts)
	span.End()

	res := Result{
		Query:     p.String(),
		Total:     len(ords),
		Documents: docs,
		Took:      time.Since(start),
	}
	e.logger.Debug("query executed",
		"query", res.Query,
		"total", res.Total,
		"returned", len(docs),
		"took_ms", res.Took.Milliseconds(),
	)
	return res, nil
}

func (e *Engine) validate(schema *model.Schema, p Predicate, opts Options) error {
	if p.Op != OpAll {
		f, err := schema.Field(p.Field)
		if err != nil {
			return err
		}
		switch {
		case p.Op == OpTag && f.Kind != model.KindTag:
			return fmt.Errorf("%w: %q is a %s field, tag match needs TAG", apperrors.ErrFieldKind, f.Name, f.Kind)
		case p.Op != OpTag && f.Kind != model.KindText:
			return fmt.Errorf("%w: %q is a %s field, %s match needs TEXT", apperrors.ErrFieldKind, f.Name, f.Kind, p.Op)
		}
	}
	if opts.SortBy != "" {
		f, err := schema.Field(opts.SortBy)
		if err != nil {
			return err
		}
		if !f.Sortable {
			return fmt.Errorf("%w: %q", apperrors.ErrNotSortable, f.Name)
		}
	}
	if opts.Offset < 0 {
		return fmt.Errorf("%w: negative offset", apperrors.ErrInvalidInput)
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, ix *index.Index, p Predicate) ([]uint64, error) {
	switch p.Op {
	case OpAll:
		return ix.All(), nil

	case OpTag:
		lists := make([]*index.PostingList, 0, len(p.Tags))
		for _, tag := range p.Tags {
			lists = append(lists, ix.Postings(p.Field, tag))
		}
		return index.UnionLists(lists...), nil

	case OpSubstring:
		if len(p.Words) == 0 {
			return []uint64{}, nil
		}
		var result []uint64
		for i, word := range p.Words {
			ords, err := e.scan(ctx, ix, p, func(term string) bool {
				return strings.Contains(term, word)
			})
			if err != nil {
				return nil, err
			}
			if i == 0 {
				result = ords
			} else {
				result = index.Intersect(result, ords)
			}
			if len(result) == 0 {
				break
			}
		}
		return result, nil

	case OpRegex:
		return e.scan(ctx, ix, p, p.re.MatchString)

	case OpFuzzy:
		target := []rune(p.Value)
		return e.scan(ctx, ix, p, func(term string) bool {
			return withinDistance([]rune(term), target, p.Distance)
		})
	}
	return nil, fmt.Errorf("%w: unsupported operator %s", apperrors.ErrInternal, p.Op)
}

// scan walks the field vocabulary and unions the postings of every term
// accepted by match.
func (e *Engine) scan(ctx context.Context, ix *index.Index, p Predicate, match func(string) bool) ([]uint64, error) {
	vocab := ix.Vocabulary(p.Field)
	if cost := len(vocab) * p.scanLength(); e.maxScanCost > 0 && cost > e.maxScanCost {
		return nil, fmt.Errorf("%w: scanning %d terms of %q costs %d, limit %d",
			apperrors.ErrQueryTooExpensive, len(vocab), p.Field, cost, e.maxScanCost)
	}
	var lists []*index.PostingList
	for i, term := range vocab {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if match(term) {
			lists = append(lists, ix.Postings(p.Field, term))
		}
	}
	return index.UnionLists(lists...), nil
}

func order(ix *index.Index, ords []uint64, opts Options) []uint64 {
	if opts.SortBy == "" {
		return ords
	}
	sorted := slices.Clone(ords)
	keys := make(map[uint64]string, len(sorted))
	for _, ord := range sorted {
		keys[ord] = strings.ToLower(ix.Document(ord).Value(opts.SortBy))
	}
	slices.SortStableFunc(sorted, func(a, b uint64) int {
		c := strings.Compare(keys[a], keys[b])
		if opts.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return sorted
}

// page copies the requested window out of the index so callers cannot mutate
// indexed documents.
func page(ix *index.Index, ords []uint64, opts Options) []model.Document {
	lo := min(opts.Offset, len(ords))
	hi := len(ords)
	if opts.Limit > 0 {
		hi = min(lo+opts.Limit, hi)
	}
	docs := make([]model.Document, 0, hi-lo)
	for _, ord := range ords[lo:hi] {
		docs = append(docs, ix.Document(ord).Clone())
	}
	return docs
}
