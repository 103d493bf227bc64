package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/tracing"
)

// emit is one (field, term, document) occurrence produced by a tokenizing
// worker and routed to the partition owning the term.
type emit struct {
	field string
	term  string
	ord   uint64
}

// Builder produces Index values and numbers them with a monotonically
// increasing generation. It is safe for concurrent use.
type Builder struct {
	workers    int
	partitions int
	generation atomic.Uint64
	logger     *slog.Logger
}

// NewBuilder creates a Builder that tokenizes with the given number of workers
// and spreads terms over the given number of partitions.
func NewBuilder(workers, partitions int) *Builder {
	if workers <= 0 {
		workers = 1
	}
	if partitions <= 0 {
		partitions = 1
	}
	return &Builder{
		workers:    workers,
		partitions: partitions,
		logger:     logger.WithComponent("index-builder"),
	}
}

// Build indexes docs against schema. It always builds from scratch: TEXT
// fields are tokenized into lowercase terms, TAG fields split on commas. A
// document carrying a field the schema does not declare fails the whole build
// with ErrSchemaMismatch, as does a repeated document ID with ErrInvalidInput.
//
// Tokenization runs on b.workers goroutines, each writing only to its own
// per-partition buffers. Merging then runs one goroutine per partition, so
// every posting list has exactly one writer.
func (b *Builder) Build(ctx context.Context, name string, schema *model.Schema, docs []model.Document) (*Index, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartChildSpan(ctx, "index.build")
	defer span.End()
	span.SetAttr("documents", len(docs))

	ix := &Index{
		name:       name,
		schema:     schema,
		docs:       make([]model.Document, len(docs)),
		ordinals:   make(map[string]uint64, len(docs)),
		partitions: make([]*partition, b.partitions),
	}
	for i, doc := range docs {
		if _, dup := ix.ordinals[doc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %q", apperrors.ErrInvalidInput, doc.ID)
		}
		ix.ordinals[doc.ID] = uint64(i)
		ix.docs[i] = doc.Clone()
	}

	workers := min(b.workers, max(len(docs), 1))
	buffers := make([][][]emit, workers)
	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(docs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(docs))
		buffers[w] = make([][]emit, b.partitions)
		g.Go(func() error {
			return b.tokenize(gctx, schema, ix.docs, lo, hi, buffers[w])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var mg errgroup.Group
	for p := 0; p < b.partitions; p++ {
		ix.partitions[p] = newPartition()
		mg.Go(func() error {
			part := ix.partitions[p]
			for w := range buffers {
				for _, e := range buffers[w][p] {
					part.add(e.field, e.term, e.ord)
				}
			}
			return nil
		})
	}
	_ = mg.Wait()

	ix.buildVocabulary()
	ix.builtAt = time.Now().UTC()
	ix.generation = b.generation.Add(1)
	ix.buildID = uuid.NewString()

	span.SetAttr("postings", ix.postings)
	b.logger.Info("index built",
		"index", name,
		"documents", len(ix.docs),
		"postings", ix.postings,
		"partitions", b.partitions,
		"workers", workers,
		"generation", ix.generation,
		"build_id", ix.buildID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ix, nil
}

func (b *Builder) tokenize(ctx context.Context, schema *model.Schema, docs []model.Document, lo, hi int, out [][]emit) error {
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := docs[i]
		if err := schema.Validate(doc); err != nil {
			return err
		}
		ord := uint64(i)
		for _, f := range schema.Fields() {
			value, ok := doc.Fields[f.Name]
			if !ok {
				continue
			}
			var terms []string
			switch f.Kind {
			case model.KindTag:
				terms = tokenizer.Tags(value)
			default:
				terms = tokenizer.Terms(value)
			}
			for _, term := range terms {
				p := partitionOf(term, len(out))
				out[p] = append(out[p], emit{field: f.Name, term: term, ord: ord})
			}
		}
	}
	return nil
}
