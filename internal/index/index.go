// Package index holds the immutable inverted index over a document snapshot
// and the parallel Builder that produces it. An Index is never mutated after
// Build returns, so any number of goroutines may query it without locking.
package index

import (
	"sort"
	"time"

	farmhash "github.com/leemcloughlin/gofarmhash"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
)

// partition owns the postings of every term hashing to it, grouped by field.
type partition struct {
	fields map[string]map[string]*PostingList
}

func newPartition() *partition {
	return &partition{fields: make(map[string]map[string]*PostingList)}
}

func (p *partition) add(field, term string, ord uint64) {
	terms, ok := p.fields[field]
	if !ok {
		terms = make(map[string]*PostingList)
		p.fields[field] = terms
	}
	list, ok := terms[term]
	if !ok {
		list = newPostingList()
		terms[term] = list
	}
	list.add(ord)
}

// Index is a built inverted index for one named collection.
type Index struct {
	name       string
	schema     *model.Schema
	docs       []model.Document
	ordinals   map[string]uint64
	partitions []*partition
	vocab      map[string][]string
	postings   int
	builtAt    time.Time
	generation uint64
	buildID    string
}

// Stats summarises an index.
type Stats struct {
	Name       string         `json:"name"`
	Generation uint64         `json:"generation"`
	BuildID    string         `json:"build_id"`
	Documents  int            `json:"documents"`
	Terms      map[string]int `json:"terms"`
	Postings   int            `json:"postings"`
	Partitions int            `json:"partitions"`
	BuiltAt    time.Time      `json:"built_at"`
}

func partitionOf(term string, n int) int {
	return int(farmhash.Hash32([]byte(term)) % uint32(n))
}

func (ix *Index) Name() string          { return ix.name }
func (ix *Index) Schema() *model.Schema { return ix.schema }
func (ix *Index) Len() int              { return len(ix.docs) }
func (ix *Index) Generation() uint64    { return ix.generation }
func (ix *Index) BuiltAt() time.Time    { return ix.builtAt }

// BuildID is random per build. Unlike Generation, it differs across
// processes, so it can key shared caches.
func (ix *Index) BuildID() string { return ix.buildID }

// Document returns the document stored at ordinal ord.
func (ix *Index) Document(ord uint64) model.Document {
	return ix.docs[ord]
}

// Lookup finds a document by ID.
func (ix *Index) Lookup(id string) (model.Document, bool) {
	ord, ok := ix.ordinals[id]
	if !ok {
		return model.Document{}, false
	}
	return ix.docs[ord], true
}

// All returns every ordinal in insertion order.
func (ix *Index) All() []uint64 {
	out := make([]uint64, len(ix.docs))
	for i := range out {
		out[i] = uint64(i)
	}
	return out
}

// Postings returns the posting list of term in field, or nil.
func (ix *Index) Postings(field, term string) *PostingList {
	p := ix.partitions[partitionOf(term, len(ix.partitions))]
	return p.fields[field][term]
}

// Vocabulary returns the sorted distinct terms indexed for field.
func (ix *Index) Vocabulary(field string) []string {
	return ix.vocab[field]
}

// Entries lists every (field, term) pair with its postings, sorted by field
// then term.
func (ix *Index) Entries() []TermEntry {
	entries := make([]TermEntry, 0, ix.postings)
	for _, f := range ix.schema.Fields() {
		for _, term := range ix.vocab[f.Name] {
			list := ix.Postings(f.Name, term)
			entries = append(entries, TermEntry{
				Field:    f.Name,
				Term:     term,
				DocFreq:  list.Len(),
				Postings: list.Ordinals(),
			})
		}
	}
	return entries
}

func (ix *Index) Stats() Stats {
	terms := make(map[string]int, len(ix.vocab))
	for field, words := range ix.vocab {
		terms[field] = len(words)
	}
	return Stats{
		Name:       ix.name,
		Generation: ix.generation,
		BuildID:    ix.buildID,
		Documents:  len(ix.docs),
		Terms:      terms,
		Postings:   ix.postings,
		Partitions: len(ix.partitions),
		BuiltAt:    ix.builtAt,
	}
}

func (ix *Index) buildVocabulary() {
	ix.vocab = make(map[string][]string)
	for _, p := range ix.partitions {
		for field, terms := range p.fields {
			for term, list := range terms {
				ix.vocab[field] = append(ix.vocab[field], term)
				ix.postings += list.Len()
			}
		}
	}
	for field := range ix.vocab {
		sort.Strings(ix.vocab[field])
	}
}
