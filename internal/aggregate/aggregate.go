// Package aggregate counts documents per distinct field value.
package aggregate

import (
	"cmp"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
)

// Group is one distinct value and the number of documents carrying it.
type Group struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// GroupBy counts docs by the raw, untokenized value of field. A document
// without the field counts under "". The counts always sum to len(docs).
func GroupBy(schema *model.Schema, docs []model.Document, field string) (map[string]int, error) {
	if _, err := schema.Field(field); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, doc := range docs {
		counts[doc.Value(field)]++
	}
	return counts, nil
}

// Groups orders counts by descending count, then ascending value.
func Groups(counts map[string]int) []Group {
	groups := make([]Group, 0, len(counts))
	for v, n := range counts {
		groups = append(groups, Group{Value: v, Count: n})
	}
	slices.SortFunc(groups, func(a, b Group) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return groups
}

// Rows renders groups in the response shape {"<field>": value, "count-<field>": n}.
func Rows(field string, groups []Group) []map[string]any {
	rows := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, map[string]any{
			field:            g.Value,
			"count-" + field: g.Count,
		})
	}
	return rows
}
