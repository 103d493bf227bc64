// Package model defines the document and schema types shared by the store,
// index, query and aggregation packages.
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
)

// Document is a flat record of string fields keyed by an immutable ID.
type Document struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Value returns the value of field, or "" when the document does not carry it.
func (d Document) Value(field string) string {
	return d.Fields[field]
}

// Clone returns a copy whose Fields map is not shared with d.
func (d Document) Clone() Document {
	fields := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Document{ID: d.ID, Fields: fields}
}

// Kind is the indexing strategy of a field.
type Kind int

const (
	// KindText fields are tokenized into lowercase terms.
	KindText Kind = iota
	// KindTag fields hold comma-separated exact values.
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindTag:
		return "TAG"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind accepts TEXT or TAG in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TEXT":
		return KindText, nil
	case "TAG":
		return KindTag, nil
	default:
		return 0, fmt.Errorf("%w: unknown field kind %q", apperrors.ErrInvalidInput, s)
	}
}

// Field declares one indexed field.
type Field struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Sortable bool   `json:"sortable"`
}

// Schema is the fixed field set of an index.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema builds a schema, rejecting empty or duplicate field names.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: empty field name", apperrors.ErrInvalidInput)
		}
		if _, dup := s.fields[f.Name]; dup {
			return nil, fmt.Errorf("%w: field %q declared twice", apperrors.ErrInvalidInput, f.Name)
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)
	}
	return s, nil
}

// SchemaFromConfig converts the YAML field declarations.
func SchemaFromConfig(cfg []config.FieldConfig) (*Schema, error) {
	fields := make([]Field, 0, len(cfg))
	for _, fc := range cfg {
		kind, err := ParseKind(fc.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fc.Name, err)
		}
		fields = append(fields, Field{Name: fc.Name, Kind: kind, Sortable: fc.Sortable})
	}
	return NewSchema(fields...)
}

// PoemSchema is the schema of the poem dataset: content, author and title are
// text (title sortable), type and age are tags.
func PoemSchema() *Schema {
	s, _ := NewSchema(
		Field{Name: "content", Kind: KindText},
		Field{Name: "author", Kind: KindText},
		Field{Name: "title", Kind: KindText, Sortable: true},
		Field{Name: "type", Kind: KindTag},
		Field{Name: "age", Kind: KindTag},
	)
	return s
}

// Field looks up a declared field.
func (s *Schema) Field(name string) (Field, error) {
	f, ok := s.fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, name)
	}
	return f, nil
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Validate reports ErrSchemaMismatch for the first (alphabetically) field of
// doc that the schema does not declare.
func (s *Schema) Validate(doc Document) error {
	var unknown []string
	for name := range doc.Fields {
		if _, ok := s.fields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: document %s has undeclared field %q", apperrors.ErrSchemaMismatch, doc.ID, unknown[0])
}
