// Package tracing records in-process span trees for queries and index builds.
// A root span is opened per request; child spans attach through the context
// and the whole tree is written to slog when the root finishes.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

var enabled atomic.Bool

// SetEnabled turns tree logging on or off. Spans are still recorded when
// disabled so callers never branch on it.
func SetEnabled(on bool) { enabled.Store(on) }

// Span is one timed operation.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration
	Attrs    map[string]any

	mu       sync.Mutex
	children []*Span
}

func newSpan(name, traceID string) *Span {
	return &Span{Name: name, TraceID: traceID, Start: time.Now(), Attrs: make(map[string]any)}
}

// StartSpan opens a root span. An empty traceID gets a fresh one.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	span := newSpan(name, traceID)
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan opens a span under the one carried by ctx, if any.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	child := newSpan(name, "")
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// FromContext returns the active span, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) End() {
	s.Duration = time.Since(s.Start)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// Children returns a copy of the child spans.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Finish ends a root span and logs its tree when tracing is enabled.
func (s *Span) Finish(logger *slog.Logger) {
	s.End()
	if !enabled.Load() {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	s.log(logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := make([]any, 0, 8+2*len(s.Attrs))
	attrs = append(attrs,
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	)
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.Info("span", attrs...)
	for _, c := range children {
		c.log(logger, depth+1)
	}
}
