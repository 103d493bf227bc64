// Package rpc exposes the searcher as the PoemSearch JSON-over-TCP service.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/proto"
)

// Service adapts a Searcher to RPC handlers.
type Service struct {
	searcher *searcher.Searcher
}

func NewService(s *searcher.Searcher) *Service {
	return &Service{searcher: s}
}

// Register installs every PoemSearch method on srv.
func (s *Service) Register(srv *grpc.Server) {
	srv.Register(proto.MethodSearchText, handle(s.SearchText))
	srv.Register(proto.MethodSearchTag, handle(s.SearchTag))
	srv.Register(proto.MethodFuzzy, handle(s.Fuzzy))
	srv.Register(proto.MethodGroupBy, handle(s.GroupBy))
	srv.Register(proto.MethodGet, handle(s.Get))
	srv.Register(proto.MethodStats, handle(s.Stats))
}

func (s *Service) SearchText(ctx context.Context, req proto.TextRequest) (*proto.SearchResponse, error) {
	res, out, err := s.searcher.SearchText(ctx, req.Field, req.Pattern, options(req.Page))
	if err != nil {
		return nil, err
	}
	return response(res, out), nil
}

func (s *Service) SearchTag(ctx context.Context, req proto.TagRequest) (*proto.SearchResponse, error) {
	res, out, err := s.searcher.SearchTag(ctx, req.Field, req.Value, options(req.Page))
	if err != nil {
		return nil, err
	}
	return response(res, out), nil
}

func (s *Service) Fuzzy(ctx context.Context, req proto.FuzzyRequest) (*proto.SearchResponse, error) {
	distance := req.Distance
	if distance == 0 {
		distance = 1
	}
	res, out, err := s.searcher.Fuzzy(ctx, req.Field, req.Text, distance, options(req.Page))
	if err != nil {
		return nil, err
	}
	return response(res, out), nil
}

func (s *Service) GroupBy(ctx context.Context, req proto.GroupByRequest) (*proto.GroupByResponse, error) {
	groups, err := s.searcher.GroupBy(ctx, req.Field)
	if err != nil {
		return nil, err
	}
	resp := &proto.GroupByResponse{Field: req.Field, Groups: make([]proto.Group, 0, len(groups))}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, proto.Group{Value: g.Value, Count: g.Count})
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, req proto.GetRequest) (*proto.Document, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", apperrors.ErrInvalidInput)
	}
	doc, err := s.searcher.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	out := document(doc)
	return &out, nil
}

func (s *Service) Stats(_ context.Context, _ proto.StatsRequest) (*proto.StatsResponse, error) {
	st := s.searcher.Stats()
	resp := &proto.StatsResponse{
		Index: st.Name,
		State: st.State.String(),
		Stale: st.Stale,
	}
	if st.Index != nil {
		resp.Generation = st.Index.Generation
		resp.Documents = st.Index.Documents
		resp.Terms = st.Index.Terms
		resp.Postings = st.Index.Postings
	}
	return resp, nil
}

// handle decodes params into Req and calls fn.
func handle[Req, Resp any](fn func(context.Context, Req) (Resp, error)) grpc.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req Req
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("%w: decoding params: %v", apperrors.ErrInvalidInput, err)
			}
		}
		return fn(ctx, req)
	}
}

func options(p proto.Page) query.Options {
	return query.Options{SortBy: p.SortBy, Desc: p.Desc, Offset: p.Offset, Limit: p.Limit}
}

func response(res query.Result, out searcher.Outcome) *proto.SearchResponse {
	resp := &proto.SearchResponse{
		Query:     res.Query,
		Total:     res.Total,
		Documents: make([]proto.Document, 0, len(res.Documents)),
		CacheHit:  out.CacheHit,
		LatencyMs: out.Took.Milliseconds(),
	}
	for _, d := range res.Documents {
		resp.Documents = append(resp.Documents, document(d))
	}
	return resp
}

func document(d model.Document) proto.Document {
	return proto.Document{ID: d.ID, Fields: d.Fields}
}
