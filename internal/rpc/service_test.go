package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/proto"
)

func dial(t *testing.T) *grpc.Client {
	t.Helper()
	cfg := config.Default()
	cat := catalog.New(catalog.Options{
		Name:    "poems",
		Schema:  model.PoemSchema(),
		Store:   store.NewMemoryStore(),
		Builder: index.NewBuilder(2, 4),
		Engine:  query.NewEngine(cfg.Search),
	})
	_, err := cat.Replace(context.Background(), []model.Document{
		{ID: "1", Fields: map[string]string{"author": "Robert Frost", "title": "Birches", "content": "When I see birches bend", "type": "Nature", "age": "Modern"}},
		{ID: "2", Fields: map[string]string{"author": "Emily Dickinson", "title": "Hope", "content": "Hope is the thing with feathers", "type": "Love,Nature", "age": "Modern"}},
		{ID: "3", Fields: map[string]string{"author": "Robert Frost", "title": "Acquainted with the Night", "content": "I have walked out in rain", "type": "Love", "age": "Modern"}},
	}, 2)
	require.NoError(t, err)

	srv := grpc.NewServer(5 * time.Second)
	NewService(searcher.New(cat, nil, nil, cfg.Search)).Register(srv)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeListener(ln)
	t.Cleanup(srv.Stop)

	c, err := grpc.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func docIDs(docs []proto.Document) []string {
	var out []string
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func TestSearchMethods(t *testing.T) {
	c := dial(t)
	ctx := context.Background()

	var resp proto.SearchResponse
	require.NoError(t, c.Call(ctx, proto.MethodSearchText, proto.TextRequest{Field: "author", Pattern: "/frost/"}, &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"1", "3"}, docIDs(resp.Documents))

	resp = proto.SearchResponse{}
	require.NoError(t, c.Call(ctx, proto.MethodSearchText, proto.TextRequest{
		Field: "author", Pattern: "frost", Page: proto.Page{SortBy: "title", Limit: 1},
	}, &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"3"}, docIDs(resp.Documents))

	resp = proto.SearchResponse{}
	require.NoError(t, c.Call(ctx, proto.MethodSearchTag, proto.TagRequest{Field: "type", Value: "love"}, &resp))
	assert.Equal(t, []string{"2", "3"}, docIDs(resp.Documents))

	resp = proto.SearchResponse{}
	require.NoError(t, c.Call(ctx, proto.MethodFuzzy, proto.FuzzyRequest{Field: "content", Text: "brches"}, &resp))
	assert.Equal(t, []string{"1"}, docIDs(resp.Documents))
	assert.Equal(t, "Birches", resp.Documents[0].Fields["title"])
}

func TestGroupGetStats(t *testing.T) {
	c := dial(t)
	ctx := context.Background()

	var groups proto.GroupByResponse
	require.NoError(t, c.Call(ctx, proto.MethodGroupBy, proto.GroupByRequest{Field: "author"}, &groups))
	require.Len(t, groups.Groups, 2)
	assert.Equal(t, proto.Group{Value: "Robert Frost", Count: 2}, groups.Groups[0])

	var doc proto.Document
	require.NoError(t, c.Call(ctx, proto.MethodGet, proto.GetRequest{ID: "2"}, &doc))
	assert.Equal(t, "Emily Dickinson", doc.Fields["author"])

	var stats proto.StatsResponse
	require.NoError(t, c.Call(ctx, proto.MethodStats, proto.StatsRequest{}, &stats))
	assert.Equal(t, "poems", stats.Index)
	assert.Equal(t, "ready", stats.State)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, uint64(1), stats.Generation)
}

func TestErrorCodes(t *testing.T) {
	c := dial(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		method string
		params any
		code   int
	}{
		{"missing document", proto.MethodGet, proto.GetRequest{ID: "99"}, 404},
		{"empty id", proto.MethodGet, proto.GetRequest{}, 400},
		{"unknown field", proto.MethodSearchText, proto.TextRequest{Field: "rating", Pattern: "x"}, 400},
		{"bad regex", proto.MethodSearchText, proto.TextRequest{Field: "title", Pattern: "/[/"}, 400},
		{"text on tag", proto.MethodSearchText, proto.TextRequest{Field: "type", Pattern: "love"}, 400},
		{"bad params", proto.MethodGroupBy, []int{1}, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Call(ctx, tc.method, tc.params, nil)
			var remote *grpc.RemoteError
			require.True(t, errors.As(err, &remote), "got %v", err)
			assert.Equal(t, tc.code, remote.Code, remote.Message)
		})
	}
}
