package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/rpc"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/resilience"
)

// backend answers poemctl queries, either from an in-process catalog or a
// running searcher over RPC.
type backend interface {
	SearchText(ctx context.Context, req proto.TextRequest) (*proto.SearchResponse, error)
	SearchTag(ctx context.Context, req proto.TagRequest) (*proto.SearchResponse, error)
	Fuzzy(ctx context.Context, req proto.FuzzyRequest) (*proto.SearchResponse, error)
	GroupBy(ctx context.Context, req proto.GroupByRequest) (*proto.GroupByResponse, error)
	Get(ctx context.Context, req proto.GetRequest) (*proto.Document, error)
	Stats(ctx context.Context, req proto.StatsRequest) (*proto.StatsResponse, error)
}

type options struct {
	configPath string
	dataPath   string
	rpcAddr    string
	timeout    time.Duration
	jsonOut    bool
	verbose    bool
	page       proto.Page

	// open and openKeys are replaced in tests.
	open     func(ctx context.Context, o *options) (backend, func() error, error)
	openKeys func(ctx context.Context, o *options) (keyStore, func() error, error)
}

func newRootCmd() *cobra.Command {
	o := &options{open: openBackend, openKeys: openKeyStore}

	root := &cobra.Command{
		Use:   "poemctl",
		Short: "Query a poem index",
		Long: `poemctl runs text, tag, fuzzy and group-count queries against a poem index.
By default it loads a dataset file into an in-process index; with --rpc it
queries a running searcher instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if o.verbose {
				level = "debug"
			}
			logger.SetupWriter(cmd.ErrOrStderr(), level, "text")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "config file for schema and search limits")
	flags.StringVar(&o.dataPath, "data", "", "dataset file or URL (defaults to the configured data source)")
	flags.StringVar(&o.rpcAddr, "rpc", "", "query a running searcher at this address instead of loading locally")
	flags.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall command timeout")
	flags.BoolVar(&o.jsonOut, "json", false, "print results as JSON")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose logging")
	flags.StringVar(&o.page.SortBy, "sort", "", "sort by a sortable field")
	flags.BoolVar(&o.page.Desc, "desc", false, "sort descending")
	flags.IntVar(&o.page.Offset, "offset", 0, "skip this many results")
	flags.IntVar(&o.page.Limit, "limit", 0, "page size (0 uses the default)")

	root.AddCommand(
		newSearchCmd(o),
		newTagCmd(o),
		newFuzzyCmd(o),
		newGroupByCmd(o),
		newGetCmd(o),
		newStatsCmd(o),
		newKeysCmd(o),
	)
	return root
}

// run opens the backend, calls fn and closes the backend again.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, b backend) (any, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	b, closeFn, err := o.open(ctx, o)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := fn(ctx, b)
	if err != nil {
		return err
	}
	if o.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return render(cmd.OutOrStdout(), result)
}

func openBackend(ctx context.Context, o *options) (backend, func() error, error) {
	if o.rpcAddr != "" {
		c, err := grpc.DialContext(ctx, o.rpcAddr)
		if err != nil {
			return nil, nil, err
		}
		return &remote{client: c}, c.Close, nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	svc, err := loadLocal(ctx, cfg, o.dataPath)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() error { return nil }, nil
}

// loadLocal ingests the dataset into a memory-backed catalog.
func loadLocal(ctx context.Context, cfg *config.Config, dataPath string) (*rpc.Service, error) {
	schema, err := model.SchemaFromConfig(cfg.Index.Schema)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(catalog.Options{
		Name:    cfg.Index.Name,
		Schema:  schema,
		Store:   store.NewMemoryStore(),
		Builder: index.NewBuilder(cfg.Index.Workers, cfg.Index.Partitions),
		Engine:  query.NewEngine(cfg.Search),
	})
	if dataPath == "" {
		dataPath = cfg.Ingestion.DataSource
	}
	fetcher := ingestion.NewFetcher(nil, resilience.RetryConfig{
		MaxAttempts:  cfg.Ingestion.RetryMax,
		InitialDelay: cfg.Ingestion.RetryBackoff,
	})
	report, err := ingestion.NewLoader(cat, fetcher, cfg.Ingestion).LoadFrom(ctx, dataPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("dataset loaded", "documents", report.Documents, "took", report.Took)
	return rpc.NewService(searcher.New(cat, nil, nil, cfg.Search)), nil
}

// remote forwards every call over RPC.
type remote struct {
	client *grpc.Client
}

func call[Req, Resp any](ctx context.Context, c *grpc.Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.Call(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *remote) SearchText(ctx context.Context, req proto.TextRequest) (*proto.SearchResponse, error) {
	return call[proto.TextRequest, proto.SearchResponse](ctx, r.client, proto.MethodSearchText, req)
}

func (r *remote) SearchTag(ctx context.Context, req proto.TagRequest) (*proto.SearchResponse, error) {
	return call[proto.TagRequest, proto.SearchResponse](ctx, r.client, proto.MethodSearchTag, req)
}

func (r *remote) Fuzzy(ctx context.Context, req proto.FuzzyRequest) (*proto.SearchResponse, error) {
	return call[proto.FuzzyRequest, proto.SearchResponse](ctx, r.client, proto.MethodFuzzy, req)
}

func (r *remote) GroupBy(ctx context.Context, req proto.GroupByRequest) (*proto.GroupByResponse, error) {
	return call[proto.GroupByRequest, proto.GroupByResponse](ctx, r.client, proto.MethodGroupBy, req)
}

func (r *remote) Get(ctx context.Context, req proto.GetRequest) (*proto.Document, error) {
	return call[proto.GetRequest, proto.Document](ctx, r.client, proto.MethodGet, req)
}

func (r *remote) Stats(ctx context.Context, req proto.StatsRequest) (*proto.StatsResponse, error) {
	return call[proto.StatsRequest, proto.StatsResponse](ctx, r.client, proto.MethodStats, req)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
