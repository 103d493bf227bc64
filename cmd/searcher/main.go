package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/api"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/rpc"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	slog.Info("starting poem search service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"data_source", cfg.Ingestion.DataSource,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	schema, err := model.SchemaFromConfig(cfg.Index.Schema)
	if err != nil {
		slog.Error("invalid index schema", "error", err)
		os.Exit(1)
	}

	docs, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open document store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	cat := catalog.New(catalog.Options{
		Name:    cfg.Index.Name,
		Schema:  schema,
		Store:   docs,
		Builder: index.NewBuilder(cfg.Index.Workers, cfg.Index.Partitions),
		Engine:  query.NewEngine(cfg.Search),
		Events:  kafka.NewPublisher(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt),
		Metrics: m,
	})
	defer cat.Close()

	checker := health.NewChecker()
	checker.Register("catalog", api.CatalogCheck(cat))

	var queryCache *cache.QueryCache
	if cfg.Redis.CacheEnabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.Ping(redisClient.Ping, false))
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if queryCache != nil && len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt, searcher.InvalidateOnBuild(queryCache))
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("cache invalidation consumer error", "error", err)
			}
		}()
	}

	analyticsPublisher := kafka.NewPublisher(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsPublisher.Close()
	collector := analytics.NewCollector(analytics.NewAggregator(), analyticsPublisher,
		cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	collector.Start(ctx)
	defer collector.Wait()

	if cfg.Analytics.SnapshotInterval > 0 {
		startSnapshots(ctx, cfg, collector, checker)
	}

	s := searcher.New(cat, queryCache, collector, cfg.Search)

	fetcher := ingestion.NewFetcher(&http.Client{Timeout: cfg.Ingestion.Timeout}, resilience.RetryConfig{
		MaxAttempts:  cfg.Ingestion.RetryMax,
		InitialDelay: cfg.Ingestion.RetryBackoff,
	})
	loader := ingestion.NewLoader(cat, fetcher, cfg.Ingestion)
	go func() {
		if _, err := loader.Load(ctx); err != nil {
			slog.Error("initial load failed, index stays unavailable until a reindex succeeds", "error", err)
			return
		}
		if cfg.Ingestion.Watch && !ingestion.IsRemote(cfg.Ingestion.DataSource) {
			if err := ingestion.NewWatcher(cfg.Ingestion.DataSource, loader, 0).Run(ctx); err != nil {
				slog.Error("dataset watcher stopped", "error", err)
			}
		}
	}()

	var rpcServer *grpc.Server
	if cfg.RPC.Addr != "" {
		rpcServer = grpc.NewServer(cfg.RPC.RequestTimeout)
		rpc.NewService(s).Register(rpcServer)
		go func() {
			if err := rpcServer.Serve(cfg.RPC.Addr); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
	}

	routerOpts := api.RouterOptions{
		Metrics: m,
		Limiter: middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		Timeout: cfg.Server.WriteTimeout,
		Admin:   adminValidator(ctx, cfg, checker),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		cors := middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)
		routerOpts.CORS = &cors
	}
	router := api.NewRouter(api.New(s, loader, cfg.Store.KeyPrefix), checker, routerOpts)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
	}()

	slog.Info("poem search service listening", "addr", server.Addr, "rpc_addr", cfg.RPC.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("poem search service stopped")
}

// startSnapshots persists aggregated query stats to Postgres on an interval.
func startSnapshots(ctx context.Context, cfg *config.Config, collector *analytics.Collector, checker *health.Checker) {
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
		return
	}
	snapshots, err := analytics.NewSnapshotStore(ctx, db)
	if err != nil {
		slog.Warn("analytics snapshot table unavailable", "error", err)
		db.Close()
		return
	}
	checker.Register("postgres", health.Ping(db.Ping, false))
	go func() {
		defer db.Close()
		snapshots.Run(ctx, collector.Aggregator(), cfg.Analytics.SnapshotInterval)
	}()
	slog.Info("analytics snapshots enabled", "interval", cfg.Analytics.SnapshotInterval)
}

// adminValidator combines configured keys and the Postgres key table. It
// returns nil, leaving the admin endpoints open, when neither is set.
func adminValidator(ctx context.Context, cfg *config.Config, checker *health.Checker) apikey.Validator {
	var chain apikey.Chain
	if static := apikey.NewStatic(cfg.Auth.AdminKeys); static.Len() > 0 {
		chain = append(chain, static)
	}
	if cfg.Auth.APIKeyTable != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres unavailable, api key table disabled", "error", err)
		} else if keys, err := apikey.NewStore(ctx, db, cfg.Auth.APIKeyTable); err != nil {
			slog.Error("api key table unavailable", "error", err)
			db.Close()
		} else {
			checker.Register("apikeys", health.Ping(db.Ping, false))
			chain = append(chain, keys)
		}
	}
	if len(chain) == 0 {
		slog.Warn("no admin keys configured, admin endpoints are open")
		return nil
	}
	return chain
}
