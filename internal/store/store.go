// Package store holds the documents an index is built from. Every backend
// keeps documents in insertion order: the first Put of an ID fixes its
// position and later overwrites keep it.
package store

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/redis"
)

// Store is a document store.
type Store interface {
	// Put inserts or overwrites the document at id.
	Put(ctx context.Context, id string, fields map[string]string) error
	// Get returns the document at id or an error wrapping ErrDocumentNotFound.
	Get(ctx context.Context, id string) (model.Document, error)
	// Flush removes every document.
	Flush(ctx context.Context) error
	// All yields every document in insertion order. Each call starts over.
	All(ctx context.Context) iter.Seq2[model.Document, error]
	// Backend names the implementation, for logs and stats.
	Backend() string
	Close() error
}

// Collect drains All into a slice.
func Collect(ctx context.Context, s Store) ([]model.Document, error) {
	var docs []model.Document
	for doc, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, id)
}

// Open constructs the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	logger := slog.Default().With("component", "store")
	switch cfg.Store.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "redis":
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("using redis store", "addr", cfg.Redis.Addr, "prefix", cfg.Store.KeyPrefix)
		return NewRedisStore(client, cfg.Store.KeyPrefix), nil
	case "postgres":
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, client, cfg.Index.Name+"_documents")
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("using postgres store", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return s, nil
	case "bolt":
		s, err := NewBoltStore(cfg.Bolt.Path, cfg.Bolt.Timeout)
		if err != nil {
			return nil, err
		}
		logger.Info("using bolt store", "path", cfg.Bolt.Path)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", apperrors.ErrInvalidInput, cfg.Store.Backend)
	}
}
