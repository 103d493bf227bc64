package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/redis"
)

const redisPage = 256

// RedisStore keeps each document as a hash at <prefix><id>. Insertion order
// lives in a sorted set scored by a counter, both under the same prefix so a
// Flush removes them together.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }
func (r *RedisStore) orderKey() string     { return r.prefix + "_order" }
func (r *RedisStore) seqKey() string       { return r.prefix + "_seq" }

func (r *RedisStore) Put(ctx context.Context, id string, fields map[string]string) error {
	if _, err := r.client.ZScore(ctx, r.orderKey(), id); err != nil {
		if !redis.IsNilError(err) {
			return fmt.Errorf("reading order of %s: %w", id, err)
		}
		seq, err := r.client.Incr(ctx, r.seqKey())
		if err != nil {
			return fmt.Errorf("allocating sequence for %s: %w", id, err)
		}
		if _, err := r.client.ZAddNX(ctx, r.orderKey(), float64(seq), id); err != nil {
			return fmt.Errorf("recording order of %s: %w", id, err)
		}
	}
	if err := r.client.HSetAll(ctx, r.key(id), fields); err != nil {
		return fmt.Errorf("writing %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (model.Document, error) {
	if _, err := r.client.ZScore(ctx, r.orderKey(), id); err != nil {
		if redis.IsNilError(err) {
			return model.Document{}, notFound(id)
		}
		return model.Document{}, fmt.Errorf("reading order of %s: %w", id, err)
	}
	fields, err := r.client.HGetAll(ctx, r.key(id))
	if err != nil {
		return model.Document{}, fmt.Errorf("reading %s: %w", id, err)
	}
	return model.Document{ID: id, Fields: fields}, nil
}

func (r *RedisStore) Flush(ctx context.Context) error {
	if _, err := r.client.FlushByPattern(ctx, r.prefix+"*"); err != nil {
		return fmt.Errorf("flushing %s*: %w", r.prefix, err)
	}
	return nil
}

func (r *RedisStore) All(ctx context.Context) iter.Seq2[model.Document, error] {
	return func(yield func(model.Document, error) bool) {
		for start := int64(0); ; start += redisPage {
			ids, err := r.client.ZRange(ctx, r.orderKey(), start, start+redisPage-1)
			if err != nil {
				yield(model.Document{}, fmt.Errorf("listing documents: %w", err))
				return
			}
			for _, id := range ids {
				fields, err := r.client.HGetAll(ctx, r.key(id))
				if err != nil {
					yield(model.Document{}, fmt.Errorf("reading %s: %w", id, err))
					return
				}
				if !yield(model.Document{ID: id, Fields: fields}, nil) {
					return
				}
			}
			if len(ids) < redisPage {
				return
			}
		}
	}
}

func (r *RedisStore) Backend() string { return "redis" }

func (r *RedisStore) Close() error { return r.client.Close() }
