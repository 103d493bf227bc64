package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
)

var (
	bucketDocs  = []byte("documents")
	bucketOrder = []byte("order")
)

const boltPage = 256

type boltRecord struct {
	Seq    uint64            `json:"seq"`
	Fields map[string]string `json:"fields"`
}

// BoltStore keeps documents in an embedded bbolt file. The documents bucket
// maps id to record; the order bucket maps big-endian sequence to id.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDocs, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (b *BoltStore) Put(_ context.Context, id string, fields map[string]string) error {
	if fields == nil {
		fields = map[string]string{}
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		docs, order := tx.Bucket(bucketDocs), tx.Bucket(bucketOrder)
		rec := boltRecord{Fields: fields}
		if existing := docs.Get([]byte(id)); existing != nil {
			var prev boltRecord
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("decoding %s: %w", id, err)
			}
			rec.Seq = prev.Seq
		} else {
			seq, err := order.NextSequence()
			if err != nil {
				return err
			}
			rec.Seq = seq
			if err := order.Put(seqKey(seq), []byte(id)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", id, err)
		}
		return docs.Put([]byte(id), data)
	})
}

func (b *BoltStore) Get(_ context.Context, id string) (model.Document, error) {
	var doc model.Document
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return notFound(id)
		}
		var rec boltRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding %s: %w", id, err)
		}
		doc = model.Document{ID: id, Fields: rec.Fields}
		return nil
	})
	return doc, err
}

func (b *BoltStore) Flush(context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDocs, bucketOrder} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// All reads the order bucket in pages, each in its own read transaction, so
// the caller may write to the store between yields.
func (b *BoltStore) All(ctx context.Context) iter.Seq2[model.Document, error] {
	return func(yield func(model.Document, error) bool) {
		var next uint64 = 1
		for {
			if err := ctx.Err(); err != nil {
				yield(model.Document{}, err)
				return
			}
			page, last, err := b.page(next)
			if err != nil {
				yield(model.Document{}, err)
				return
			}
			for _, doc := range page {
				if !yield(doc, nil) {
					return
				}
			}
			if len(page) < boltPage {
				return
			}
			next = last + 1
		}
	}
}

func (b *BoltStore) page(from uint64) ([]model.Document, uint64, error) {
	var (
		docs []model.Document
		last uint64
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDocs)
		c := tx.Bucket(bucketOrder).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil && len(docs) < boltPage; k, v = c.Next() {
			last = binary.BigEndian.Uint64(k)
			var rec boltRecord
			if err := json.Unmarshal(bucket.Get(v), &rec); err != nil {
				return fmt.Errorf("decoding %s: %w", v, err)
			}
			docs = append(docs, model.Document{ID: string(v), Fields: rec.Fields})
		}
		return nil
	})
	return docs, last, err
}

func (b *BoltStore) Backend() string { return "bolt" }

func (b *BoltStore) Close() error { return b.db.Close() }
