package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/postgres"
)

// PostgresStore keeps documents in one table:
//
//	CREATE TABLE <name> (
//	    seq    BIGSERIAL,
//	    id     TEXT PRIMARY KEY,
//	    fields JSONB NOT NULL
//	);
//
// seq is assigned on first insert and untouched by upserts, so ordering by it
// gives insertion order.
type PostgresStore struct {
	db    *postgres.Client
	table string
}

// NewPostgresStore creates the table if it does not exist.
func NewPostgresStore(ctx context.Context, db *postgres.Client, table string) (*PostgresStore, error) {
	s := &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}
	_, err := db.DB.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (seq BIGSERIAL, id TEXT PRIMARY KEY, fields JSONB NOT NULL)`,
		s.table,
	))
	if err != nil {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	return s, nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, fields map[string]string) error {
	if fields == nil {
		fields = map[string]string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", id, err)
	}
	_, err = s.db.DB.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, fields) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET fields = EXCLUDED.fields`, s.table),
		id, data,
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Document, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT fields FROM %s WHERE id = $1`, s.table), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, notFound(id)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("reading %s: %w", id, err)
	}
	doc := model.Document{ID: id}
	if err := json.Unmarshal(data, &doc.Fields); err != nil {
		return model.Document{}, fmt.Errorf("unmarshaling %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) Flush(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s RESTART IDENTITY`, s.table)); err != nil {
			return fmt.Errorf("truncating %s: %w", s.table, err)
		}
		return nil
	})
}

func (s *PostgresStore) All(ctx context.Context) iter.Seq2[model.Document, error] {
	return func(yield func(model.Document, error) bool) {
		rows, err := s.db.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id, fields FROM %s ORDER BY seq`, s.table))
		if err != nil {
			yield(model.Document{}, fmt.Errorf("listing documents: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var (
				doc  model.Document
				data []byte
			)
			if err := rows.Scan(&doc.ID, &data); err != nil {
				yield(model.Document{}, fmt.Errorf("scanning document row: %w", err))
				return
			}
			if err := json.Unmarshal(data, &doc.Fields); err != nil {
				yield(model.Document{}, fmt.Errorf("unmarshaling %s: %w", doc.ID, err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Document{}, err)
		}
	}
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error { return s.db.Close() }
