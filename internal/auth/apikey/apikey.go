// Package apikey validates the keys that guard the admin endpoints. Keys are
// compared by SHA-256 hash: static keys from configuration are hashed at
// startup, and Postgres-backed keys are stored only as hashes.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Validator checks a raw key.
type Validator interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
}

// Static accepts a fixed set of keys.
type Static struct {
	hashes [][]byte
}

func NewStatic(keys []string) *Static {
	s := &Static{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		sum := sha256.Sum256([]byte(k))
		s.hashes = append(s.hashes, sum[:])
	}
	return s
}

// Len returns the number of configured keys.
func (s *Static) Len() int { return len(s.hashes) }

func (s *Static) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	sum := sha256.Sum256([]byte(rawKey))
	for i, h := range s.hashes {
		if subtle.ConstantTimeCompare(sum[:], h) == 1 {
			return &KeyInfo{ID: fmt.Sprintf("static-%d", i), Name: "config"}, nil
		}
	}
	return nil, ErrInvalidKey
}

// Chain tries each validator in turn and returns the first success.
// ErrExpiredKey from any validator wins over ErrInvalidKey.
type Chain []Validator

func (c Chain) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	result := ErrInvalidKey
	for _, v := range c {
		info, err := v.Validate(ctx, rawKey)
		if err == nil {
			return info, nil
		}
		switch {
		case errors.Is(err, ErrInvalidKey):
		case errors.Is(err, ErrExpiredKey):
			result = err
		default:
			return nil, err
		}
	}
	return nil, result
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store validates and manages keys in a Postgres table.
type Store struct {
	db     *postgres.Client
	table  string
	logger *slog.Logger
}

// NewStore creates the key table if needed.
func NewStore(ctx context.Context, db *postgres.Client, table string) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid api key table name %q", table)
	}
	s := &Store{db: db, table: table, logger: slog.Default().With("component", "apikey-store")}
	_, err := db.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		id         BIGSERIAL PRIMARY KEY,
		key_hash   TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ
	)`)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", table, err)
	}
	return s, nil
}

// Validate checks a raw key against the table.
func (s *Store) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var (
		info      KeyInfo
		expiresAt sql.NullTime
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, name, created_at, expires_at FROM `+s.table+`
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey stores the hash of a new random key and returns the raw key.
// The raw key cannot be retrieved again.
func (s *Store) CreateKey(ctx context.Context, name string, expiresAt *time.Time) (string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO `+s.table+` (key_hash, name, expires_at) VALUES ($1, $2, $3)`,
		HashKey(rawKey), name, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}
	s.logger.Info("api key created", "name", name)
	return rawKey, nil
}

// RevokeKey deactivates a key.
func (s *Store) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := s.db.DB.ExecContext(ctx,
		`UPDATE `+s.table+` SET is_active = false WHERE key_hash = $1`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	s.logger.Info("api key revoked")
	return nil
}

// ListKeys returns active keys, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, name, created_at, expires_at FROM `+s.table+`
		 WHERE is_active = true ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var (
			info      KeyInfo
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		if expiresAt.Valid {
			info.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, info)
	}
	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
