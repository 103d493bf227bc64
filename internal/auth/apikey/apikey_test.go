package apikey

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedValidator struct{ err error }

func (f fixedValidator) Validate(context.Context, string) (*KeyInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &KeyInfo{ID: "fixed"}, nil
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashKey(""))
	assert.Len(t, HashKey("secret"), 64)
}

func TestStatic(t *testing.T) {
	s := NewStatic([]string{"alpha", "", "beta"})
	assert.Equal(t, 2, s.Len())

	info, err := s.Validate(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, "static-1", info.ID)

	_, err = s.Validate(context.Background(), "gamma")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	info, err := Chain{NewStatic(nil), fixedValidator{}}.Validate(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fixed", info.ID)

	_, err = Chain{fixedValidator{err: ErrExpiredKey}, NewStatic(nil)}.Validate(ctx, "k")
	assert.ErrorIs(t, err, ErrExpiredKey)

	_, err = Chain{NewStatic(nil)}.Validate(ctx, "k")
	assert.ErrorIs(t, err, ErrInvalidKey)

	boom := errors.New("db down")
	_, err = Chain{fixedValidator{err: boom}}.Validate(ctx, "k")
	assert.ErrorIs(t, err, boom)
}

func TestRequire(t *testing.T) {
	var seen *KeyInfo
	h := Require(NewStatic([]string{"s3cret"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header", "X-API-Key", "s3cret", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer s3cret", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/reindex", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "static-0", seen.ID)
}

func TestRequireValidatorFailure(t *testing.T) {
	h := Require(fixedValidator{err: errors.New("db down")})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}
