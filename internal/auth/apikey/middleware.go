package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const keyInfoKey contextKey = "api_key_info"

// Require returns middleware that rejects requests without a valid key.
// Keys are read from "Authorization: Bearer <key>" or X-API-Key.
func Require(v Validator) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "apikey-auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			info, err := v.Validate(r.Context(), key)
			switch {
			case err == nil:
			case errors.Is(err, ErrInvalidKey):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case errors.Is(err, ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			default:
				logger.Error("api key validation failed", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyInfoKey, info)))
		})
	}
}

// FromContext returns the key that authenticated the request, if any.
func FromContext(ctx context.Context) *KeyInfo {
	info, _ := ctx.Value(keyInfoKey).(*KeyInfo)
	return info
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
