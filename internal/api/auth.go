package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/keepsake/internal/storage"
)

// TokenVerifier resolves a bearer token to the user it was issued to.
type TokenVerifier interface {
	LookupToken(ctx context.Context, token string) (string, error)
}

type userKey struct{}

// UserFromContext returns the user id set by UserAuth.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func bearerToken(r *http.Request) (token string, present bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", true
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// UserAuth requires a bearer token that resolves to a user.
func UserAuth(v TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r)
			if !present {
				httpError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing authorization header")
				return
			}
			if token == "" {
				httpError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid authorization header format")
				return
			}
			userID, err := v.LookupToken(r.Context(), token)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid or expired token")
				return
			}
			if err != nil {
				logger.Error("verifying token", "error", err)
				httpError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
		})
	}
}

// ServiceAuth requires the configured service token. An unset token rejects
// every request as a configuration error.
func ServiceAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httpError(w, http.StatusInternalServerError, CodeInternal, "Server configuration error")
				return
			}
			got, _ := bearerToken(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or missing service token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
