package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// ScopeAdmin guards settings and job reset.
const ScopeAdmin = models.ScopeAdmin

// KeyStore is the subset of store.Store auth needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store KeyStore
}

func NewAuth(s KeyStore) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token against the stored bcrypt hashes
// and records the matching key as the request's Caller.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		prefix, ok := models.APIKeyPrefix(rawKey)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("api key lookup failed", "key_prefix", prefix, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		for _, key := range keys {
			if !key.Active() {
				continue
			}
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}
			go a.touch(key.ID)
			ctx := WithCaller(r.Context(), Caller{Name: key.Name, Prefix: prefix, Scopes: key.Scopes})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
		slog.Warn("updating api key last_used_at failed", "key_id", id, "error", err)
	}
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, _ := CallerFrom(r.Context())
			if models.HasScope(c.Scopes, scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
