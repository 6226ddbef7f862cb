// Package auth provides authentication middleware for reviewerd.
// Noop and APIKey guard operator-only routes (e.g. metrics); Identity
// resolves the trusted upstream identity headers the trainer/reviewer
// frontends set on every request.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/teamdir"
)

// Noop returns a middleware that passes every request through unchanged.
// This is the default for the Community edition (single user, no auth).
func Noop() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// APIKey returns a middleware that validates requests against a static API key.
// The key is read from the "Authorization: Bearer <key>" header.
// If the provided key is empty, the middleware behaves like Noop (no auth).
// GET /health is always exempt from authentication to allow health checks.
// Key comparison uses crypto/subtle.ConstantTimeCompare to prevent timing attacks.
func APIKey(key string) func(http.Handler) http.Handler {
	// Empty key means no auth required — behave like Noop.
	if key == "" {
		return Noop()
	}

	keyBytes := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health endpoint is exempt from auth.
			if r.Method == http.MethodGet && r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), keyBytes) != 1 {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// ReviewerEmailHeader and TrainerEmailHeader are the trusted upstream
// identity headers set by the trainer/reviewer frontends (spec.md §6).
// The service trusts these verbatim — validating the header's origin is
// the responsibility of whatever sits in front of reviewerd.
const (
	ReviewerEmailHeader = "X-Reviewer-Email"
	TrainerEmailHeader  = "X-Trainer-Email"
)

// Identity is a resolved caller identity for the current request.
type Identity struct {
	Email string
	Role  domain.Role
}

type identityCtxKey struct{}

// IdentityFromContext returns the identity resolved by the Identity
// middleware, or false if none was set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

func contextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// RequireIdentity returns a middleware that resolves X-Reviewer-Email or
// X-Trainer-Email against dir and rejects the request with 403 if the email
// is missing or unknown. The resolved Identity is attached to the request
// context for downstream handlers (role-scoped queue listing, audit actor,
// presence tracking).
func RequireIdentity(dir teamdir.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := r.Header.Get(ReviewerEmailHeader)
			if email == "" {
				email = r.Header.Get(TrainerEmailHeader)
			}
			if email == "" {
				http.Error(w, "missing identity header", http.StatusForbidden)
				return
			}
			role, ok := dir.GetRole(email)
			if !ok {
				http.Error(w, "unknown identity", http.StatusForbidden)
				return
			}
			ctx := contextWithIdentity(r.Context(), Identity{Email: strings.ToLower(strings.TrimSpace(email)), Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
