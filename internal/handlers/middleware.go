package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nexocrm/authsvc/internal/auth"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// AuthedHandlerFunc is a handler that runs after authentication and receives
// the caller's verified claims.
type AuthedHandlerFunc func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Guard gates routes behind bearer token authentication.
type Guard struct {
	tokens TokenVerifier
}

func NewGuard(tokens TokenVerifier) *Guard {
	return &Guard{tokens: tokens}
}

// Authenticate verifies the bearer token and calls next with its claims,
// which are also stored in the request context. It is the only way to turn an
// AuthedHandlerFunc into an http.Handler, so Authorize always runs after it.
func (g *Guard) Authenticate(next AuthedHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := g.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next(w, r.WithContext(ctx), claims)
	})
}

// Authorize admits callers holding at least one of allowed.
func Authorize(allowed ...string) func(AuthedHandlerFunc) AuthedHandlerFunc {
	return func(next AuthedHandlerFunc) AuthedHandlerFunc {
		return func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
			if !auth.HasAnyRole(claims, allowed...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next(w, r, claims)
		}
	}
}

// Require is Authenticate followed by Authorize(allowed...).
func (g *Guard) Require(allowed ...string) func(AuthedHandlerFunc) http.Handler {
	authorize := Authorize(allowed...)
	return func(next AuthedHandlerFunc) http.Handler {
		return g.Authenticate(authorize(next))
	}
}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
