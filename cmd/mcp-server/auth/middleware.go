package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pulseworks/oura-mcp/internal/oauth"
)

type contextKey string

// UserContextKey is the request-context key holding the authenticated
// *UserContext after RequireAuth has run.
const UserContextKey contextKey = "user"

// UserContext carries the identity resolved from a bearer token.
type UserContext struct {
	UserID   string
	ClientID string
	Scope    string
}

// ExtractBearerToken pulls the token out of the Authorization header.
// Returns "" when the header is absent or not a Bearer credential.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return header[len(prefix):]
}

// UserFromContext returns the authenticated user, or nil outside RequireAuth.
func UserFromContext(ctx context.Context) *UserContext {
	user, _ := ctx.Value(UserContextKey).(*UserContext)
	return user
}

// UserID returns the authenticated user's ID, or "" when unauthenticated.
func UserID(ctx context.Context) string {
	if user := UserFromContext(ctx); user != nil {
		return user.UserID
	}
	return ""
}

// RequireAuth wraps a handler with bearer-token validation. Requests without
// a valid, unexpired access token get a 401 with a WWW-Authenticate challenge.
// CORS preflight passes through unauthenticated.
func RequireAuth(manager *oauth.Manager, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		token := ExtractBearerToken(r)
		if token == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		data, ok, err := manager.ValidateToken(r.Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("token validation failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !ok {
			unauthorized(w, "invalid or expired token")
			return
		}

		user := &UserContext{
			UserID:   data.UserID,
			ClientID: data.ClientID,
			Scope:    data.Scope,
		}
		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="/.well-known/oauth-protected-resource"`)
	http.Error(w, "Unauthorized: "+msg, http.StatusUnauthorized)
}
