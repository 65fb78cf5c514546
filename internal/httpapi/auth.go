package httpapi

import (
	"context"
	"net/http"

	"servicedesk/internal/auth"
)

type authContextKey struct{}

type TokenParser interface {
	Parse(raw string) (auth.Identity, error)
}

// AuthMiddleware rejects requests without a valid staff bearer token and
// attaches the caller's identity to the request context.
func AuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := auth.BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			identity, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), authContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := identityFromContext(r.Context())
			if !ok {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
				return
			}
			if !identity.Role.Allows(role) {
				writeError(w, requestIDFromRequest(r), http.StatusForbidden, "forbidden", "role "+string(role)+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

// actorFromRequest names the caller in history entries.
// assigneeFromRequest is the staff user id recorded as a ticket's assignee.
func assigneeFromRequest(r *http.Request) string {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		return ""
	}
	return identity.UserID
}

func actorFromRequest(r *http.Request) string {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		return ""
	}
	if identity.Email != "" {
		return identity.Email
	}
	return identity.UserID
}
