package auth

import (
	"net/http"
	"strings"
)

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// TokenFromRequest prefers the Authorization header and falls back to the
// access_token query parameter, which browsers need for EventSource and
// SockJS connections.
func TokenFromRequest(r *http.Request) string {
	if token := BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
