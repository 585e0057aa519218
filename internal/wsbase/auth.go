// Package wsbase holds transport helpers shared by the websocket endpoints:
// request authorization, websocket accept with origin patterns, and CORS for
// the REST surface.
package wsbase

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// IsAuthorizedRequest checks whether the request carries the expected token,
// either as "Authorization: Bearer <token>" or as a ?token= query parameter.
// An empty expected token disables the check entirely.
func IsAuthorizedRequest(expected string, r *http.Request) bool {
	if expected == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if TokensEqual(expected, strings.TrimPrefix(auth, "Bearer ")) {
			return true
		}
	}
	return TokensEqual(expected, r.URL.Query().Get("token"))
}

// BearerToken extracts the bearer credential from the request, falling back
// to the ?token= query parameter. Returns "" when neither is present.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// TokensEqual compares tokens in constant time. Empty tokens never match
// anything, including each other.
func TokensEqual(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
