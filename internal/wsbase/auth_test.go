package wsbase

import (
	"net/http/httptest"
	"testing"
)

func TestIsAuthorizedRequestWithoutExpectedToken(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws", nil)
	if !IsAuthorizedRequest("", req) {
		t.Fatal("expected request without configured token to be authorized")
	}
}

func TestIsAuthorizedRequestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	if !IsAuthorizedRequest("secret-token", req) {
		t.Fatal("expected bearer token to authorize request")
	}
}

func TestIsAuthorizedRequestQueryToken(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws?token=secret-token", nil)

	if !IsAuthorizedRequest("secret-token", req) {
		t.Fatal("expected query token to authorize request")
	}
}

func TestIsAuthorizedRequestRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws?token=wrong", nil)
	req.Header.Set("Authorization", "Bearer also-wrong")

	if IsAuthorizedRequest("secret-token", req) {
		t.Fatal("expected invalid tokens to be rejected")
	}
}

func TestIsAuthorizedRequestMissingToken(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws", nil)

	if IsAuthorizedRequest("secret-token", req) {
		t.Fatal("expected request with no token to be rejected when server requires one")
	}
}

func TestBearerTokenPrefersHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")

	if got := BearerToken(req); got != "from-header" {
		t.Fatalf("token = %q, want from-header", got)
	}
}

func TestBearerTokenFallsBackToQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "http://localhost:8000/ws?token=from-query", nil)

	if got := BearerToken(req); got != "from-query" {
		t.Fatalf("token = %q, want from-query", got)
	}
}

func TestTokensEqual(t *testing.T) {
	if !TokensEqual("abc", "abc") {
		t.Fatal("expected equal tokens to match")
	}
	if TokensEqual("abc", "xyz") {
		t.Fatal("expected unequal tokens not to match")
	}
	if TokensEqual("", "abc") || TokensEqual("abc", "") || TokensEqual("", "") {
		t.Fatal("expected empty tokens never to match")
	}
}
