package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organiq/eve-core/pkg/auth"
)

var testSecret = []byte("test-secret")

func createTestToken(t *testing.T, sub string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "eve-test",
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func okHandler() (http.Handler, *auth.Principal) {
	var captured auth.Principal
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := auth.GetPrincipal(r.Context()); err == nil {
			captured = p
		}
		w.WriteHeader(http.StatusOK)
	}), &captured
}

func TestMiddlewareValidJWT(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))
	inner, captured := okHandler()
	handler := middleware(inner)

	token := createTestToken(t, "user-123", []string{"admin"}, time.Now().Add(time.Hour))
	req := httptest.NewRequest("POST", "/execute_ecl", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, *captured)
	assert.Equal(t, "user-123", (*captured).GetID())
	assert.True(t, (*captured).HasRole("admin"))
}

func TestMiddlewareExpiredJWT(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))
	inner, _ := okHandler()
	handler := middleware(inner)

	token := createTestToken(t, "user-123", nil, time.Now().Add(-time.Hour))
	req := httptest.NewRequest("POST", "/execute_ecl", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareMissingHeader(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))
	inner, _ := okHandler()
	handler := middleware(inner)

	req := httptest.NewRequest("POST", "/execute_ecl", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}

func TestMiddlewareFailsClosedWithoutValidator(t *testing.T) {
	middleware := auth.NewMiddleware(nil)
	inner, _ := okHandler()
	handler := middleware(inner)

	token := createTestToken(t, "user-123", nil, time.Now().Add(time.Hour))
	req := httptest.NewRequest("POST", "/execute_ecl", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewarePublicPaths(t *testing.T) {
	middleware := auth.NewMiddleware(nil)
	inner, _ := okHandler()
	handler := middleware(inner)

	for _, path := range []string{"/health", "/status", "/api/projects", "/api/projects/legacy"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "path %s should be public", path)
	}
}

func TestMiddlewareRejectsNonBearer(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewHMACValidator(testSecret))
	inner, _ := okHandler()
	handler := middleware(inner)

	req := httptest.NewRequest("POST", "/execute_ecl", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
