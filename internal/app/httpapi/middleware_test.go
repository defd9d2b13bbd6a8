package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "abc", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	require.Empty(t, bearerToken(req))
}

func TestValidateJWT(t *testing.T) {
	secret := []byte("test-secret")
	token := signToken(t, secret, "user-1")

	userID, err := validateJWT(token, secret)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	_, err = validateJWT(token, []byte("wrong-secret"))
	require.Error(t, err)

	_, err = validateJWT("garbage", secret)
	require.Error(t, err)
}

func TestAuthMiddlewareModes(t *testing.T) {
	var actor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = actorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	// Dev mode: empty secret trusts the identity header.
	dev := authMiddleware(nil)(next)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "dev-user")
	rec := httptest.NewRecorder()
	dev.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "dev-user", actor)

	// With a secret, a valid token is required.
	secret := []byte("s3cret")
	authed := authMiddleware(secret)(next)

	rec = httptest.NewRecorder()
	authed.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "jwt-user"))
	rec = httptest.NewRecorder()
	authed.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "jwt-user", actor)
}

func TestActorFromDefault(t *testing.T) {
	require.Equal(t, "anonymous", actorFrom(context.Background()))
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := rateLimitMiddleware(1, 2)(next)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
