package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

type contextKey string

const actorKey contextKey = "actor"

// Claims is the JWT payload used for audit attribution.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// actorFrom returns the authenticated user id, or "anonymous".
func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// authMiddleware validates a Bearer token and stores the actor identity in
// the request context. With an empty secret the middleware only extracts
// identity hints and lets requests through (local development).
func authMiddleware(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if len(secret) == 0 {
				if actor := r.Header.Get("X-User-ID"); actor != "" {
					r = r.WithContext(context.WithValue(r.Context(), actorKey, actor))
				}
				next.ServeHTTP(w, r)
				return
			}

			if token == "" {
				writeError(w, http.StatusUnauthorized, fmt.Errorf("missing authorization"))
				return
			}
			userID, err := validateJWT(token, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return header[len("Bearer "):]
	}
	return ""
}

func validateJWT(tokenString string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.UserID, nil
	}
	return "", fmt.Errorf("invalid token")
}

// rateLimitMiddleware applies a token-bucket limit across the public API.
func rateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditMiddleware records every request against donor/pledge state.
func auditMiddleware(log *auditLog) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			log.add(auditEntry{
				Time:       timeNow(),
				Actor:      actorFrom(r.Context()),
				Path:       r.URL.Path,
				Method:     r.Method,
				Status:     recorder.status,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			})
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
