// Package middleware provides HTTP middleware for the API servers.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// RoleContextKey carries the authenticated role through the request
// context.
const RoleContextKey contextKey = "role"

// APIKeyAuth is a middleware that validates API keys and JWTs.
type APIKeyAuth struct {
	keys      map[string]string // key -> role
	jwtSecret []byte
	exempt    map[string]struct{}
}

// NewAPIKeyAuth creates a new auth middleware. keys maps API keys to their
// role; exempt lists paths served without authentication.
func NewAPIKeyAuth(keys map[string]string, jwtSecret string, exempt []string) *APIKeyAuth {
	exemptSet := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = struct{}{}
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &APIKeyAuth{keys: keys, jwtSecret: secret, exempt: exemptSet}
}

// Handler returns the middleware handler.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		// Authorization: Bearer <JWT> or <API key>
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			if a.jwtSecret != nil {
				if role, ok := a.verifyJWT(tokenString); ok {
					next.ServeHTTP(w, r.WithContext(withRole(r.Context(), role)))
					return
				}
			}

			if role, ok := a.keys[tokenString]; ok {
				next.ServeHTTP(w, r.WithContext(withRole(r.Context(), role)))
				return
			}
		}

		// X-API-Key header
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			if role, ok := a.keys[apiKey]; ok {
				next.ServeHTTP(w, r.WithContext(withRole(r.Context(), role)))
				return
			}
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func (a *APIKeyAuth) verifyJWT(tokenString string) (string, bool) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	role := ""
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if r, ok := claims["role"].(string); ok {
			role = r
		}
	}
	return role, true
}

func withRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleContextKey, role)
}

// Role returns the authenticated role from the request context, or empty.
func Role(ctx context.Context) string {
	role, _ := ctx.Value(RoleContextKey).(string)
	return role
}
