package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "portal_claims"

// Claims is what the auth middleware extracts from a validated token.
// Declared here (not in user) so chat and middleware stay decoupled from
// the user package.
type Claims struct {
	ID       int
	Email    string
	Role     string
	TeamRole string
}

// TokenValidator decouples this package from the user service.
type TokenValidator interface {
	ValidateClaims(tokenString string) (*Claims, error)
}

type AuthMiddleware struct {
	validator TokenValidator
	cookie    string
}

func NewAuthMiddleware(v TokenValidator, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{validator: v, cookie: cookieName}
}

// Handle authenticates a request from, in order: the session cookie, the
// Authorization header, the token query param. The query param exists for
// websocket dials from non-browser clients.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		if c, err := r.Cookie(am.cookie); err == nil {
			tokenString = c.Value
		}

		if tokenString == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) == 2 {
					tokenString = parts[1]
				}
			}
		}

		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		claims, err := am.validator.ValidateClaims(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFrom pulls the authenticated identity out of a request context.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
