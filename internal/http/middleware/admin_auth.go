package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ctxKeyAdminSubject contextKey = "admin_subject"

// AdminOnly gates operational endpoints behind a bearer JWT signed with the
// shared admin secret. An empty secret fails closed: the sync triggers fan
// out to external providers and must stay unreachable on a misconfigured
// deployment.
func AdminOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin access not configured", http.StatusUnauthorized)
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			var claims jwt.RegisteredClaims
			_, err := jwt.ParseWithClaims(raw, &claims,
				func(*jwt.Token) (any, error) { return []byte(secret), nil },
				jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAdminSubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminSubject returns the subject of the admin token that authorized this
// request, for audit logging downstream.
func AdminSubject(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(ctxKeyAdminSubject).(string)
	return sub, ok && sub != ""
}
