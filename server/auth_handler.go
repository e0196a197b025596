package server

import (
	"context"
	"net/http"
	"strings"

	"PIIReview/core/auth"
	"PIIReview/logger"
)

type ctxKey int

const reviewerKey ctxKey = iota

// AuthMiddleware checks for a valid bearer token. Browsers cannot set headers on a
// websocket handshake, so a "token" query parameter is accepted as well.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
					return
				}
				token = parts[1]
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header is required")
				return
			}

			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				logger.Debug("[Auth] token 校验失败", logger.ErrorField(err))
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), reviewerKey, claims.Reviewer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReviewerFromContext returns the authenticated reviewer, if any.
func ReviewerFromContext(ctx context.Context) (string, bool) {
	reviewer, ok := ctx.Value(reviewerKey).(string)
	return reviewer, ok
}
