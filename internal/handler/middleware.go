package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// UserIDFromContext extracts the user ID from the context
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// AuthMiddleware validates a bearer credential — either a JWT session token
// or a long-lived API key (the MCP server and any scripted client use the
// latter) — and stashes the resolved user ID in the request context. A
// missing, malformed, or rejected credential is not itself an error here:
// it just leaves the context without a user ID, so downstream handlers that
// require auth can respond 401 while public routes keep working.
func AuthMiddleware(jwt *JWTService, apiKeys *store.APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := resolveUserID(r.Context(), token, jwt, apiKeys)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>"
// header.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	return parts[1], true
}

// resolveUserID validates token as an API key if it carries store.APIKeyPrefix,
// falling back to JWT validation otherwise.
func resolveUserID(ctx context.Context, token string, jwt *JWTService, apiKeys *store.APIKeyStore) (uuid.UUID, error) {
	if strings.HasPrefix(token, store.APIKeyPrefix) && apiKeys != nil {
		return apiKeys.ValidateAndGetUserID(ctx, token)
	}
	return jwt.ValidateToken(token)
}
