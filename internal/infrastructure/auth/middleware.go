package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/honeynil/ParcelBidService/internal/infrastructure/redis"
)

type contextKey struct{}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(contextKey{}).(int64)
	return userID, ok && userID > 0
}

// AuthMiddleware accepts requests carrying a valid bearer token. With a
// redis client the token must also match the session stored under
// user:<id>:token, so logging out elsewhere revokes it.
func AuthMiddleware(tokens *TokenService, redisClient redis.RedisClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if redisClient != nil {
				redisKey := fmt.Sprintf("user:%d:token", claims.UserID)
				storedToken, err := redisClient.Get(r.Context(), redisKey)
				if err != nil || storedToken != tokenStr {
					slog.Error("invalid or revoked token", "user_id", claims.UserID, "error", err)
					http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}
