package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey string

const (
	channelIDKey ctxKey = "channel_id"
	scopesKey    ctxKey = "channel_scopes"
)

// TokenValidator — интерфейс проверки токена диалогового слоя
type TokenValidator interface {
	VerifyToken(tokenStr string) (*ChannelClaims, error)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), channelIDKey, claims.ChannelID)
			ctx = context.WithValue(ctx, scopesKey, claims.Scopes)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ChannelID достает идентификатор канала из контекста (после middleware)
func ChannelID(ctx context.Context) string {
	if id, ok := ctx.Value(channelIDKey).(string); ok {
		return id
	}
	return ""
}

// HasScope проверяет право канала на операцию
func HasScope(ctx context.Context, scope string) bool {
	if scopes, ok := ctx.Value(scopesKey).(map[string]bool); ok {
		return scopes[scope]
	}
	return false
}
