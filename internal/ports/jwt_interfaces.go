package ports

import (
	"context"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/security"
	"time"
)

// TokenStore : реестр refresh-токенов и блэклист access-токенов.
// Реализации: in-memory (один процесс) и Redis (общее хранилище).
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error
	FindRefreshToken(ctx context.Context, uuid string) (*model.RefreshToken, error)
	// RevokeRefreshToken отзывает токен ровно один раз:
	// повторный отзыв возвращает model.ErrRefreshReuse
	RevokeRefreshToken(ctx context.Context, uuid string) error
	RevokeAllForUser(ctx context.Context, userUUID string) error
	BlacklistAccessToken(ctx context.Context, tokenUUID string, expireAt time.Time) error
	IsAccessTokenBlacklisted(ctx context.Context, tokenUUID string) (bool, error)
}

type JWTServiceInterface interface {
	IssueTokenPair(user *model.User) (*model.TokensPair, *model.RefreshToken, error)
	ValidateAccess(ctx context.Context, tokenString string) (*security.Claims, error)
	ValidateRefresh(ctx context.Context, tokenString string) (*security.Claims, error)
}
