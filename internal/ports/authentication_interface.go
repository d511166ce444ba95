package ports

import (
	"context"
	"realtime-chat-server/internal/model"
)

type AuthenticationService interface {
	Login(ctx context.Context, login, password, origin string) (*model.TokensPair, error)
	Rotate(ctx context.Context, refreshToken string) (*model.TokensPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	RevokeAllForUser(ctx context.Context, userUUID string) error
}
