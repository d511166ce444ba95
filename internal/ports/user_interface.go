package ports

import (
	"context"
	"realtime-chat-server/internal/model"
)

type UserRepository interface {
	FindByLogin(ctx context.Context, login string) (*model.User, error)
	FindByUUID(ctx context.Context, uuid string) (*model.User, error)
}
