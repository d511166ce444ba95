package repository

import (
	"context"
	"realtime-chat-server/config"
	"realtime-chat-server/internal/util"

	"github.com/jmoiron/sqlx"
)

type MembershipRepository struct {
	database *config.Database
}

func NewMembershipRepository(database *config.Database) *MembershipRepository {
	return &MembershipRepository{database: database}
}

// IsMember проверяет, состоит ли пользователь в беседе
func (r *MembershipRepository) IsMember(ctx context.Context, conversationUUID, userUUID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM conversation_members
			WHERE conversation_uuid = $1
			  AND user_uuid = $2
		)
	`
	var exists bool
	err := sqlx.GetContext(ctx, r.database.DB, &exists, query, conversationUUID, userUUID)
	if err != nil {
		return false, util.LogError("[MembershipRepo] ошибка проверки членства", err)
	}
	return exists, nil
}
