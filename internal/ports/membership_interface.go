package ports

import "context"

// MembershipRepository : внешнее хранилище участников бесед.
// Проверка членства обязательна для каждого события, адресованного комнате.
type MembershipRepository interface {
	IsMember(ctx context.Context, conversationUUID, userUUID string) (bool, error)
}
