package ports

// ConnectionCloser разрывает живые соединения пользователя на процессе.
// Используется при отзыве всех сессий: мало отозвать токены,
// уже открытые соединения тоже должны закрыться
type ConnectionCloser interface {
	DisconnectUser(userUUID string) error
}
