package model

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки уровня сессий и токенов. Проверяются через errors.Is,
// наружу клиенту уходят только обезличенные сообщения.
var (
	ErrAuthenticationRequired = errors.New("требуется аутентификация")
	ErrInvalidToken           = errors.New("невалидный токен")
	ErrTokenExpired           = errors.New("токен просрочен")
	ErrRefreshReuse           = errors.New("повторное использование refresh-токена")
	ErrNotARoomMember         = errors.New("пользователь не является участником комнаты")
	ErrConnectionNotFound     = errors.New("соединение не найдено")
)

// RateLimitedError : превышен лимит попыток аутентификации
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("превышен лимит попыток, повторите через %s", e.RetryAfter)
}

func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
