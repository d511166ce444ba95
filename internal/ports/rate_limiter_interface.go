package ports

import "time"

// RateLimiter : скользящее окно неудачных попыток по ключу identifier:origin
type RateLimiter interface {
	CheckAttempt(key string) (allowed bool, remaining int, retryAfter time.Duration)
	RegisterFailure(key string)
	Reset(key string)
}
