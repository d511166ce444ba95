package security

import (
	"fmt"
	"sync"
	"time"
)

// AttemptLimiter считает неудачные попытки аутентификации по ключу
// identifier:origin в скользящем окне. Достижение порога блокирует ключ
// на фиксированный срок; успешная аутентификация сбрасывает счетчик
type AttemptLimiter struct {
	mu            sync.Mutex
	maxAttempts   int
	window        time.Duration
	lockout       time.Duration
	failuresByKey map[string][]time.Time
	lockedUntil   map[string]time.Time
	maxMemory     int
}

func NewAttemptLimiter(maxAttempts int, window, lockout time.Duration) *AttemptLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = time.Hour
	}
	if lockout <= 0 {
		lockout = 15 * time.Minute
	}

	return &AttemptLimiter{
		maxAttempts:   maxAttempts,
		window:        window,
		lockout:       lockout,
		failuresByKey: make(map[string][]time.Time),
		lockedUntil:   make(map[string]time.Time),
		maxMemory:     5000,
	}
}

func AttemptKey(identifier, origin string) string {
	return fmt.Sprintf("%s:%s", identifier, origin)
}

// CheckAttempt сообщает, разрешена ли попытка для ключа.
// При блокировке возвращает положительный retryAfter
func (l *AttemptLimiter) CheckAttempt(key string) (bool, int, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.lockedUntil[key]; ok {
		if now.Before(until) {
			retryAfter := until.Sub(now)
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			return false, 0, retryAfter
		}
		// срок блокировки вышел
		delete(l.lockedUntil, key)
		delete(l.failuresByKey, key)
	}

	failures := l.pruneLocked(key, now)
	remaining := l.maxAttempts - len(failures)
	if remaining <= 0 {
		until := now.Add(l.lockout)
		l.lockedUntil[key] = until
		return false, 0, l.lockout
	}

	return true, remaining, 0
}

// RegisterFailure фиксирует неудачную попытку; порог включает блокировку
func (l *AttemptLimiter) RegisterFailure(key string) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	failures := append(l.pruneLocked(key, now), now)
	l.failuresByKey[key] = failures

	if len(failures) >= l.maxAttempts {
		l.lockedUntil[key] = now.Add(l.lockout)
	}

	if len(l.failuresByKey) > l.maxMemory {
		threshold := now.Add(-l.window)
		for k, hits := range l.failuresByKey {
			if len(hits) == 0 || hits[len(hits)-1].Before(threshold) {
				delete(l.failuresByKey, k)
				delete(l.lockedUntil, k)
			}
		}
	}
}

// Reset сбрасывает счетчик ключа после успешной аутентификации
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failuresByKey, key)
	delete(l.lockedUntil, key)
}

func (l *AttemptLimiter) pruneLocked(key string, now time.Time) []time.Time {
	threshold := now.Add(-l.window)

	hits := l.failuresByKey[key]
	filtered := make([]time.Time, 0, len(hits))
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}
	l.failuresByKey[key] = filtered
	return filtered
}
