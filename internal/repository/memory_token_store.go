package repository

import (
	"context"
	"log"
	"realtime-chat-server/internal/model"
	"sync"
	"time"
)

// MemoryTokenStore : реестр refresh-токенов и блэклист access-токенов
// в памяти процесса. Корректен только для одного инстанса; для нескольких
// процессов используется RedisTokenStore
type MemoryTokenStore struct {
	mu            sync.RWMutex
	refreshByUUID map[string]*model.RefreshToken
	blacklist     map[string]time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		refreshByUUID: make(map[string]*model.RefreshToken),
		blacklist:     make(map[string]time.Time),
	}
}

func (s *MemoryTokenStore) SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *token
	s.refreshByUUID[token.UUID] = &entry
	return nil
}

func (s *MemoryTokenStore) FindRefreshToken(ctx context.Context, uuid string) (*model.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshByUUID[uuid]
	if !ok {
		return nil, model.ErrInvalidToken
	}

	found := *entry
	return &found, nil
}

// RevokeRefreshToken отзывает токен ровно один раз: повторный отзыв
// означает replay и возвращает model.ErrRefreshReuse
func (s *MemoryTokenStore) RevokeRefreshToken(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshByUUID[uuid]
	if !ok {
		return model.ErrInvalidToken
	}
	if entry.Revoked {
		return model.ErrRefreshReuse
	}

	entry.Revoked = true
	return nil
}

func (s *MemoryTokenStore) RevokeAllForUser(ctx context.Context, userUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.refreshByUUID {
		if entry.UserUUID == userUUID {
			entry.Revoked = true
		}
	}
	return nil
}

func (s *MemoryTokenStore) BlacklistAccessToken(ctx context.Context, tokenUUID string, expireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[tokenUUID] = expireAt
	return nil
}

func (s *MemoryTokenStore) IsAccessTokenBlacklisted(ctx context.Context, tokenUUID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expireAt, ok := s.blacklist[tokenUUID]
	if !ok {
		return false, nil
	}
	// просроченная запись блэклиста не действует, её уберет sweep
	return time.Now().Before(expireAt), nil
}

// StartSweeper запускает периодическую чистку просроченных записей,
// ограничивая рост памяти. Останавливается по отмене контекста
func (s *MemoryTokenStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := s.Sweep(time.Now())
				if removed > 0 {
					log.Printf("sweep: удалено %d просроченных записей", removed)
				}
			}
		}
	}()
}

func (s *MemoryTokenStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for uuid, entry := range s.refreshByUUID {
		if now.After(entry.ExpireAt) {
			delete(s.refreshByUUID, uuid)
			removed++
		}
	}
	for uuid, expireAt := range s.blacklist {
		if now.After(expireAt) {
			delete(s.blacklist, uuid)
			removed++
		}
	}
	return removed
}
