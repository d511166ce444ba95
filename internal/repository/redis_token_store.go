package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"realtime-chat-server/config"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/util"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore : реестр refresh-токенов и блэклист в Redis.
// Вариант для нескольких процессов: отзыв становится виден всем инстансам.
// TTL ключей повторяет срок жизни токена, поэтому отдельный sweep не нужен
type RedisTokenStore struct {
	client *config.RedisClient
}

func NewRedisTokenStore(rdb *config.RedisClient) *RedisTokenStore {
	return &RedisTokenStore{client: rdb}
}

func (s *RedisTokenStore) SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return util.LogError("ошибка сериализации refresh-токена", err)
	}

	ttl := time.Until(token.ExpireAt)
	if ttl <= 0 {
		return model.ErrTokenExpired
	}

	cmd := s.client.Client.Set(ctx, s.refreshKey(token.UUID), data, ttl)
	if err = cmd.Err(); err != nil {
		return util.LogError("ошибка сохранения refresh-токена в Redis", err)
	}

	if err := s.client.Client.SAdd(ctx, s.userKey(token.UserUUID), token.UUID).Err(); err != nil {
		return util.LogError("ошибка обновления списка токенов пользователя", err)
	}
	// список токенов пользователя живет не дольше самого длинного refresh
	if err := s.client.Client.Expire(ctx, s.userKey(token.UserUUID), ttl).Err(); err != nil {
		return util.LogError("ошибка установки TTL списка токенов", err)
	}

	return nil
}

func (s *RedisTokenStore) FindRefreshToken(ctx context.Context, uuid string) (*model.RefreshToken, error) {
	val, err := s.client.Client.Get(ctx, s.refreshKey(uuid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrInvalidToken
	} else if err != nil {
		return nil, util.LogError("ошибка получения refresh-токена из Redis", err)
	}

	var token model.RefreshToken
	if err := json.Unmarshal([]byte(val), &token); err != nil {
		return nil, util.LogError("ошибка десериализации refresh-токена", err)
	}

	revoked, err := s.client.Client.Exists(ctx, s.revokedKey(uuid)).Result()
	if err != nil {
		return nil, util.LogError("ошибка проверки отзыва токена", err)
	}
	token.Revoked = revoked > 0

	return &token, nil
}

// RevokeRefreshToken помечает токен отозванным атомарно через SETNX:
// второй отзыв того же токена - replay, model.ErrRefreshReuse
func (s *RedisTokenStore) RevokeRefreshToken(ctx context.Context, uuid string) error {
	token, err := s.FindRefreshToken(ctx, uuid)
	if err != nil {
		return err
	}

	ttl := time.Until(token.ExpireAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	set, err := s.client.Client.SetNX(ctx, s.revokedKey(uuid), 1, ttl).Result()
	if err != nil {
		return util.LogError("ошибка отзыва refresh-токена", err)
	}
	if !set {
		return model.ErrRefreshReuse
	}

	return nil
}

func (s *RedisTokenStore) RevokeAllForUser(ctx context.Context, userUUID string) error {
	uuids, err := s.client.Client.SMembers(ctx, s.userKey(userUUID)).Result()
	if err != nil {
		return util.LogError("ошибка получения токенов пользователя", err)
	}

	for _, uuid := range uuids {
		if err := s.RevokeRefreshToken(ctx, uuid); err != nil {
			// уже отозванные и просроченные записи пропускаем
			if errors.Is(err, model.ErrRefreshReuse) || errors.Is(err, model.ErrInvalidToken) {
				continue
			}
			return err
		}
	}

	return nil
}

func (s *RedisTokenStore) BlacklistAccessToken(ctx context.Context, tokenUUID string, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		// токен уже просрочен, блэклист не нужен
		return nil
	}

	if err := s.client.Client.Set(ctx, s.blacklistKey(tokenUUID), 1, ttl).Err(); err != nil {
		return util.LogError("ошибка добавления в блэклист", err)
	}
	return nil
}

func (s *RedisTokenStore) IsAccessTokenBlacklisted(ctx context.Context, tokenUUID string) (bool, error) {
	exists, err := s.client.Client.Exists(ctx, s.blacklistKey(tokenUUID)).Result()
	if err != nil {
		return false, util.LogError("ошибка проверки блэклиста", err)
	}
	return exists > 0, nil
}

func (s *RedisTokenStore) refreshKey(uuid string) string {
	return fmt.Sprintf("refresh:%s", uuid)
}

func (s *RedisTokenStore) revokedKey(uuid string) string {
	return fmt.Sprintf("refresh:revoked:%s", uuid)
}

func (s *RedisTokenStore) userKey(userUUID string) string {
	return fmt.Sprintf("refresh:user:%s", userUUID)
}

func (s *RedisTokenStore) blacklistKey(tokenUUID string) string {
	return fmt.Sprintf("blacklist:%s", tokenUUID)
}
