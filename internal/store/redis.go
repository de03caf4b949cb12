package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/thereayou/wizard-rooms/internal/models"
)

// RedisStore хранит комнаты как JSON под ключом room:<code>,
// а последнюю комнату пользователя - под user:<id>.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil for RedisStore")
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) roomKey(code string) string {
	return s.keyPrefix + "room:" + models.NormalizeCode(code)
}

func (s *RedisStore) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID
}

func (s *RedisStore) Get(ctx context.Context, code string) (*models.Room, error) {
	raw, err := s.client.Get(ctx, s.roomKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("redis: get room %s: %w", code, err)
	}

	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("redis: decode room %s: %w", code, err)
	}
	return &room, nil
}

func (s *RedisStore) Put(ctx context.Context, room *models.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: encode room %s: %w", room.Code, err)
	}
	if err := s.client.Set(ctx, s.roomKey(room.Code), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put room %s: %w", room.Code, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.roomKey(code)).Err(); err != nil {
		return fmt.Errorf("redis: delete room %s: %w", code, err)
	}
	return nil
}

func (s *RedisStore) SetUserRoom(ctx context.Context, userID, code string) error {
	if err := s.client.Set(ctx, s.userKey(userID), models.NormalizeCode(code), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set user %s room: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) UserRoom(ctx context.Context, userID string) (string, error) {
	code, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("redis: get user %s room: %w", userID, err)
	}
	return code, nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: delete user %s: %w", userID, err)
	}
	return nil
}
