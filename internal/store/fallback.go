package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/models"
)

// FallbackStore пишет в основной бэкенд и в зеркало в памяти.
// Если основной бэкенд недоступен, запросы обслуживаются из памяти, а коды
// записанных за время сбоя комнат копятся в pending и дописываются в основной
// бэкенд при первой успешной операции.
type FallbackStore struct {
	primary  RoomStore
	memory   *MemoryStore
	degraded atomic.Bool
	log      *logrus.Entry

	mu           sync.Mutex
	pendingRooms map[string]struct{}
	pendingUsers map[string]struct{}

	// OnFallback вызывается при каждом переключении запроса на память
	OnFallback func(op string)
}

func NewFallbackStore(primary RoomStore, log *logrus.Logger) *FallbackStore {
	return &FallbackStore{
		primary:      primary,
		memory:       NewMemoryStore(),
		log:          log.WithField("component", "store"),
		pendingRooms: make(map[string]struct{}),
		pendingUsers: make(map[string]struct{}),
	}
}

// Degraded сообщает, была ли последняя операция с основным бэкендом неудачной
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

// Pending возвращает число комнат, ждущих записи в основной бэкенд
func (s *FallbackStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingRooms)
}

func (s *FallbackStore) fail(op string, err error) {
	if !s.degraded.Swap(true) {
		s.log.WithError(fmt.Errorf("%w: %v", ErrStorageUnavailable, err)).WithField("op", op).Warn("primary store unavailable, falling back to memory")
	}
	if s.OnFallback != nil {
		s.OnFallback(op)
	}
}

func (s *FallbackStore) ok(ctx context.Context) {
	if s.degraded.Swap(false) {
		s.log.Info("primary store recovered")
	}
	if err := s.flush(ctx); err != nil {
		s.log.WithError(err).Warn("outage writes not restored yet")
	}
}

func (s *FallbackStore) markRoom(code string) {
	s.mu.Lock()
	s.pendingRooms[models.NormalizeCode(code)] = struct{}{}
	s.mu.Unlock()
}

func (s *FallbackStore) markUser(userID string) {
	s.mu.Lock()
	s.pendingUsers[userID] = struct{}{}
	s.mu.Unlock()
}

func (s *FallbackStore) roomPending(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingRooms[models.NormalizeCode(code)]
	return ok
}

func (s *FallbackStore) userPending(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingUsers[userID]
	return ok
}

func (s *FallbackStore) pendingSnapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.pendingRooms))
	for code := range s.pendingRooms {
		rooms = append(rooms, code)
	}
	users := make([]string, 0, len(s.pendingUsers))
	for id := range s.pendingUsers {
		users = append(users, id)
	}
	return rooms, users
}

// flush переносит в основной бэкенд состояние из памяти для всего,
// что менялось во время сбоя. Неудачные записи остаются в pending.
func (s *FallbackStore) flush(ctx context.Context) error {
	rooms, users := s.pendingSnapshot()
	if len(rooms) == 0 && len(users) == 0 {
		return nil
	}

	for _, code := range rooms {
		var err error
		if room, getErr := s.memory.Get(ctx, code); getErr == nil {
			err = s.primary.Put(ctx, room)
		} else {
			err = s.primary.Delete(ctx, code)
		}
		if err != nil {
			return fmt.Errorf("write back room %s: %w", code, err)
		}
		s.mu.Lock()
		delete(s.pendingRooms, code)
		s.mu.Unlock()
	}

	for _, id := range users {
		var err error
		if code, getErr := s.memory.UserRoom(ctx, id); getErr == nil {
			err = s.primary.SetUserRoom(ctx, id, code)
		} else {
			err = s.primary.DeleteUser(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("write back user %s: %w", id, err)
		}
		s.mu.Lock()
		delete(s.pendingUsers, id)
		s.mu.Unlock()
	}

	s.log.WithFields(logrus.Fields{"rooms": len(rooms), "users": len(users)}).Info("outage writes restored to primary store")
	return nil
}

func isMiss(err error) bool {
	return errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrUserNotFound)
}

func (s *FallbackStore) Get(ctx context.Context, code string) (*models.Room, error) {
	if s.roomPending(code) {
		if err := s.flush(ctx); err != nil {
			s.fail("get", err)
			return s.memory.Get(ctx, code)
		}
	}

	room, err := s.primary.Get(ctx, code)
	if err == nil {
		s.ok(ctx)
		_ = s.memory.Put(ctx, room)
		return room, nil
	}
	if isMiss(err) {
		// истек TTL в основном бэкенде: зеркало тоже забывает комнату
		_ = s.memory.Delete(ctx, code)
		s.ok(ctx)
		return nil, err
	}
	s.fail("get", err)
	return s.memory.Get(ctx, code)
}

func (s *FallbackStore) Put(ctx context.Context, room *models.Room) error {
	_ = s.memory.Put(ctx, room)
	if err := s.primary.Put(ctx, room); err != nil {
		s.markRoom(room.Code)
		s.fail("put", err)
		return nil
	}
	s.mu.Lock()
	delete(s.pendingRooms, models.NormalizeCode(room.Code))
	s.mu.Unlock()
	s.ok(ctx)
	return nil
}

func (s *FallbackStore) Delete(ctx context.Context, code string) error {
	_ = s.memory.Delete(ctx, code)
	if err := s.primary.Delete(ctx, code); err != nil {
		s.markRoom(code)
		s.fail("delete", err)
		return nil
	}
	s.mu.Lock()
	delete(s.pendingRooms, models.NormalizeCode(code))
	s.mu.Unlock()
	s.ok(ctx)
	return nil
}

func (s *FallbackStore) SetUserRoom(ctx context.Context, userID, code string) error {
	_ = s.memory.SetUserRoom(ctx, userID, code)
	if err := s.primary.SetUserRoom(ctx, userID, code); err != nil {
		s.markUser(userID)
		s.fail("set_user", err)
		return nil
	}
	s.mu.Lock()
	delete(s.pendingUsers, userID)
	s.mu.Unlock()
	s.ok(ctx)
	return nil
}

func (s *FallbackStore) UserRoom(ctx context.Context, userID string) (string, error) {
	if s.userPending(userID) {
		if err := s.flush(ctx); err != nil {
			s.fail("user_room", err)
			return s.memory.UserRoom(ctx, userID)
		}
	}

	code, err := s.primary.UserRoom(ctx, userID)
	if err == nil {
		s.ok(ctx)
		_ = s.memory.SetUserRoom(ctx, userID, code)
		return code, nil
	}
	if isMiss(err) {
		_ = s.memory.DeleteUser(ctx, userID)
		s.ok(ctx)
		return "", err
	}
	s.fail("user_room", err)
	return s.memory.UserRoom(ctx, userID)
}

func (s *FallbackStore) DeleteUser(ctx context.Context, userID string) error {
	_ = s.memory.DeleteUser(ctx, userID)
	if err := s.primary.DeleteUser(ctx, userID); err != nil {
		s.markUser(userID)
		s.fail("delete_user", err)
		return nil
	}
	s.mu.Lock()
	delete(s.pendingUsers, userID)
	s.mu.Unlock()
	s.ok(ctx)
	return nil
}
