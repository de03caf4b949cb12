package store

import (
	"context"
	"sync"

	"github.com/thereayou/wizard-rooms/internal/models"
)

type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
	users map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*models.Room),
		users: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[models.NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[models.NormalizeCode(room.Code)] = room.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, models.NormalizeCode(code))
	return nil
}

func (s *MemoryStore) SetUserRoom(_ context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = models.NormalizeCode(code)
	return nil
}

func (s *MemoryStore) UserRoom(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return code, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}

// Len возвращает число комнат (для метрик и тестов)
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
