package store

import (
	"context"
	"errors"

	"github.com/thereayou/wizard-rooms/internal/models"
)

var (
	// ErrRoomNotFound - записи комнаты нет в хранилище
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserNotFound - для пользователя не записана последняя комната
	ErrUserNotFound = errors.New("user not found")
	// ErrStorageUnavailable - внешний бэкенд недоступен
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RoomStore хранит комнаты по коду. Транзакций между полями нет:
// одновременные read-modify-write от разных процессов - last writer wins.
type RoomStore interface {
	Get(ctx context.Context, code string) (*models.Room, error)
	Put(ctx context.Context, room *models.Room) error
	Delete(ctx context.Context, code string) error

	// SetUserRoom запоминает комнату, в которую пользователь заходил последней
	SetUserRoom(ctx context.Context, userID, code string) error
	UserRoom(ctx context.Context, userID string) (string, error)
	DeleteUser(ctx context.Context, userID string) error
}
