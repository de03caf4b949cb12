package services

import (
	"context"
	"time"

	"github.com/thereayou/wizard-rooms/internal/models"
)

// Archiver сохраняет стенограмму комнаты после ее удаления
type Archiver interface {
	ArchiveRoom(ctx context.Context, room *models.Room, closedAt time.Time) error
}
