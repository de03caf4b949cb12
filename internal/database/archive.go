package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thereayou/wizard-rooms/internal/models"
)

const maxArchivesPerPage = 20

// ArchiveRoom сохраняет чат удаленной комнаты одной транзакцией
func (d *Database) ArchiveRoom(ctx context.Context, room *models.Room, closedAt time.Time) error {
	archived := newArchivedRoom(room, closedAt)
	return d.db.WithContext(ctx).Create(archived).Error
}

// ListArchives возвращает последние архивы комнаты вместе с сообщениями
func (d *Database) ListArchives(ctx context.Context, code string, limit int) ([]models.ArchivedRoom, error) {
	if limit <= 0 || limit > maxArchivesPerPage {
		limit = maxArchivesPerPage
	}

	var rooms []models.ArchivedRoom
	err := d.db.WithContext(ctx).
		Where("code = ?", models.NormalizeCode(code)).
		Order("closed_at DESC").
		Limit(limit).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func newArchivedRoom(room *models.Room, closedAt time.Time) *models.ArchivedRoom {
	archived := &models.ArchivedRoom{
		ID:             uuid.New(),
		Code:           room.Code,
		HostID:         room.HostID,
		CreatedAt:      room.CreatedAt,
		ClosedAt:       closedAt,
		DrawEventCount: len(room.DrawEvents),
		PasswordHash:   room.PasswordHash,
		Messages:       make([]models.ArchivedMessage, 0, len(room.ChatMessages)),
	}
	for _, m := range room.ChatMessages {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			id = uuid.New()
		}
		archived.Messages = append(archived.Messages, models.ArchivedMessage{
			ID:             id,
			ArchivedRoomID: archived.ID,
			UserID:         m.UserID,
			UserName:       m.UserName,
			Content:        m.Message,
			CreatedAt:      m.Timestamp,
		})
	}
	return archived
}
