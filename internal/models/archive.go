package models

import (
	"time"

	"github.com/google/uuid"
)

type ArchivedRoom struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code           string    `gorm:"index;not null" json:"code"`
	HostID         string    `json:"hostId"`
	CreatedAt      time.Time `json:"createdAt"`
	ClosedAt       time.Time `gorm:"index" json:"closedAt"`
	DrawEventCount int       `json:"drawEventCount"`
	PasswordHash   string    `json:"-"`

	// Связи
	Messages []ArchivedMessage `gorm:"foreignKey:ArchivedRoomID" json:"messages"`
}

type ArchivedMessage struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ArchivedRoomID uuid.UUID `gorm:"type:uuid;index;not null" json:"-"`
	UserID         string    `gorm:"not null" json:"userId"`
	UserName       string    `json:"userName"`
	Content        string    `gorm:"not null" json:"message"`
	CreatedAt      time.Time `json:"timestamp"`
}
