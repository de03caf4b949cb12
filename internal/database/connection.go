package database

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thereayou/wizard-rooms/internal/models"
)

// Connect открывает Postgres и мигрирует таблицы архива
func Connect(dsn string) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.AutoMigrate(&models.ArchivedRoom{}, &models.ArchivedMessage{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}

	return NewDatabase(db), nil
}
