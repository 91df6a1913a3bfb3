package db

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errDBUnavailable = errors.New("database unavailable")

func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func Migrate(gdb *gorm.DB) error {
	if gdb == nil {
		return errDBUnavailable
	}
	return gdb.AutoMigrate(
		&RuleModel{},
		&CredentialModel{},
	)
}

func newUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
