package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/thereayou/voxus/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// activeCallIndex гарантирует не более одного активного звонка на канал/переписку
const activeCallIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_active_scope ON calls (scope_key) WHERE status = 'active'`

func (d *Database) Connect(dsn string) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	return d.Open(postgres.Open(dsn))
}

// Open открывает соединение через произвольный диалект (в тестах sqlite)
func (d *Database) Open(dialector gorm.Dialector) error {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return err
	}

	d.db = db
	return d.Migrate()
}

func (d *Database) Migrate() error {
	err := d.db.AutoMigrate(
		&models.User{},
		&models.Friendship{},
		&models.Community{},
		&models.Channel{},
		&models.Conversation{},
		&models.Call{},
		&models.VoiceState{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := d.db.Exec(activeCallIndex).Error; err != nil {
		return fmt.Errorf("active call index: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
