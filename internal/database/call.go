package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindActiveCall возвращает активный звонок по ключу канала/переписки или ErrNotFound
func (d *Database) FindActiveCall(ctx context.Context, scopeKey string) (*models.Call, error) {
	var call models.Call
	err := d.db.WithContext(ctx).
		Where("scope_key = ? AND status = ?", scopeKey, models.CallActive).
		First(&call).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &call, nil
}

func (d *Database) GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	var call models.Call
	if err := d.db.WithContext(ctx).First(&call, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &call, nil
}

// CreateCall вставляет новый звонок. Если для ключа уже есть активный
// звонок, уникальный индекс отклоняет вставку и возвращается ErrActiveCallExists.
func (d *Database) CreateCall(ctx context.Context, call *models.Call) error {
	if call.Version == 0 {
		call.Version = 1
	}
	err := d.db.WithContext(ctx).Create(call).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveCallExists
	}
	return err
}

// UpdateCall сохраняет звонок при условии, что версия в базе не менялась
// с момента чтения. При успехе call.Version увеличивается.
func (d *Database) UpdateCall(ctx context.Context, call *models.Call) error {
	if call.ID == uuid.Nil {
		return ErrInvalidCallUpdate
	}

	prev := call.Version
	call.Version = prev + 1

	res := d.db.WithContext(ctx).
		Model(call).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(call)
	if res.Error != nil {
		call.Version = prev
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrActiveCallExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		call.Version = prev
		return ErrVersionConflict
	}
	return nil
}

func (d *Database) GetVoiceState(ctx context.Context, userID uuid.UUID) (*models.VoiceState, error) {
	var vs models.VoiceState
	if err := d.db.WithContext(ctx).First(&vs, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &vs, nil
}

func (d *Database) UpsertVoiceState(ctx context.Context, vs *models.VoiceState) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(vs).Error
}
