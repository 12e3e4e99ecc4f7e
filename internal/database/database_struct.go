package database

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrActiveCallExists  = errors.New("active call already exists for scope")
	ErrVersionConflict   = errors.New("call was modified concurrently")
	ErrInvalidCallUpdate = errors.New("call has no id")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// notFound переводит ошибку gorm в ErrNotFound пакета
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
