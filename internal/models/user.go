package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserStatus string

const (
	StatusOnline    UserStatus = "online"
	StatusIdle      UserStatus = "idle"
	StatusDND       UserStatus = "dnd"
	StatusInvisible UserStatus = "invisible"
	StatusOffline   UserStatus = "offline"
)

// Valid проверяет, что статус входит в допустимый набор
func (s UserStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible, StatusOffline:
		return true
	}
	return false
}

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null" json:"-"`
	PasswordHash string     `gorm:"not null" json:"-"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Status       UserStatus `gorm:"default:'offline'" json:"status"`
	CustomStatus string     `json:"custom_status,omitempty"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship хранится одной строкой на пару, направление задаёт RequesterID
type Friendship struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey"`
	RequesterID uuid.UUID        `gorm:"type:uuid;not null;index"`
	AddresseeID uuid.UUID        `gorm:"type:uuid;not null;index"`
	Status      FriendshipStatus `gorm:"not null"`
	CreatedAt   time.Time
}

func (f *Friendship) BeforeCreate(*gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
