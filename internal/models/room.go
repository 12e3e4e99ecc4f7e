package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Community "сервер" в терминах клиента
type Community struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`

	// Связи
	Members  []User    `gorm:"many2many:community_members" json:"-"`
	Channels []Channel `gorm:"foreignKey:CommunityID" json:"channels,omitempty"`
}

func (c *Community) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
)

type Channel struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	CommunityID uuid.UUID   `gorm:"type:uuid;not null;index" json:"community_id"`
	Name        string      `gorm:"not null" json:"name"`
	Type        ChannelType `gorm:"not null;check:type IN ('text','voice')" json:"type"`
	IsPrivate   bool        `json:"is_private"`
	UserLimit   int         `json:"user_limit"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (c *Channel) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation личная переписка или групповой DM
type Conversation struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Type      ConversationType `gorm:"not null;check:type IN ('direct','group')" json:"type"`
	Name      string           `json:"name,omitempty"`
	CreatedBy uuid.UUID        `gorm:"type:uuid" json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`

	// Связи
	Members []User `gorm:"many2many:conversation_members" json:"members,omitempty"`
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
