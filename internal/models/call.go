package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CallType string

const (
	CallTypeChannel CallType = "channel"
	CallTypeDM      CallType = "dm"
)

type CallStatus string

const (
	CallActive CallStatus = "active"
	CallEnded  CallStatus = "ended"
	CallMissed CallStatus = "missed"
)

type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// MediaState флаги медиа участника, общие для Call и VoiceState
type MediaState struct {
	IsMuted         bool `json:"isMuted"`
	IsDeafened      bool `json:"isDeafened"`
	IsSelfMuted     bool `json:"isSelfMuted"`
	IsSelfDeafened  bool `json:"isSelfDeafened"`
	HasVideo        bool `json:"hasVideo"`
	IsScreenSharing bool `json:"isScreenSharing"`
}

type CallParticipant struct {
	UserID   uuid.UUID       `json:"userId"`
	JoinedAt time.Time       `json:"joinedAt"`
	LeftAt   *time.Time      `json:"leftAt"`
	State    ConnectionState `json:"connectionState"`
	Media    MediaState      `json:"media"`
}

// Active участник без left-at
func (p CallParticipant) Active() bool {
	return p.LeftAt == nil
}

type CallSettings struct {
	MaxParticipants int  `json:"maxParticipants"`
	VideoDefault    bool `json:"videoDefault"`
}

type CallStats struct {
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	DurationMs       int64      `json:"durationMs"`
	PeakParticipants int        `json:"peakParticipants"`
}

// Call голосовая/видео сессия канала или переписки.
// Participants хранится как JSON, запись обновляется целиком с проверкой Version.
type Call struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Type           CallType          `gorm:"not null" json:"type"`
	Status         CallStatus        `gorm:"not null;index" json:"status"`
	ChannelID      *uuid.UUID        `gorm:"type:uuid;index" json:"channelId,omitempty"`
	ConversationID *uuid.UUID        `gorm:"type:uuid;index" json:"conversationId,omitempty"`
	ScopeKey       string            `gorm:"not null;index" json:"-"`
	InitiatorID    uuid.UUID         `gorm:"type:uuid;not null" json:"initiatorId"`
	Participants   []CallParticipant `gorm:"serializer:json" json:"participants"`
	Settings       CallSettings      `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	Stats          CallStats         `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	RoomToken      string            `gorm:"not null" json:"roomToken"`
	Version        int               `gorm:"not null;default:1" json:"-"`
	CreatedAt      time.Time         `json:"-"`
	UpdatedAt      time.Time         `json:"-"`
}

func (c *Call) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ActiveCount количество участников без left-at
func (c *Call) ActiveCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Active() {
			n++
		}
	}
	return n
}

// OpenParticipant возвращает индекс открытой записи участника или -1
func (c *Call) OpenParticipant(userID uuid.UUID) int {
	for i, p := range c.Participants {
		if p.UserID == userID && p.Active() {
			return i
		}
	}
	return -1
}

// Participant возвращает последнюю запись пользователя, открытую или нет
func (c *Call) Participant(userID uuid.UUID) (CallParticipant, bool) {
	for i := len(c.Participants) - 1; i >= 0; i-- {
		if c.Participants[i].UserID == userID {
			return c.Participants[i], true
		}
	}
	return CallParticipant{}, false
}

// ActiveUserIDs список активных участников в порядке входа
func (c *Call) ActiveUserIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Active() {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func (c *Call) Terminal() bool {
	return c.Status == CallEnded || c.Status == CallMissed
}

// CallScope канал или переписка, к которой привязан звонок
type CallScope struct {
	Type CallType
	ID   uuid.UUID
}

func ChannelScope(id uuid.UUID) CallScope {
	return CallScope{Type: CallTypeChannel, ID: id}
}

func ConversationScope(id uuid.UUID) CallScope {
	return CallScope{Type: CallTypeDM, ID: id}
}

func (s CallScope) Key() string {
	if s.Type == CallTypeChannel {
		return fmt.Sprintf("channel:%s", s.ID)
	}
	return fmt.Sprintf("conversation:%s", s.ID)
}

func (c *Call) Scope() CallScope {
	if c.ChannelID != nil {
		return ChannelScope(*c.ChannelID)
	}
	if c.ConversationID != nil {
		return ConversationScope(*c.ConversationID)
	}
	return CallScope{Type: c.Type}
}

// VoiceState зеркало участия пользователя в звонке, одна запись на пользователя.
// Не удаляется, при выходе переводится в disconnected.
type VoiceState struct {
	UserID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"userId"`
	ChannelID      *uuid.UUID      `gorm:"type:uuid;index" json:"channelId,omitempty"`
	ConversationID *uuid.UUID      `gorm:"type:uuid;index" json:"conversationId,omitempty"`
	CallID         *uuid.UUID      `gorm:"type:uuid" json:"callId,omitempty"`
	ConnectionID   string          `json:"-"`
	State          ConnectionState `gorm:"not null" json:"connectionState"`
	Media          MediaState      `gorm:"embedded" json:"media"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// InCall пользователь числится в звонке
func (v *VoiceState) InCall() bool {
	return v != nil && v.CallID != nil && v.State != StateDisconnected
}
