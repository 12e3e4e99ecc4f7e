package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
)

var validate = validator.New()

var ErrInvalidPayload = errors.New("invalid payload")

// Decode разбирает data события и проверяет теги validate
func Decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Входящие события

type CommunityPayload struct {
	CommunityID uuid.UUID `json:"communityId" validate:"required"`
}

type ChannelPayload struct {
	ChannelID uuid.UUID `json:"channelId" validate:"required"`
}

type JoinVoiceChannelPayload struct {
	ChannelID uuid.UUID `json:"channelId" validate:"required"`
	HasVideo  bool      `json:"hasVideo"`
}

type DmCallPayload struct {
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
	HasVideo       bool      `json:"hasVideo"`
}

type UpdateVoiceStatePayload struct {
	IsMuted         *bool `json:"isMuted"`
	IsDeafened      *bool `json:"isDeafened"`
	IsSelfMuted     *bool `json:"isSelfMuted"`
	IsSelfDeafened  *bool `json:"isSelfDeafened"`
	HasVideo        *bool `json:"hasVideo"`
	IsScreenSharing *bool `json:"isScreenSharing"`
}

type VoiceConnectionPayload struct {
	State models.ConnectionState `json:"state" validate:"required,oneof=connecting connected reconnecting"`
}

// SignalPayload общий вид rtcOffer/rtcAnswer/rtcIceCandidate
type SignalPayload struct {
	TargetUserID uuid.UUID       `json:"targetUserId" validate:"required"`
	RoomToken    string          `json:"roomToken"`
	Offer        json.RawMessage `json:"offer"`
	Answer       json.RawMessage `json:"answer"`
	Candidate    json.RawMessage `json:"candidate"`
}

type TypingPayload struct {
	ChannelID      *uuid.UUID `json:"channelId"`
	ConversationID *uuid.UUID `json:"conversationId"`
	IsDm           bool       `json:"isDm"`
}

type StatusPayload struct {
	Status models.UserStatus `json:"status" validate:"required,oneof=online idle dnd invisible offline"`
}

type CustomStatusPayload struct {
	CustomStatus string `json:"customStatus" validate:"max=128"`
}

type PresencePayload struct {
	Activity json.RawMessage `json:"activity"`
}

// Исходящие события

type ConnectedPayload struct {
	User          *models.User          `json:"user"`
	Communities   []models.Community    `json:"communities"`
	Conversations []models.Conversation `json:"conversations"`
	VoiceState    *models.VoiceState    `json:"voiceState,omitempty"`
	Call          *models.Call          `json:"call,omitempty"`
}

type VoiceStateEvent struct {
	UserID     uuid.UUID          `json:"userId"`
	VoiceState *models.VoiceState `json:"voiceState"`
	Call       *models.Call       `json:"call,omitempty"`
}

type VoiceMemberEvent struct {
	UserID         uuid.UUID               `json:"userId"`
	ChannelID      *uuid.UUID              `json:"channelId,omitempty"`
	ConversationID *uuid.UUID              `json:"conversationId,omitempty"`
	CallID         uuid.UUID               `json:"callId"`
	Participant    *models.CallParticipant `json:"participant,omitempty"`
	ConnectedUsers []uuid.UUID             `json:"connectedUsers"`
}

type DmCallEvent struct {
	ConversationID uuid.UUID    `json:"conversationId"`
	Call           *models.Call `json:"call"`
	UserID         uuid.UUID    `json:"userId"`
}

type TypingEvent struct {
	UserID         uuid.UUID  `json:"userId"`
	ChannelID      *uuid.UUID `json:"channelId,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}
