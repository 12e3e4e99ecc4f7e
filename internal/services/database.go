package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	ws "github.com/thereayou/voxus/internal/websocket"
)

// MembershipStore читает членство пользователя в сообществах и переписках
type MembershipStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserCommunities(ctx context.Context, userID uuid.UUID) ([]models.Community, error)
	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	IsCommunityMember(ctx context.Context, userID, communityID uuid.UUID) (bool, error)
	IsConversationMember(ctx context.Context, userID, conversationID uuid.UUID) (bool, error)
}

// PermissionChecker внешняя проверка прав доступа к каналу
type PermissionChecker interface {
	CanViewChannel(ctx context.Context, userID uuid.UUID, channel *models.Channel) (bool, error)
}

// PresenceStore сохраняет статус и отдаёт аудиторию рассылки
type PresenceStore interface {
	UpdateUserStatus(ctx context.Context, id uuid.UUID, status models.UserStatus, customStatus string) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetAcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GetCommunityMemberIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// CallStore хранит звонки и голосовые состояния
type CallStore interface {
	FindActiveCall(ctx context.Context, scopeKey string) (*models.Call, error)
	GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error)
	CreateCall(ctx context.Context, call *models.Call) error
	UpdateCall(ctx context.Context, call *models.Call) error
	GetVoiceState(ctx context.Context, userID uuid.UUID) (*models.VoiceState, error)
	UpsertVoiceState(ctx context.Context, vs *models.VoiceState) error
}

// Emitter транспорт рассылки, реализуется websocket.Hub
type Emitter interface {
	EmitToRoom(room ws.Room, event ws.EventType, data interface{}, exclude uuid.UUID)
	SendToUser(userID uuid.UUID, event ws.EventType, data interface{}) bool
}
