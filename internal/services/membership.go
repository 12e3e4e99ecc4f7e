package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/models"
	ws "github.com/thereayou/voxus/internal/websocket"
)

// Snapshot членство пользователя на момент подключения
type Snapshot struct {
	User          *models.User
	Communities   []models.Community
	Conversations []models.Conversation
	Rooms         []ws.Room
}

// MembershipService вычисляет комнаты соединения и проверяет запросы на вход.
// Подписки не перепроверяются после входа: отозванное право не отписывает.
type MembershipService struct {
	store MembershipStore
	perms PermissionChecker
	log   zerolog.Logger
}

func NewMembershipService(store MembershipStore, perms PermissionChecker, logger zerolog.Logger) *MembershipService {
	return &MembershipService{
		store: store,
		perms: perms,
		log:   logger.With().Str("module", "services.membership").Logger(),
	}
}

// RoomsFor собирает полный набор комнат: личная, сообщества, видимые каналы, переписки
func (s *MembershipService) RoomsFor(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	communities, err := s.store.GetUserCommunities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load communities: %w", err)
	}
	conversations, err := s.store.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	rooms := []ws.Room{ws.UserRoom(userID)}
	for _, community := range communities {
		rooms = append(rooms, ws.CommunityRoom(community.ID))
		for i := range community.Channels {
			channel := &community.Channels[i]
			ok, err := s.perms.CanViewChannel(ctx, userID, channel)
			if err != nil {
				s.log.Warn().Err(err).
					Str("user_id", userID.String()).
					Str("channel_id", channel.ID.String()).
					Msg("permission check failed, skipping channel")
				continue
			}
			if ok {
				rooms = append(rooms, ws.ChannelRoom(channel.ID))
			}
		}
	}
	for _, conv := range conversations {
		rooms = append(rooms, ws.ConversationRoom(conv.ID))
	}

	return &Snapshot{
		User:          user,
		Communities:   communities,
		Conversations: conversations,
		Rooms:         rooms,
	}, nil
}

func (s *MembershipService) AuthorizeCommunity(ctx context.Context, userID, communityID uuid.UUID) (ws.Room, error) {
	if _, err := s.store.GetCommunity(ctx, communityID); err != nil {
		return "", storeErr(err)
	}
	ok, err := s.store.IsCommunityMember(ctx, userID, communityID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrForbidden
	}
	return ws.CommunityRoom(communityID), nil
}

// AuthorizeChannel проверяет членство в сообществе канала и право его видеть
func (s *MembershipService) AuthorizeChannel(ctx context.Context, userID, channelID uuid.UUID) (*models.Channel, ws.Room, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, "", storeErr(err)
	}
	isMember, err := s.store.IsCommunityMember(ctx, userID, channel.CommunityID)
	if err != nil {
		return nil, "", err
	}
	if !isMember {
		return nil, "", ErrForbidden
	}
	ok, err := s.perms.CanViewChannel(ctx, userID, channel)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrForbidden
	}
	return channel, ws.ChannelRoom(channelID), nil
}

func (s *MembershipService) AuthorizeConversation(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, ws.Room, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", storeErr(err)
	}
	ok, err := s.store.IsConversationMember(ctx, userID, conversationID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrForbidden
	}
	return conv, ws.ConversationRoom(conversationID), nil
}

func (s *MembershipService) Channel(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, storeErr(err)
	}
	return channel, nil
}

// storeErr переводит ErrNotFound хранилища в ошибку сервиса
func storeErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
