package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	"gorm.io/gorm"
)

func (d *Database) CreateCommunity(ctx context.Context, community *models.Community) error {
	return d.db.WithContext(ctx).Create(community).Error
}

func (d *Database) CreateChannel(ctx context.Context, channel *models.Channel) error {
	return d.db.WithContext(ctx).Create(channel).Error
}

func (d *Database) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	var channel models.Channel
	if err := d.db.WithContext(ctx).First(&channel, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &channel, nil
}

func (d *Database) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	var community models.Community
	if err := d.db.WithContext(ctx).First(&community, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &community, nil
}

// GetUserCommunities получает сообщества пользователя вместе с каналами
func (d *Database) GetUserCommunities(ctx context.Context, userID uuid.UUID) ([]models.Community, error) {
	var communities []models.Community
	err := d.db.WithContext(ctx).
		Joins("JOIN community_members cm ON cm.community_id = communities.id").
		Where("cm.user_id = ?", userID).
		Preload("Channels").
		Find(&communities).Error
	if err != nil {
		return nil, err
	}
	return communities, nil
}

func (d *Database) AddUserToCommunity(ctx context.Context, userID, communityID uuid.UUID) error {
	community, err := d.GetCommunity(ctx, communityID)
	if err != nil {
		return err
	}
	user, err := d.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Model(community).Association("Members").Append(user)
}

func (d *Database) IsCommunityMember(ctx context.Context, userID, communityID uuid.UUID) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Table("community_members").
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetCommunityMemberIDs возвращает участников всех сообществ пользователя (с повторами)
func (d *Database) GetCommunityMemberIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.db.WithContext(ctx).Table("community_members AS other").
		Joins("JOIN community_members mine ON mine.community_id = other.community_id").
		Where("mine.user_id = ?", userID).
		Pluck("other.user_id", &ids).Error
	return ids, err
}

// CanViewChannel упрощённая проверка доступа, участник сообщества видит
// публичные каналы, приватные только владелец.
func (d *Database) CanViewChannel(ctx context.Context, userID uuid.UUID, channel *models.Channel) (bool, error) {
	isMember, err := d.IsCommunityMember(ctx, userID, channel.CommunityID)
	if err != nil || !isMember {
		return false, err
	}
	if !channel.IsPrivate {
		return true, nil
	}
	community, err := d.GetCommunity(ctx, channel.CommunityID)
	if err != nil {
		return false, err
	}
	return community.OwnerID == userID, nil
}

func (d *Database) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := d.db.WithContext(ctx).Preload("Members").First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (d *Database) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := d.db.WithContext(ctx).
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id").
		Where("cm.user_id = ?", userID).
		Preload("Members").
		Find(&convs).Error
	return convs, err
}

func (d *Database) IsConversationMember(ctx context.Context, userID, conversationID uuid.UUID) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Table("conversation_members").
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) CreateConversation(ctx context.Context, conv *models.Conversation, memberIDs ...uuid.UUID) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, id := range memberIDs {
			var user models.User
			if err := tx.First(&user, "id = ?", id).Error; err != nil {
				return err
			}
			if err := tx.Model(conv).Association("Members").Append(&user); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOrCreateDirectConversation находит или создаёт личную переписку двух пользователей
func (d *Database) GetOrCreateDirectConversation(ctx context.Context, user1ID, user2ID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation

	err := d.db.WithContext(ctx).
		Joins("JOIN conversation_members cm1 ON cm1.conversation_id = conversations.id").
		Joins("JOIN conversation_members cm2 ON cm2.conversation_id = conversations.id").
		Where("conversations.type = ? AND cm1.user_id = ? AND cm2.user_id = ?", models.ConversationDirect, user1ID, user2ID).
		First(&conv).Error

	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = models.Conversation{
		Type:      models.ConversationDirect,
		CreatedBy: user1ID,
	}
	if err := d.CreateConversation(ctx, &conv, user1ID, user2ID); err != nil {
		return nil, err
	}
	return &conv, nil
}
