package websocket

import (
	"strings"

	"github.com/google/uuid"
)

// Room имя группы рассылки, вычисляется из членства и нигде не хранится
type Room string

const (
	userRoomPrefix         = "user:"
	communityRoomPrefix    = "community:"
	channelRoomPrefix      = "channel:"
	conversationRoomPrefix = "conversation:"
)

func UserRoom(id uuid.UUID) Room {
	return Room(userRoomPrefix + id.String())
}

func CommunityRoom(id uuid.UUID) Room {
	return Room(communityRoomPrefix + id.String())
}

func ChannelRoom(id uuid.UUID) Room {
	return Room(channelRoomPrefix + id.String())
}

func ConversationRoom(id uuid.UUID) Room {
	return Room(conversationRoomPrefix + id.String())
}

// IsPersonal личная комната пользователя
func (r Room) IsPersonal() bool {
	return strings.HasPrefix(string(r), userRoomPrefix)
}
