package websocket

import (
	"encoding/json"
	"time"
)

// EventType определяет типы событий
type EventType string

// Входящие события (клиент -> сервер)
const (
	EventPing EventType = "ping"

	EventJoinCommunity  EventType = "joinCommunity"
	EventLeaveCommunity EventType = "leaveCommunity"
	EventJoinChannel    EventType = "joinChannel"
	EventLeaveChannel   EventType = "leaveChannel"

	EventJoinVoiceChannel      EventType = "joinVoiceChannel"
	EventLeaveVoiceChannel     EventType = "leaveVoiceChannel"
	EventUpdateVoiceState      EventType = "updateVoiceState"
	EventUpdateVoiceConnection EventType = "updateVoiceConnection"

	EventStartDmCall EventType = "startDmCall"
	EventJoinDmCall  EventType = "joinDmCall"
	EventLeaveDmCall EventType = "leaveDmCall"

	EventRtcOffer        EventType = "rtcOffer"
	EventRtcAnswer       EventType = "rtcAnswer"
	EventRtcIceCandidate EventType = "rtcIceCandidate"

	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stopTyping"

	EventStatusUpdate       EventType = "statusUpdate"
	EventCustomStatusUpdate EventType = "customStatusUpdate"
	EventPresenceUpdate     EventType = "presenceUpdate"
)

// Исходящие события (сервер -> клиент)
const (
	EventConnected EventType = "connected"
	EventPong      EventType = "pong"
	EventError     EventType = "error"

	EventVoiceStateUpdate EventType = "voiceStateUpdate"
	EventUserJoinedVoice  EventType = "userJoinedVoice"
	EventUserLeftVoice    EventType = "userLeftVoice"

	EventDmCallStarted    EventType = "dmCallStarted"
	EventUserJoinedDmCall EventType = "userJoinedDmCall"
	EventUserLeftDmCall   EventType = "userLeftDmCall"
	EventDmCallEnded      EventType = "dmCallEnded"

	EventFriendStatusUpdate   EventType = "friendStatusUpdate"
	EventMemberStatusUpdate   EventType = "memberStatusUpdate"
	EventFriendPresenceUpdate EventType = "friendPresenceUpdate"

	EventDmTyping     EventType = "dmTyping"
	EventDmStopTyping EventType = "dmStopTyping"
)

// Message конверт любого события в обе стороны
type Message struct {
	Type      EventType       `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode собирает конверт с уже сериализованными данными
func Encode(event EventType, data interface{}) ([]byte, error) {
	msg := Message{
		Type:      event,
		Timestamp: time.Now(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}

	return json.Marshal(msg)
}

// ErrorPayload тело события error
type ErrorPayload struct {
	Message string `json:"message"`
}
