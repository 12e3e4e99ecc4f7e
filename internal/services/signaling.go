package services

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "github.com/thereayou/voxus/internal/websocket"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "iceCandidate"
)

// SignalMessage пересылаемое сообщение; полезная нагрузка не разбирается
type SignalMessage struct {
	FromUserID uuid.UUID       `json:"fromUserId"`
	RoomToken  string          `json:"roomToken,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// SignalingRelay пересылает offer/answer/candidate на соединения получателя,
// адресуемые реестром. Состояние не меняет; недоступный адресат отбрасывается,
// пиры повторят сами.
type SignalingRelay struct {
	emitter Emitter
	log     zerolog.Logger
}

func NewSignalingRelay(emitter Emitter, logger zerolog.Logger) *SignalingRelay {
	return &SignalingRelay{
		emitter: emitter,
		log:     logger.With().Str("module", "services.signaling").Logger(),
	}
}

// Relay возвращает true, если сообщение было отправлено
func (r *SignalingRelay) Relay(kind SignalKind, from, to uuid.UUID, roomToken string, payload json.RawMessage) (bool, error) {
	msg := SignalMessage{FromUserID: from, RoomToken: roomToken}

	var event ws.EventType
	switch kind {
	case SignalOffer:
		event = ws.EventRtcOffer
		msg.Offer = payload
	case SignalAnswer:
		event = ws.EventRtcAnswer
		msg.Answer = payload
	case SignalIceCandidate:
		event = ws.EventRtcIceCandidate
		msg.Candidate = payload
	default:
		return false, ErrSignalKind
	}

	if !r.emitter.SendToUser(to, event, msg) {
		r.log.Debug().
			Str("from", from.String()).
			Str("to", to.String()).
			Str("kind", string(kind)).
			Msg("signaling target unreachable, dropped")
		return false, nil
	}
	return true, nil
}
