package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thereayou/voxus/internal/handlers/dto"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/services"
	ws "github.com/thereayou/voxus/internal/websocket"
)

var errInternal = errors.New("internal error")

type EventHandlerConfig struct {
	// OpTimeout ограничивает обработку одного события
	OpTimeout time.Duration
	// CleanupTimeout ограничивает очистку после отключения
	CleanupTimeout time.Duration
	// CleanupRetryDelay пауза перед повтором неудачной очистки
	CleanupRetryDelay time.Duration
}

func DefaultEventHandlerConfig() EventHandlerConfig {
	return EventHandlerConfig{
		OpTimeout:         10 * time.Second,
		CleanupTimeout:    15 * time.Second,
		CleanupRetryDelay: 250 * time.Millisecond,
	}
}

// EventHandler обрабатывает события одного соединения по порядку их поступления
type EventHandler struct {
	hub        *ws.Hub
	membership *services.MembershipService
	presence   *services.PresenceService
	calls      *services.CallService
	signaling  *services.SignalingRelay
	cfg        EventHandlerConfig
	log        zerolog.Logger
}

func NewEventHandler(
	hub *ws.Hub,
	membership *services.MembershipService,
	presence *services.PresenceService,
	calls *services.CallService,
	signaling *services.SignalingRelay,
	cfg EventHandlerConfig,
	logger zerolog.Logger,
) *EventHandler {
	return &EventHandler{
		hub:        hub,
		membership: membership,
		presence:   presence,
		calls:      calls,
		signaling:  signaling,
		cfg:        cfg,
		log:        logger.With().Str("module", "handlers.events").Logger(),
	}
}

func (h *EventHandler) HandleMessage(client *ws.Client, msg *ws.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.OpTimeout)
	defer cancel()

	err := h.dispatch(ctx, client, msg)
	if err == nil {
		return nil
	}
	return h.publicError(client, msg.Type, err)
}

func (h *EventHandler) dispatch(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	switch msg.Type {
	case ws.EventPing:
		return client.SendMessage(ws.EventPong, nil)

	case ws.EventJoinCommunity:
		return h.handleJoinCommunity(ctx, client, msg)
	case ws.EventLeaveCommunity:
		return h.handleLeaveCommunity(client, msg)
	case ws.EventJoinChannel:
		return h.handleJoinChannel(ctx, client, msg)
	case ws.EventLeaveChannel:
		return h.handleLeaveChannel(client, msg)

	case ws.EventJoinVoiceChannel:
		return h.handleJoinVoiceChannel(ctx, client, msg)
	case ws.EventLeaveVoiceChannel, ws.EventLeaveDmCall:
		return h.handleLeaveCall(ctx, client)
	case ws.EventUpdateVoiceState:
		return h.handleUpdateVoiceState(ctx, client, msg)
	case ws.EventUpdateVoiceConnection:
		return h.handleUpdateVoiceConnection(ctx, client, msg)

	case ws.EventStartDmCall, ws.EventJoinDmCall:
		return h.handleDmCall(ctx, client, msg)

	case ws.EventRtcOffer:
		return h.handleSignal(client, msg, services.SignalOffer)
	case ws.EventRtcAnswer:
		return h.handleSignal(client, msg, services.SignalAnswer)
	case ws.EventRtcIceCandidate:
		return h.handleSignal(client, msg, services.SignalIceCandidate)

	case ws.EventTyping, ws.EventStopTyping:
		return h.handleTyping(client, msg)

	case ws.EventStatusUpdate:
		return h.handleStatusUpdate(ctx, client, msg)
	case ws.EventCustomStatusUpdate:
		return h.handleCustomStatusUpdate(ctx, client, msg)
	case ws.EventPresenceUpdate:
		return h.handlePresenceUpdate(ctx, client, msg)

	default:
		return ws.ErrUnknownEvent
	}
}

// publicError оставляет клиенту только ожидаемые ошибки, остальное логируется
func (h *EventHandler) publicError(client *ws.Client, event ws.EventType, err error) error {
	known := []error{
		services.ErrNotFound,
		services.ErrForbidden,
		services.ErrCallFull,
		services.ErrNotInCall,
		services.ErrNotVoiceChannel,
		services.ErrInvalidStatus,
		services.ErrCustomStatusLong,
		services.ErrInvalidState,
		services.ErrSignalKind,
		services.ErrConflict,
		ws.ErrUnknownEvent,
		ws.ErrInvalidMessage,
		ws.ErrNotSubscribed,
		dto.ErrInvalidPayload,
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}

	h.log.Error().Err(err).
		Str("conn_id", client.ID.String()).
		Str("user_id", client.UserID.String()).
		Str("event", string(event)).
		Msg("event failed")
	return errInternal
}

func decode(msg *ws.Message, v interface{}) error {
	return dto.Decode(msg.Data, v)
}

func (h *EventHandler) handleJoinCommunity(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.CommunityPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	room, err := h.membership.AuthorizeCommunity(ctx, client.UserID, p.CommunityID)
	if err != nil {
		return err
	}
	h.hub.Subscribe(client, room)
	return nil
}

func (h *EventHandler) handleLeaveCommunity(client *ws.Client, msg *ws.Message) error {
	var p dto.CommunityPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	h.hub.Unsubscribe(client, ws.CommunityRoom(p.CommunityID))
	return nil
}

func (h *EventHandler) handleJoinChannel(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.ChannelPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	_, room, err := h.membership.AuthorizeChannel(ctx, client.UserID, p.ChannelID)
	if err != nil {
		return err
	}
	h.hub.Subscribe(client, room)
	return nil
}

func (h *EventHandler) handleLeaveChannel(client *ws.Client, msg *ws.Message) error {
	var p dto.ChannelPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	h.hub.Unsubscribe(client, ws.ChannelRoom(p.ChannelID))
	return nil
}

func (h *EventHandler) handleJoinVoiceChannel(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.JoinVoiceChannelPayload
	if err := decode(msg, &p); err != nil {
		return err
	}

	channel, room, err := h.membership.AuthorizeChannel(ctx, client.UserID, p.ChannelID)
	if err != nil {
		return err
	}
	if channel.Type != models.ChannelVoice {
		return services.ErrNotVoiceChannel
	}

	res, err := h.calls.Join(ctx, services.JoinRequest{
		UserID:          client.UserID,
		ConnectionID:    client.ID.String(),
		Scope:           models.ChannelScope(channel.ID),
		HasVideo:        p.HasVideo,
		MaxParticipants: channel.UserLimit,
	})
	if res != nil && res.Previous != nil {
		h.announceLeave(ctx, client.UserID, res.Previous)
	}
	if err != nil {
		return err
	}

	h.hub.Subscribe(client, room)
	if !res.AlreadyJoined {
		participant := res.Participant
		h.hub.EmitToRoom(ws.CommunityRoom(channel.CommunityID), ws.EventUserJoinedVoice, dto.VoiceMemberEvent{
			UserID:         client.UserID,
			ChannelID:      res.Call.ChannelID,
			CallID:         res.Call.ID,
			Participant:    &participant,
			ConnectedUsers: res.Call.ActiveUserIDs(),
		}, uuid.Nil)
	}
	return h.replyVoiceState(ctx, client)
}

func (h *EventHandler) handleDmCall(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.DmCallPayload
	if err := decode(msg, &p); err != nil {
		return err
	}

	conv, room, err := h.membership.AuthorizeConversation(ctx, client.UserID, p.ConversationID)
	if err != nil {
		return err
	}

	res, err := h.calls.Join(ctx, services.JoinRequest{
		UserID:       client.UserID,
		ConnectionID: client.ID.String(),
		Scope:        models.ConversationScope(conv.ID),
		HasVideo:     p.HasVideo,
	})
	if res != nil && res.Previous != nil {
		h.announceLeave(ctx, client.UserID, res.Previous)
	}
	if err != nil {
		return err
	}

	event := dto.DmCallEvent{ConversationID: conv.ID, Call: res.Call, UserID: client.UserID}
	switch {
	case res.Created:
		h.hub.EmitToRoom(room, ws.EventDmCallStarted, event, uuid.Nil)
	case !res.AlreadyJoined:
		h.hub.EmitToRoom(room, ws.EventUserJoinedDmCall, event, uuid.Nil)
	}
	return h.replyVoiceState(ctx, client)
}

func (h *EventHandler) handleLeaveCall(ctx context.Context, client *ws.Client) error {
	res, err := h.calls.Leave(ctx, client.UserID)
	if err != nil {
		return err
	}
	h.announceLeave(ctx, client.UserID, res)
	return h.replyVoiceState(ctx, client)
}

func (h *EventHandler) handleUpdateVoiceState(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.UpdateVoiceStatePayload
	if err := decode(msg, &p); err != nil {
		return err
	}

	call, _, err := h.calls.UpdateMedia(ctx, client.UserID, services.MediaPatch{
		IsMuted:         p.IsMuted,
		IsDeafened:      p.IsDeafened,
		IsSelfMuted:     p.IsSelfMuted,
		IsSelfDeafened:  p.IsSelfDeafened,
		HasVideo:        p.HasVideo,
		IsScreenSharing: p.IsScreenSharing,
	})
	if err != nil {
		return err
	}
	return h.broadcastVoiceState(ctx, client.UserID, call)
}

func (h *EventHandler) handleUpdateVoiceConnection(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.VoiceConnectionPayload
	if err := decode(msg, &p); err != nil {
		return err
	}

	call, _, err := h.calls.SetConnectionState(ctx, client.UserID, p.State)
	if err != nil {
		return err
	}
	return h.broadcastVoiceState(ctx, client.UserID, call)
}

func (h *EventHandler) handleSignal(client *ws.Client, msg *ws.Message, kind services.SignalKind) error {
	var p dto.SignalPayload
	if err := decode(msg, &p); err != nil {
		return err
	}

	payload := p.Offer
	switch kind {
	case services.SignalAnswer:
		payload = p.Answer
	case services.SignalIceCandidate:
		payload = p.Candidate
	}

	_, err := h.signaling.Relay(kind, client.UserID, p.TargetUserID, p.RoomToken, payload)
	return err
}

func (h *EventHandler) handleTyping(client *ws.Client, msg *ws.Message) error {
	var p dto.TypingPayload
	if err := decode(msg, &p); err != nil {
		return err
	}

	stop := msg.Type == ws.EventStopTyping
	event := dto.TypingEvent{UserID: client.UserID}

	var room ws.Room
	var out ws.EventType
	dm := p.IsDm || (p.ChannelID == nil && p.ConversationID != nil)
	switch {
	case dm && p.ConversationID != nil:
		room = ws.ConversationRoom(*p.ConversationID)
		event.ConversationID = p.ConversationID
		out = ws.EventDmTyping
		if stop {
			out = ws.EventDmStopTyping
		}
	case !dm && p.ChannelID != nil:
		room = ws.ChannelRoom(*p.ChannelID)
		event.ChannelID = p.ChannelID
		out = ws.EventTyping
		if stop {
			out = ws.EventStopTyping
		}
	default:
		return dto.ErrInvalidPayload
	}

	if !client.IsInRoom(room) {
		return ws.ErrNotSubscribed
	}
	h.hub.EmitToRoom(room, out, event, client.ID)
	return nil
}

func (h *EventHandler) handleStatusUpdate(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.StatusPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	_, err := h.presence.SetStatus(ctx, client.UserID, p.Status)
	return err
}

func (h *EventHandler) handleCustomStatusUpdate(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.CustomStatusPayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	_, err := h.presence.SetCustomStatus(ctx, client.UserID, p.CustomStatus)
	return err
}

func (h *EventHandler) handlePresenceUpdate(ctx context.Context, client *ws.Client, msg *ws.Message) error {
	var p dto.PresencePayload
	if err := decode(msg, &p); err != nil {
		return err
	}
	return h.presence.UpdateActivity(ctx, client.UserID, p.Activity)
}

// replyVoiceState отправляет пользователю его текущее голосовое состояние
func (h *EventHandler) replyVoiceState(ctx context.Context, client *ws.Client) error {
	call, vs, err := h.calls.CurrentCall(ctx, client.UserID)
	switch {
	case errors.Is(err, services.ErrNotInCall):
		call = nil
	case errors.Is(err, services.ErrNotFound):
	case err != nil:
		return err
	}
	event := dto.VoiceStateEvent{UserID: client.UserID, VoiceState: vs, Call: call}
	// остальные устройства пользователя синхронизируются через личную комнату
	h.hub.EmitToRoom(ws.UserRoom(client.UserID), ws.EventVoiceStateUpdate, event, client.ID)
	return client.SendMessage(ws.EventVoiceStateUpdate, event)
}

// broadcastVoiceState рассылает изменение состояния участника аудитории звонка
func (h *EventHandler) broadcastVoiceState(ctx context.Context, userID uuid.UUID, call *models.Call) error {
	vs, err := h.calls.VoiceState(ctx, userID)
	if err != nil {
		return err
	}
	room, err := h.audienceRoom(ctx, call)
	if err != nil {
		return err
	}
	h.hub.EmitToRoom(room, ws.EventVoiceStateUpdate, dto.VoiceStateEvent{
		UserID:     userID,
		VoiceState: vs,
		Call:       call,
	}, uuid.Nil)
	return nil
}

// announceLeave сообщает аудитории звонка о выходе участника или о завершении звонка
func (h *EventHandler) announceLeave(ctx context.Context, userID uuid.UUID, res *services.LeaveResult) {
	if res == nil || res.Call == nil {
		return
	}
	call := res.Call

	room, err := h.audienceRoom(ctx, call)
	if err != nil {
		h.log.Warn().Err(err).Str("call_id", call.ID.String()).Msg("cannot resolve call audience")
		return
	}

	if call.Type == models.CallTypeChannel {
		participant := res.Participant
		h.hub.EmitToRoom(room, ws.EventUserLeftVoice, dto.VoiceMemberEvent{
			UserID:         userID,
			ChannelID:      call.ChannelID,
			CallID:         call.ID,
			Participant:    &participant,
			ConnectedUsers: call.ActiveUserIDs(),
		}, uuid.Nil)
		return
	}

	event := dto.DmCallEvent{ConversationID: *call.ConversationID, Call: call, UserID: userID}
	if res.Ended {
		h.hub.EmitToRoom(room, ws.EventDmCallEnded, event, uuid.Nil)
		return
	}
	h.hub.EmitToRoom(room, ws.EventUserLeftDmCall, event, uuid.Nil)
}

// audienceRoom комната, которая видит звонок (сообщество канала или переписка)
func (h *EventHandler) audienceRoom(ctx context.Context, call *models.Call) (ws.Room, error) {
	if call.ChannelID != nil {
		channel, err := h.membership.Channel(ctx, *call.ChannelID)
		if err != nil {
			return "", err
		}
		return ws.CommunityRoom(channel.CommunityID), nil
	}
	if call.ConversationID != nil {
		return ws.ConversationRoom(*call.ConversationID), nil
	}
	return "", services.ErrNotFound
}

// OnDisconnect снимает соединение с учёта и выполняет очистку: выход из
// звонка, которым владело это соединение, и offline при последнем соединении.
// Состояние перечитывается, а не берётся из незавершённых операций.
func (h *EventHandler) OnDisconnect(client *ws.Client) {
	remaining, ok := h.hub.Unregister(client)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CleanupTimeout)
	defer cancel()

	h.cleanupVoice(ctx, client, remaining)

	if !remaining {
		err := h.retryOnce(ctx, "presence offline", client, func() error {
			_, err := h.presence.GoOffline(ctx, client.UserID)
			return err
		})
		if err != nil {
			h.log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("offline broadcast failed")
		}
	}
}

func (h *EventHandler) cleanupVoice(ctx context.Context, client *ws.Client, remaining bool) {
	vs, err := h.calls.VoiceState(ctx, client.UserID)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			h.log.Warn().Err(err).Str("user_id", client.UserID.String()).Msg("load voice state on disconnect")
		}
		return
	}
	if !vs.InCall() {
		return
	}
	// голосом владеет другое живое соединение пользователя
	if remaining && h.liveConnection(client.UserID, vs.ConnectionID) {
		return
	}

	var res *services.LeaveResult
	err = h.retryOnce(ctx, "leave call", client, func() error {
		var err error
		res, err = h.calls.Leave(ctx, client.UserID)
		return err
	})
	if err != nil {
		if !errors.Is(err, services.ErrNotInCall) {
			h.log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("call cleanup failed")
		}
		return
	}
	h.announceLeave(ctx, client.UserID, res)
}

// liveConnection зарегистрировано ли соединение connID у пользователя
func (h *EventHandler) liveConnection(userID uuid.UUID, connID string) bool {
	for _, id := range h.hub.Registry().Connections(userID) {
		if id.String() == connID {
			return true
		}
	}
	return false
}

// retryOnce выполняет fn и при ошибке повторяет её один раз после паузы
func (h *EventHandler) retryOnce(ctx context.Context, op string, client *ws.Client, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, services.ErrNotInCall) {
		return err
	}

	h.log.Warn().Err(err).
		Str("op", op).
		Str("conn_id", client.ID.String()).
		Str("user_id", client.UserID.String()).
		Msg("cleanup step failed, retrying")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.cfg.CleanupRetryDelay):
	}
	return fn()
}
