package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/models"
)

type CallConfig struct {
	MaxChannelParticipants int
	MaxDMParticipants      int
	// MaxRetries попытки при конфликте версий
	MaxRetries int
}

func DefaultCallConfig() CallConfig {
	return CallConfig{
		MaxChannelParticipants: 25,
		MaxDMParticipants:      10,
		MaxRetries:             5,
	}
}

type JoinRequest struct {
	UserID       uuid.UUID
	ConnectionID string
	Scope        models.CallScope
	HasVideo     bool
	// MaxParticipants 0: лимит по умолчанию для типа звонка
	MaxParticipants int
}

type JoinResult struct {
	Call          *models.Call
	Participant   models.CallParticipant
	Created       bool
	AlreadyJoined bool
	// Previous звонок, из которого пользователя вывели перед входом
	Previous *LeaveResult
}

type LeaveResult struct {
	Call        *models.Call
	Participant models.CallParticipant
	Ended       bool
}

// MediaPatch частичное обновление флагов, nil означает "не менять"
type MediaPatch struct {
	IsMuted         *bool
	IsDeafened      *bool
	IsSelfMuted     *bool
	IsSelfDeafened  *bool
	HasVideo        *bool
	IsScreenSharing *bool
}

func (p MediaPatch) apply(m *models.MediaState) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&m.IsMuted, p.IsMuted)
	set(&m.IsDeafened, p.IsDeafened)
	set(&m.IsSelfMuted, p.IsSelfMuted)
	set(&m.IsSelfDeafened, p.IsSelfDeafened)
	set(&m.HasVideo, p.HasVideo)
	set(&m.IsScreenSharing, p.IsScreenSharing)
}

// CallService жизненный цикл звонков. Источник истины о составе звонка:
// Call.Participants; VoiceState выводится из него в syncVoiceState после
// каждого перехода. Создание и изменение звонка сериализуются по ключу
// канала/переписки внутри процесса, между процессами: уникальным индексом
// и проверкой версии.
type CallService struct {
	store CallStore
	cfg   CallConfig
	locks *keyLock
	log   zerolog.Logger
	now   func() time.Time
}

func NewCallService(store CallStore, cfg CallConfig, logger zerolog.Logger) *CallService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultCallConfig().MaxRetries
	}
	return &CallService{
		store: store,
		cfg:   cfg,
		locks: newKeyLock(),
		log:   logger.With().Str("module", "services.calls").Logger(),
		now:   time.Now,
	}
}

// Join находит или создаёт активный звонок и добавляет в него пользователя.
// Если пользователь числится в другом звонке, сначала выходит из него;
// Previous заполняется и при ошибке входа.
func (s *CallService) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	previous, err := s.leaveOther(ctx, req.UserID, req.Scope.Key())
	if err != nil {
		return nil, err
	}

	res, err := s.join(ctx, req, previous)
	if res == nil && previous != nil {
		res = &JoinResult{Previous: previous}
	}
	return res, err
}

func (s *CallService) join(ctx context.Context, req JoinRequest, previous *LeaveResult) (*JoinResult, error) {
	key := req.Scope.Key()
	unlock := s.locks.Lock(key)
	defer unlock()

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		call, err := s.store.FindActiveCall(ctx, key)
		if errors.Is(err, database.ErrNotFound) {
			call = s.newCall(req)
			err = s.store.CreateCall(ctx, call)
			if errors.Is(err, database.ErrActiveCallExists) {
				// другой процесс успел создать звонок
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("create call: %w", err)
			}

			s.log.Info().
				Str("call_id", call.ID.String()).
				Str("scope", key).
				Str("user_id", req.UserID.String()).
				Msg("call started")
			return s.joined(ctx, call, req, &JoinResult{Created: true, Previous: previous})
		}
		if err != nil {
			return nil, fmt.Errorf("find active call: %w", err)
		}

		// Открытая запись уже есть: не доверяем прошлой очистке, просто
		// переподключаем соединение к существующей записи.
		if call.OpenParticipant(req.UserID) >= 0 {
			return s.joined(ctx, call, req, &JoinResult{AlreadyJoined: true, Previous: previous})
		}

		if call.ActiveCount() >= call.Settings.MaxParticipants {
			return nil, ErrCallFull
		}

		call.Participants = append(call.Participants, models.CallParticipant{
			UserID:   req.UserID,
			JoinedAt: s.now(),
			State:    models.StateConnecting,
			Media:    models.MediaState{HasVideo: req.HasVideo},
		})
		if n := call.ActiveCount(); n > call.Stats.PeakParticipants {
			call.Stats.PeakParticipants = n
		}

		err = s.store.UpdateCall(ctx, call)
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("add participant: %w", err)
		}
		return s.joined(ctx, call, req, &JoinResult{Previous: previous})
	}

	return nil, ErrConflict
}

func (s *CallService) joined(ctx context.Context, call *models.Call, req JoinRequest, res *JoinResult) (*JoinResult, error) {
	res.Call = call
	res.Participant, _ = call.Participant(req.UserID)
	if err := s.syncVoiceState(ctx, call, req.UserID, req.ConnectionID); err != nil {
		return res, err
	}
	return res, nil
}

func (s *CallService) newCall(req JoinRequest) *models.Call {
	now := s.now()
	call := &models.Call{
		ID:          uuid.New(),
		Type:        req.Scope.Type,
		Status:      models.CallActive,
		ScopeKey:    req.Scope.Key(),
		InitiatorID: req.UserID,
		Participants: []models.CallParticipant{{
			UserID:   req.UserID,
			JoinedAt: now,
			State:    models.StateConnecting,
			Media:    models.MediaState{HasVideo: req.HasVideo},
		}},
		Settings: models.CallSettings{
			MaxParticipants: s.maxParticipants(req),
			VideoDefault:    req.HasVideo,
		},
		Stats: models.CallStats{
			StartedAt:        now,
			PeakParticipants: 1,
		},
		RoomToken: uuid.NewString(),
		Version:   1,
	}

	scopeID := req.Scope.ID
	if req.Scope.Type == models.CallTypeChannel {
		call.ChannelID = &scopeID
	} else {
		call.ConversationID = &scopeID
	}
	return call
}

func (s *CallService) maxParticipants(req JoinRequest) int {
	if req.MaxParticipants > 0 {
		return req.MaxParticipants
	}
	if req.Scope.Type == models.CallTypeChannel {
		return s.cfg.MaxChannelParticipants
	}
	return s.cfg.MaxDMParticipants
}

// leaveOther выводит пользователя из звонка другого канала/переписки
func (s *CallService) leaveOther(ctx context.Context, userID uuid.UUID, key string) (*LeaveResult, error) {
	vs, err := s.store.GetVoiceState(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load voice state: %w", err)
	}
	if !vs.InCall() || voiceStateKey(vs) == key {
		return nil, nil
	}

	res, err := s.leaveCall(ctx, userID, *vs.CallID)
	if errors.Is(err, ErrNotInCall) {
		return nil, nil
	}
	return res, err
}

// Leave выводит пользователя из текущего звонка. Звонок завершается,
// как только в нём не осталось активных участников.
func (s *CallService) Leave(ctx context.Context, userID uuid.UUID) (*LeaveResult, error) {
	vs, err := s.store.GetVoiceState(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotInCall
	}
	if err != nil {
		return nil, fmt.Errorf("load voice state: %w", err)
	}
	if !vs.InCall() {
		return nil, ErrNotInCall
	}
	return s.leaveCall(ctx, userID, *vs.CallID)
}

func (s *CallService) leaveCall(ctx context.Context, userID, callID uuid.UUID) (*LeaveResult, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, s.healVoiceState(ctx, userID)
		}
		return nil, fmt.Errorf("load call: %w", err)
	}

	unlock := s.locks.Lock(call.ScopeKey)
	defer unlock()

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		call, err = s.store.GetCall(ctx, callID)
		if err != nil {
			return nil, fmt.Errorf("load call: %w", err)
		}

		i := call.OpenParticipant(userID)
		if call.Terminal() || i < 0 {
			if err := s.syncVoiceState(ctx, call, userID, ""); err != nil {
				return nil, err
			}
			return nil, ErrNotInCall
		}

		now := s.now()
		call.Participants[i].LeftAt = &now
		call.Participants[i].State = models.StateDisconnected

		ended := call.ActiveCount() == 0
		if ended {
			s.end(call, now)
		}

		err = s.store.UpdateCall(ctx, call)
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("remove participant: %w", err)
		}

		if ended {
			s.log.Info().
				Str("call_id", call.ID.String()).
				Str("status", string(call.Status)).
				Int64("duration_ms", call.Stats.DurationMs).
				Int("peak", call.Stats.PeakParticipants).
				Msg("call ended")
		}

		res := &LeaveResult{Call: call, Participant: call.Participants[i], Ended: ended}
		if err := s.syncVoiceState(ctx, call, userID, ""); err != nil {
			return res, err
		}
		return res, nil
	}

	return nil, ErrConflict
}

// end переводит звонок в терминальное состояние. Личный звонок, в который
// так никто и не вошёл кроме инициатора, считается пропущенным.
func (s *CallService) end(call *models.Call, now time.Time) {
	call.Status = models.CallEnded
	if call.Type == models.CallTypeDM && call.Stats.PeakParticipants <= 1 {
		call.Status = models.CallMissed
	}

	for i := range call.Participants {
		if call.Participants[i].LeftAt == nil {
			call.Participants[i].LeftAt = &now
			call.Participants[i].State = models.StateDisconnected
		}
	}

	call.Stats.EndedAt = &now
	duration := now.Sub(call.Stats.StartedAt)
	if duration < 0 {
		duration = 0
	}
	call.Stats.DurationMs = duration.Milliseconds()
}

// UpdateMedia меняет флаги медиа активного участника, состояние соединения не трогает
func (s *CallService) UpdateMedia(ctx context.Context, userID uuid.UUID, patch MediaPatch) (*models.Call, models.CallParticipant, error) {
	return s.mutateParticipant(ctx, userID, func(p *models.CallParticipant) {
		patch.apply(&p.Media)
	})
}

// SetConnectionState отражает состояние медиасоединения клиента.
// Для выхода используется Leave, а не disconnected.
func (s *CallService) SetConnectionState(ctx context.Context, userID uuid.UUID, state models.ConnectionState) (*models.Call, models.CallParticipant, error) {
	switch state {
	case models.StateConnecting, models.StateConnected, models.StateReconnecting:
	default:
		return nil, models.CallParticipant{}, ErrInvalidState
	}
	return s.mutateParticipant(ctx, userID, func(p *models.CallParticipant) {
		p.State = state
	})
}

func (s *CallService) mutateParticipant(ctx context.Context, userID uuid.UUID, fn func(p *models.CallParticipant)) (*models.Call, models.CallParticipant, error) {
	var none models.CallParticipant

	vs, err := s.store.GetVoiceState(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, none, ErrNotInCall
	}
	if err != nil {
		return nil, none, fmt.Errorf("load voice state: %w", err)
	}
	if !vs.InCall() {
		return nil, none, ErrNotInCall
	}

	call, err := s.store.GetCall(ctx, *vs.CallID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, none, s.healVoiceState(ctx, userID)
		}
		return nil, none, fmt.Errorf("load call: %w", err)
	}

	unlock := s.locks.Lock(call.ScopeKey)
	defer unlock()

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		call, err = s.store.GetCall(ctx, *vs.CallID)
		if err != nil {
			return nil, none, fmt.Errorf("load call: %w", err)
		}

		i := call.OpenParticipant(userID)
		if call.Terminal() || i < 0 {
			if err := s.syncVoiceState(ctx, call, userID, ""); err != nil {
				return nil, none, err
			}
			return nil, none, ErrNotInCall
		}

		fn(&call.Participants[i])

		err = s.store.UpdateCall(ctx, call)
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, none, fmt.Errorf("update participant: %w", err)
		}

		if err := s.syncVoiceState(ctx, call, userID, ""); err != nil {
			return call, call.Participants[i], err
		}
		return call, call.Participants[i], nil
	}

	return nil, none, ErrConflict
}

// CurrentCall активный звонок пользователя по его VoiceState
func (s *CallService) CurrentCall(ctx context.Context, userID uuid.UUID) (*models.Call, *models.VoiceState, error) {
	vs, err := s.store.GetVoiceState(ctx, userID)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	if !vs.InCall() {
		return nil, vs, ErrNotInCall
	}
	call, err := s.store.GetCall(ctx, *vs.CallID)
	if err != nil {
		return nil, vs, storeErr(err)
	}
	if call.Terminal() || call.OpenParticipant(userID) < 0 {
		return call, vs, ErrNotInCall
	}
	return call, vs, nil
}

func (s *CallService) VoiceState(ctx context.Context, userID uuid.UUID) (*models.VoiceState, error) {
	vs, err := s.store.GetVoiceState(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return vs, nil
}

// syncVoiceState единственное место, где VoiceState выводится из записи участника
func (s *CallService) syncVoiceState(ctx context.Context, call *models.Call, userID uuid.UUID, connID string) error {
	prev, err := s.store.GetVoiceState(ctx, userID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("load voice state: %w", err)
	}
	if connID == "" && prev != nil {
		connID = prev.ConnectionID
	}

	callID := call.ID
	vs := &models.VoiceState{
		UserID:         userID,
		ChannelID:      call.ChannelID,
		ConversationID: call.ConversationID,
		CallID:         &callID,
		ConnectionID:   connID,
		State:          models.StateDisconnected,
		UpdatedAt:      s.now(),
	}

	if p, ok := call.Participant(userID); ok {
		vs.Media = p.Media
		if p.Active() && !call.Terminal() {
			vs.State = p.State
		}
	}

	if err := s.store.UpsertVoiceState(ctx, vs); err != nil {
		return fmt.Errorf("sync voice state: %w", err)
	}
	return nil
}

// healVoiceState закрывает VoiceState, ссылающийся на несуществующий звонок
func (s *CallService) healVoiceState(ctx context.Context, userID uuid.UUID) error {
	vs, err := s.store.GetVoiceState(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	vs.State = models.StateDisconnected
	vs.UpdatedAt = s.now()
	if err := s.store.UpsertVoiceState(ctx, vs); err != nil {
		return fmt.Errorf("heal voice state: %w", err)
	}
	s.log.Warn().Str("user_id", userID.String()).Msg("voice state pointed to missing call")
	return ErrNotInCall
}

func voiceStateKey(vs *models.VoiceState) string {
	if vs.ChannelID != nil {
		return models.ChannelScope(*vs.ChannelID).Key()
	}
	if vs.ConversationID != nil {
		return models.ConversationScope(*vs.ConversationID).Key()
	}
	return ""
}
