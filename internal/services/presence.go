package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thereayou/voxus/internal/models"
	ws "github.com/thereayou/voxus/internal/websocket"
)

const maxCustomStatusLen = 128

type PresenceUpdate struct {
	UserID       uuid.UUID         `json:"userId"`
	Status       models.UserStatus `json:"status"`
	CustomStatus string            `json:"customStatus"`
	Timestamp    time.Time         `json:"timestamp"`
}

type ActivityUpdate struct {
	UserID    uuid.UUID       `json:"userId"`
	Activity  json.RawMessage `json:"activity"`
	Timestamp time.Time       `json:"timestamp"`
}

// Audience получатели рассылки статуса пользователя
type Audience struct {
	Friends map[uuid.UUID]bool
	Members []uuid.UUID
}

// PresenceService сохраняет статус и рассылает его друзьям и участникам
// общих сообществ. Доставка без повторов: отключённый получатель ничего не получит.
type PresenceService struct {
	store   PresenceStore
	emitter Emitter
	log     zerolog.Logger
	now     func() time.Time
}

func NewPresenceService(store PresenceStore, emitter Emitter, logger zerolog.Logger) *PresenceService {
	return &PresenceService{
		store:   store,
		emitter: emitter,
		log:     logger.With().Str("module", "services.presence").Logger(),
		now:     time.Now,
	}
}

func (s *PresenceService) SetStatus(ctx context.Context, userID uuid.UUID, status models.UserStatus) (*PresenceUpdate, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return s.apply(ctx, userID, status, user.CustomStatus)
}

func (s *PresenceService) SetCustomStatus(ctx context.Context, userID uuid.UUID, customStatus string) (*PresenceUpdate, error) {
	if utf8.RuneCountInString(customStatus) > maxCustomStatusLen {
		return nil, ErrCustomStatusLong
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	status := user.Status
	if status == "" || status == models.StatusOffline {
		status = models.StatusOnline
	}
	return s.apply(ctx, userID, status, customStatus)
}

// GoOnline вызывается на первом соединении пользователя. Выбранный ранее
// статус (dnd, idle, invisible) сохраняется, offline меняется на online.
func (s *PresenceService) GoOnline(ctx context.Context, userID uuid.UUID) (*PresenceUpdate, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	status := user.Status
	if !status.Valid() || status == models.StatusOffline {
		status = models.StatusOnline
	}
	return s.apply(ctx, userID, status, user.CustomStatus)
}

// GoOffline вызывается, когда у пользователя не осталось соединений
func (s *PresenceService) GoOffline(ctx context.Context, userID uuid.UUID) (*PresenceUpdate, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return s.apply(ctx, userID, models.StatusOffline, user.CustomStatus)
}

// UpdateActivity рассылает активность (игра, трек и т.п.) без сохранения
func (s *PresenceService) UpdateActivity(ctx context.Context, userID uuid.UUID, activity json.RawMessage) error {
	audience, err := s.Audience(ctx, userID)
	if err != nil {
		return err
	}

	update := ActivityUpdate{UserID: userID, Activity: activity, Timestamp: s.now()}
	for _, member := range audience.Members {
		s.emitter.EmitToRoom(ws.UserRoom(member), ws.EventFriendPresenceUpdate, update, uuid.Nil)
	}
	return nil
}

func (s *PresenceService) apply(ctx context.Context, userID uuid.UUID, status models.UserStatus, customStatus string) (*PresenceUpdate, error) {
	if err := s.store.UpdateUserStatus(ctx, userID, status, customStatus); err != nil {
		return nil, fmt.Errorf("persist status: %w", storeErr(err))
	}

	update := &PresenceUpdate{
		UserID:       userID,
		Status:       status,
		CustomStatus: customStatus,
		Timestamp:    s.now(),
	}
	if err := s.broadcast(ctx, update); err != nil {
		return update, err
	}
	return update, nil
}

func (s *PresenceService) broadcast(ctx context.Context, update *PresenceUpdate) error {
	audience, err := s.Audience(ctx, update.UserID)
	if err != nil {
		return err
	}

	// Невидимый пользователь для остальных выглядит оффлайн
	visible := *update
	if visible.Status == models.StatusInvisible {
		visible.Status = models.StatusOffline
	}

	for _, member := range audience.Members {
		event := ws.EventMemberStatusUpdate
		if audience.Friends[member] {
			event = ws.EventFriendStatusUpdate
		}
		s.emitter.EmitToRoom(ws.UserRoom(member), event, visible, uuid.Nil)
	}

	s.log.Debug().
		Str("user_id", update.UserID.String()).
		Str("status", string(update.Status)).
		Int("audience", len(audience.Members)).
		Msg("presence broadcast")
	return nil
}

// Audience = принятые друзья ∪ участники всех сообществ пользователя, без повторов и без него самого
func (s *PresenceService) Audience(ctx context.Context, userID uuid.UUID) (*Audience, error) {
	friends, err := s.store.GetAcceptedFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}
	members, err := s.store.GetCommunityMemberIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load community members: %w", err)
	}

	audience := &Audience{Friends: make(map[uuid.UUID]bool, len(friends))}
	seen := make(map[uuid.UUID]bool, len(friends)+len(members))
	add := func(id uuid.UUID) {
		if id == userID || seen[id] {
			return
		}
		seen[id] = true
		audience.Members = append(audience.Members, id)
	}

	for _, id := range friends {
		audience.Friends[id] = true
		add(id)
	}
	for _, id := range members {
		add(id)
	}
	return audience, nil
}
