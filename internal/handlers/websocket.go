package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thereayou/voxus/internal/handlers/dto"
	"github.com/thereayou/voxus/internal/middleware"
	"github.com/thereayou/voxus/internal/services"
	ws "github.com/thereayou/voxus/internal/websocket"
)

// WebSocketHandler принимает соединения и выполняет последовательность подключения
type WebSocketHandler struct {
	hub        *ws.Hub
	membership *services.MembershipService
	presence   *services.PresenceService
	calls      *services.CallService
	events     *EventHandler
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewWebSocketHandler создает новый WebSocket handler. Пустой allowedOrigins
// пропускает любой origin.
func NewWebSocketHandler(
	hub *ws.Hub,
	membership *services.MembershipService,
	presence *services.PresenceService,
	calls *services.CallService,
	events *EventHandler,
	allowedOrigins []string,
	logger zerolog.Logger,
) *WebSocketHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &WebSocketHandler{
		hub:        hub,
		membership: membership,
		presence:   presence,
		calls:      calls,
		events:     events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
		log: logger.With().Str("module", "handlers.websocket").Logger(),
	}
}

// HandleWebSocket обрабатывает WebSocket соединения
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	value, exists := c.Get(middleware.UserIDKey)
	userID, ok := value.(uuid.UUID)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	// комнаты считаются до апгрейда, чтобы отказать обычным HTTP-ответом
	snapshot, err := h.membership.RoomsFor(ctx, userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("compute rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	first := h.hub.Register(client)
	h.hub.Subscribe(client, snapshot.Rooms...)

	if first {
		update, err := h.presence.GoOnline(ctx, userID)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("online broadcast failed")
		} else {
			snapshot.User.Status = update.Status
		}
	}

	payload := dto.ConnectedPayload{
		User:          snapshot.User,
		Communities:   snapshot.Communities,
		Conversations: snapshot.Conversations,
	}
	if call, vs, err := h.calls.CurrentCall(ctx, userID); err == nil {
		payload.VoiceState = vs
		payload.Call = call
	}
	if err := client.SendMessage(ws.EventConnected, payload); err != nil {
		h.log.Warn().Err(err).Str("conn_id", client.ID.String()).Msg("send connected")
	}

	h.log.Info().
		Str("conn_id", client.ID.String()).
		Str("user_id", userID.String()).
		Int("rooms", len(snapshot.Rooms)).
		Bool("first", first).
		Msg("client connected")

	go client.WritePump()
	go client.ReadPump(h.events)
}
