package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config параметры соединений
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 512 * 1024,
		SendBuffer:     256,
	}
}

type Hub struct {
	cfg      Config
	registry *Registry
	log      zerolog.Logger

	clients map[uuid.UUID]*Client

	// Клиенты в комнатах
	rooms map[Room]map[uuid.UUID]*Client

	mu      sync.RWMutex
	stopped bool

	// pumps считает ReadPump, чья очистка после отключения ещё не закончилась
	pumps sync.WaitGroup

	// Контекст для graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub создает новый Hub
func NewHub(cfg Config, registry *Registry, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		registry: registry,
		log:      logger.With().Str("module", "ws.hub").Logger(),
		clients:  make(map[uuid.UUID]*Client),
		rooms:    make(map[Room]map[uuid.UUID]*Client),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run запускает hub и блокируется до отмены ctx или Stop
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return

		case <-h.ctx.Done():
			return

		case <-ticker.C:
			stats := h.registry.Stats()
			h.log.Debug().
				Int("connections", stats["connections"]).
				Int("users", stats["users"]).
				Int("rooms", h.roomCount()).
				Msg("hub stats")
		}
	}
}

// Stop закрывает все соединения
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for _, client := range h.clients {
		client.closeConn()
	}
}

// Wait ждёт, пока все ReadPump завершат OnDisconnect, или отмены ctx.
// Вызывается после Stop, до закрытия хранилищ.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release вызывается ReadPump после очистки отключения
func (h *Hub) release(client *Client) {
	if client.tracked {
		h.pumps.Done()
	}
}

// Register регистрирует клиента и подписывает его на личную комнату.
// Возвращает true, если это первое соединение пользователя.
// После Stop соединение сразу закрывается и не регистрируется.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		client.closeConn()
		return false
	}
	if _, exists := h.clients[client.ID]; !exists {
		client.tracked = true
		h.pumps.Add(1)
	}

	h.clients[client.ID] = client
	first := h.registry.Register(client.UserID, client.ID)
	h.subscribeLocked(client, UserRoom(client.UserID))

	h.log.Info().
		Str("conn_id", client.ID.String()).
		Str("user_id", client.UserID.String()).
		Bool("first", first).
		Msg("client registered")
	return first
}

// Unregister отписывает клиента от всех комнат и закрывает очередь отправки.
// remaining остались ли у пользователя другие соединения, ok=false при
// повторном вызове.
func (h *Hub) Unregister(client *Client) (remaining bool, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[client.ID]; !exists {
		return h.registry.IsOnline(client.UserID), false
	}

	for _, room := range client.GetRooms() {
		h.removeFromRoomLocked(client, room)
	}
	delete(h.clients, client.ID)
	_, remaining, _ = h.registry.Unregister(client.ID)
	client.closeSend()

	h.log.Info().
		Str("conn_id", client.ID.String()).
		Str("user_id", client.UserID.String()).
		Bool("remaining", remaining).
		Msg("client unregistered")
	return remaining, true
}

// Subscribe добавляет клиента в комнаты
func (h *Hub) Subscribe(client *Client, rooms ...Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, room := range rooms {
		h.subscribeLocked(client, room)
	}
}

func (h *Hub) subscribeLocked(client *Client, room Room) {
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[uuid.UUID]*Client)
	}
	h.rooms[room][client.ID] = client
	client.addRoom(room)
}

// Unsubscribe удаляет клиента из комнаты. Личную комнату покинуть нельзя.
func (h *Hub) Unsubscribe(client *Client, room Room) bool {
	if room == UserRoom(client.UserID) {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeFromRoomLocked(client, room)
}

func (h *Hub) removeFromRoomLocked(client *Client, room Room) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[client.ID]; !ok {
		return false
	}

	delete(members, client.ID)
	client.removeRoom(room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	return true
}

// EmitToRoom отправляет событие всем клиентам комнаты, кроме exclude.
// В личной комнате при last_device_wins получает только последнее соединение.
func (h *Hub) EmitToRoom(room Room, event EventType, data interface{}, exclude uuid.UUID) {
	msg, err := Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("encode event")
		return
	}

	lastOnly := room.IsPersonal() && h.registry.Policy() == PolicyLastDeviceWins

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[room] {
		if client.ID == exclude {
			continue
		}
		if lastOnly {
			if last, _ := h.registry.Lookup(client.UserID); last != client.ID {
				continue
			}
		}
		h.deliver(client, msg)
	}
}

// SendToUser отправляет событие на адресуемые соединения пользователя
func (h *Hub) SendToUser(userID uuid.UUID, event EventType, data interface{}) bool {
	conns := h.registry.Addressable(userID)
	if len(conns) == 0 {
		return false
	}

	msg, err := Encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("encode event")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := false
	for _, id := range conns {
		if client, ok := h.clients[id]; ok {
			h.deliver(client, msg)
			sent = true
		}
	}
	return sent
}

func (h *Hub) deliver(client *Client, msg []byte) {
	if !client.enqueue(msg) {
		h.log.Warn().Str("conn_id", client.ID.String()).Msg("client send channel full")
	}
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
