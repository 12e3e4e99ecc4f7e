package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientMessageHandler обрабатывает входящие события и отключение клиента
type ClientMessageHandler interface {
	HandleMessage(client *Client, msg *Message) error
	OnDisconnect(client *Client)
}

type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	Rooms  map[Room]bool
	Hub    *Hub

	mu      sync.RWMutex
	closed  bool
	tracked bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, hub.cfg.SendBuffer),
		Rooms:  make(map[Room]bool),
		Hub:    hub,
	}
}

// ReadPump читает события клиента и обрабатывает их строго по порядку
func (c *Client) ReadPump(handler ClientMessageHandler) {
	cfg := c.Hub.cfg
	defer func() {
		handler.OnDisconnect(c)
		c.closeConn()
		c.Hub.release(c)
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn().Err(err).Str("conn_id", c.ID.String()).Msg("websocket read error")
			}
			break
		}

		// timestamp клиента не используется, время ставит сервер
		var in struct {
			Type EventType       `json:"event"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(frame, &in); err != nil {
			c.SendError(ErrInvalidMessage.Error())
			continue
		}

		msg := Message{Type: in.Type, Data: in.Data, Timestamp: time.Now()}
		if err := handler.HandleMessage(c, &msg); err != nil {
			c.Hub.log.Debug().Err(err).
				Str("conn_id", c.ID.String()).
				Str("event", string(msg.Type)).
				Msg("event rejected")
			c.SendError(err.Error())
		}
	}
}

// WritePump отправляет сообщения клиенту
func (c *Client) WritePump() {
	cfg := c.Hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				// Hub закрыл канал
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) SendMessage(event EventType, data interface{}) error {
	msg, err := Encode(event, data)
	if err != nil {
		return err
	}
	if !c.enqueue(msg) {
		return ErrClientQueueFull
	}
	return nil
}

func (c *Client) SendError(errorMsg string) {
	c.SendMessage(EventError, ErrorPayload{Message: errorMsg})
}

// enqueue кладёт сообщение в очередь без блокировки
func (c *Client) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) closeConn() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

func (c *Client) IsInRoom(room Room) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[room]
}

func (c *Client) GetRooms() []Room {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]Room, 0, len(c.Rooms))
	for room := range c.Rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Client) addRoom(room Room) {
	c.mu.Lock()
	c.Rooms[room] = true
	c.mu.Unlock()
}

func (c *Client) removeRoom(room Room) {
	c.mu.Lock()
	delete(c.Rooms, room)
	c.mu.Unlock()
}
