package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/models"
	ws "github.com/thereayou/voxus/internal/websocket"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.NewDatabase(gdb)
	require.NoError(t, db.Migrate())
	return db
}

func newUser(t *testing.T, db *database.Database, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Status:       models.StatusOffline,
	}
	require.NoError(t, db.SaveUser(context.Background(), u))
	return u
}

type emitted struct {
	Room    ws.Room
	Event   ws.EventType
	Data    json.RawMessage
	Exclude uuid.UUID
}

// fakeEmitter записывает рассылки вместо доставки
type fakeEmitter struct {
	mu        sync.Mutex
	events    []emitted
	reachable map[uuid.UUID]bool
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{reachable: make(map[uuid.UUID]bool)}
}

func (f *fakeEmitter) EmitToRoom(room ws.Room, event ws.EventType, data interface{}, exclude uuid.UUID) {
	raw, _ := json.Marshal(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Room: room, Event: event, Data: raw, Exclude: exclude})
}

// SendToUser доставляет только адресатам, отмеченным setReachable
func (f *fakeEmitter) SendToUser(userID uuid.UUID, event ws.EventType, data interface{}) bool {
	raw, _ := json.Marshal(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable[userID] {
		return false
	}
	f.events = append(f.events, emitted{Room: ws.UserRoom(userID), Event: event, Data: raw})
	return true
}

func (f *fakeEmitter) setReachable(userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable[userID] = true
}

func (f *fakeEmitter) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}
