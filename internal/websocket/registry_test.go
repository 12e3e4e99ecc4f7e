package websocket

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMultiDevice, p)

	p, err = ParsePolicy("last_device_wins")
	require.NoError(t, err)
	assert.Equal(t, PolicyLastDeviceWins, p)

	_, err = ParsePolicy("round_robin")
	assert.Error(t, err)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry(PolicyMultiDevice)
	user := uuid.New()
	c1, c2 := uuid.New(), uuid.New()

	assert.True(t, r.Register(user, c1), "first connection")
	assert.False(t, r.Register(user, c2))
	assert.True(t, r.IsOnline(user))
	assert.Equal(t, map[string]int{"connections": 2, "users": 1}, r.Stats())

	owner, remaining, ok := r.Unregister(c1)
	require.True(t, ok)
	assert.Equal(t, user, owner)
	assert.True(t, remaining)

	_, remaining, ok = r.Unregister(c2)
	require.True(t, ok)
	assert.False(t, remaining)
	assert.False(t, r.IsOnline(user))

	_, _, ok = r.Unregister(c2)
	assert.False(t, ok, "second unregister is a no-op")
	assert.Equal(t, map[string]int{"connections": 0, "users": 0}, r.Stats())
}

func TestRegistry_LookupReturnsNewest(t *testing.T) {
	r := NewRegistry(PolicyMultiDevice)
	user := uuid.New()
	older, newer := uuid.New(), uuid.New()
	r.Register(user, older)
	r.Register(user, newer)

	got, ok := r.Lookup(user)
	require.True(t, ok)
	assert.Equal(t, newer, got)

	r.Unregister(newer)
	got, ok = r.Lookup(user)
	require.True(t, ok)
	assert.Equal(t, older, got)

	_, ok = r.Lookup(uuid.New())
	assert.False(t, ok)
}

func TestRegistry_AddressableByPolicy(t *testing.T) {
	user := uuid.New()
	c1, c2 := uuid.New(), uuid.New()

	multi := NewRegistry(PolicyMultiDevice)
	multi.Register(user, c1)
	multi.Register(user, c2)
	assert.ElementsMatch(t, []uuid.UUID{c1, c2}, multi.Addressable(user))

	last := NewRegistry(PolicyLastDeviceWins)
	last.Register(user, c1)
	last.Register(user, c2)
	assert.Equal(t, []uuid.UUID{c2}, last.Addressable(user))
	assert.Len(t, last.Connections(user), 2, "all connections stay registered")
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(PolicyMultiDevice)
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			r.Register(user, id)
			r.Lookup(user)
			r.Unregister(id)
		}()
	}
	wg.Wait()

	assert.False(t, r.IsOnline(user))
	assert.Equal(t, 0, r.Stats()["connections"])
}
