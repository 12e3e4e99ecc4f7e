package websocket

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Policy определяет, какие соединения пользователя получают адресную доставку
type Policy string

const (
	// PolicyMultiDevice адресные события уходят на все соединения пользователя
	PolicyMultiDevice Policy = "multi_device"
	// PolicyLastDeviceWins адресуемо только последнее зарегистрированное соединение
	PolicyLastDeviceWins Policy = "last_device_wins"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyMultiDevice, PolicyLastDeviceWins:
		return Policy(s), nil
	case "":
		return PolicyMultiDevice, nil
	}
	return "", fmt.Errorf("unknown registry policy %q", s)
}

// Registry соответствие живых соединений и пользователей
type Registry struct {
	mu     sync.RWMutex
	policy Policy

	// соединение -> пользователь
	owners map[uuid.UUID]uuid.UUID

	// пользователь -> соединения в порядке регистрации
	users map[uuid.UUID][]uuid.UUID
}

func NewRegistry(policy Policy) *Registry {
	if policy == "" {
		policy = PolicyMultiDevice
	}
	return &Registry{
		policy: policy,
		owners: make(map[uuid.UUID]uuid.UUID),
		users:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *Registry) Policy() Policy {
	return r.policy
}

// Register записывает соединение пользователя. Возвращает true,
// если это первое соединение пользователя.
func (r *Registry) Register(userID, connID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[connID]; ok {
		r.removeLocked(prev, connID)
	}

	first := len(r.users[userID]) == 0
	r.owners[connID] = userID
	r.users[userID] = append(r.users[userID], connID)
	return first
}

// Unregister удаляет соединение. remaining: остались ли у пользователя
// другие соединения; ok=false, если соединение не было зарегистрировано.
func (r *Registry) Unregister(connID uuid.UUID) (userID uuid.UUID, remaining bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.owners[connID]
	if !ok {
		return uuid.Nil, false, false
	}

	r.removeLocked(userID, connID)
	return userID, len(r.users[userID]) > 0, true
}

func (r *Registry) removeLocked(userID, connID uuid.UUID) {
	delete(r.owners, connID)

	conns := r.users[userID]
	for i, id := range conns {
		if id == connID {
			conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.users, userID)
		return
	}
	r.users[userID] = conns
}

// Lookup возвращает самое свежее соединение пользователя
func (r *Registry) Lookup(userID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return uuid.Nil, false
	}
	return conns[len(conns)-1], true
}

// Addressable соединения, получающие адресную доставку согласно политике
func (r *Registry) Addressable(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	if r.policy == PolicyLastDeviceWins {
		return []uuid.UUID{conns[len(conns)-1]}
	}

	out := make([]uuid.UUID, len(conns))
	copy(out, conns)
	return out
}

// Connections все соединения пользователя независимо от политики
func (r *Registry) Connections(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, len(r.users[userID]))
	copy(out, r.users[userID])
	return out
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.owners),
		"users":       len(r.users),
	}
}
