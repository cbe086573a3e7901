package music

import (
	"context"
	"sync"
	"time"
)

// Manager is the process-wide mapping from guild id to player. Players are
// created on first use and removed by the auto-leave loop.
type Manager struct {
	mu      sync.Mutex
	players map[string]*Player

	deps              PlayerDeps
	autoLeaveInterval time.Duration
}

func NewManager(deps PlayerDeps, autoLeaveInterval time.Duration) *Manager {
	if autoLeaveInterval <= 0 {
		autoLeaveInterval = DefaultAutoLeaveInterval
	}
	return &Manager{
		players:           make(map[string]*Player),
		deps:              deps,
		autoLeaveInterval: autoLeaveInterval,
	}
}

// GetOrCreate returns the guild's player, creating it and starting its
// auto-leave loop on first use.
func (m *Manager) GetOrCreate(ctx context.Context, guildID, msgChannelID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[guildID]; ok {
		return p
	}

	p := NewPlayer(guildID, msgChannelID, m.deps)
	p.onRemove = func() { m.Remove(guildID) }
	m.players[guildID] = p
	go p.RunAutoLeave(ctx, m.autoLeaveInterval)
	return p
}

// Get returns the guild's player if one exists.
func (m *Manager) Get(guildID string) (*Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Remove drops the guild's player from the mapping.
func (m *Manager) Remove(guildID string) {
	m.mu.Lock()
	delete(m.players, guildID)
	m.mu.Unlock()
}

// Len returns the number of live players.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}
