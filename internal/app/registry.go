package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn         core.SignalConnection
	CreatedAt    time.Time
	LastActivity time.Time
	rooms        map[domain.RoomID]domain.UserID
}

func (e *connEntry) memberships() []domain.Membership {
	out := make([]domain.Membership, 0, len(e.rooms))
	for room, user := range e.rooms {
		out = append(out, domain.Membership{Room: room, User: user})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Registry tracks live transport connections. It never notifies rooms.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		now:   time.Now,
	}
}

func (r *Registry) Register(conn core.SignalConnection) domain.ConnID {
	id := domain.ConnID(uuid.NewString())
	now := r.now()
	r.mu.Lock()
	r.conns[id] = &connEntry{
		Conn:         conn,
		CreatedAt:    now,
		LastActivity: now,
		rooms:        make(map[domain.RoomID]domain.UserID),
	}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("registered connection")
	return id
}

// Touch refreshes last-activity and returns the memberships bound to id.
func (r *Registry) Touch(id domain.ConnID) ([]domain.Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	e.LastActivity = r.now()
	return e.memberships(), true
}

// Unregister drops the connection and reports every membership that
// referenced it so the caller can run the leave sequence for each.
func (r *Registry) Unregister(id domain.ConnID) []domain.Membership {
	r.mu.Lock()
	e, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	ms := e.memberships()
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("memberships", len(ms)).Msg("unregistered connection")
	return ms
}

// Bind records that user joined room over id. A connection holds at most one
// membership per room.
func (r *Registry) Bind(id domain.ConnID, room domain.RoomID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.rooms[room] = user
	return true
}

func (r *Registry) Release(id domain.ConnID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		delete(e.rooms, room)
	}
}

func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) Memberships(id domain.ConnID) []domain.Membership {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	return e.memberships()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Snapshot() []core.ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnInfo, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, core.ConnInfo{
			ID:           id,
			CreatedAt:    e.CreatedAt,
			LastActivity: e.LastActivity,
			Memberships:  e.memberships(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
