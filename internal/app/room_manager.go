package app

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

// room keeps participants in join order.
type room struct {
	order   []domain.UserID
	members map[domain.UserID]*domain.Participant
}

func newRoom() *room {
	return &room{members: make(map[domain.UserID]*domain.Participant)}
}

func (r *room) remove(user domain.UserID) bool {
	if _, ok := r.members[user]; !ok {
		return false
	}
	delete(r.members, user)
	if i := slices.Index(r.order, user); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

func (r *room) snapshot(except domain.UserID) []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		if id == except {
			continue
		}
		out = append(out, *r.members[id])
	}
	return out
}

// JoinResult is returned by RoomManager.Join.
type JoinResult struct {
	// Existing lists the other participants in join order.
	Existing     []domain.Participant
	Superseded   bool
	PreviousConn domain.ConnID
}

// StaleMember is an eviction candidate found by Stale.
type StaleMember struct {
	Room         domain.RoomID
	User         domain.UserID
	Conn         domain.ConnID
	LastActivity time.Time
}

// RoomManager is the room directory. Rooms exist only while they have
// participants.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
	now   func() time.Time
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[domain.RoomID]*room),
		now:   time.Now,
	}
}

func (m *RoomManager) Join(roomID domain.RoomID, user domain.UserID, name string, conn domain.ConnID) JoinResult {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom()
		m.rooms[roomID] = r
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Msg("room created")
	}

	res := JoinResult{}
	if p, ok := r.members[user]; ok {
		res.Superseded = true
		res.PreviousConn = p.ConnID
		p.Name = name
		p.ConnID = conn
		p.ScreenSharing = false
		p.JoinedAt = now
		p.LastActivity = now
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("user", string(user)).
			Str("conn", string(conn)).Str("prev_conn", string(res.PreviousConn)).Msg("participant superseded")
	} else {
		r.members[user] = &domain.Participant{
			UserID:       user,
			Name:         name,
			ConnID:       conn,
			RoomID:       roomID,
			JoinedAt:     now,
			LastActivity: now,
		}
		r.order = append(r.order, user)
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("user", string(user)).
			Str("conn", string(conn)).Int("total", len(r.order)).Msg("participant joined")
	}
	res.Existing = r.snapshot(user)
	return res
}

// Leave is idempotent: a second call reports false.
func (m *RoomManager) Leave(roomID domain.RoomID, user domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(roomID, user, "")
}

// LeaveConn removes user only while it is still bound to conn.
func (m *RoomManager) LeaveConn(roomID domain.RoomID, user domain.UserID, conn domain.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(roomID, user, conn)
}

func (m *RoomManager) leaveLocked(roomID domain.RoomID, user domain.UserID, conn domain.ConnID) bool {
	r, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	if p, ok := r.members[user]; !ok || (conn != "" && p.ConnID != conn) {
		return false
	}
	r.remove(user)
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("user", string(user)).
		Int("total", len(r.order)).Msg("participant removed")
	if len(r.members) == 0 {
		delete(m.rooms, roomID)
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Msg("room deleted")
	}
	return true
}

func (m *RoomManager) SetScreenShare(roomID domain.RoomID, user domain.UserID, sharing bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	p, ok := r.members[user]
	if !ok {
		return false
	}
	p.ScreenSharing = sharing
	return true
}

// Touch refreshes the participant's last-activity if it is bound to conn.
func (m *RoomManager) Touch(roomID domain.RoomID, user domain.UserID, conn domain.ConnID) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		if p, ok := r.members[user]; ok && p.ConnID == conn {
			p.LastActivity = now
		}
	}
}

func (m *RoomManager) Participant(roomID domain.RoomID, user domain.UserID) (domain.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := r.members[user]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Snapshot returns the room's participants in join order.
func (m *RoomManager) Snapshot(roomID domain.RoomID) []domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return r.snapshot("")
}

func (m *RoomManager) AllRooms() map[domain.RoomID]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.RoomID]int, len(m.rooms))
	for id, r := range m.rooms {
		out[id] = len(r.members)
	}
	return out
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for name, r := range m.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: len(r.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *RoomManager) Details() []core.RoomDetail {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomDetail, 0, len(m.rooms))
	for name, r := range m.rooms {
		out = append(out, core.RoomDetail{Name: name, Participants: r.snapshot("")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stale returns a copy of every participant idle since before cutoff.
func (m *RoomManager) Stale(cutoff time.Time) []StaleMember {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StaleMember
	for id, r := range m.rooms {
		for _, uid := range r.order {
			p := r.members[uid]
			if p.LastActivity.Before(cutoff) {
				out = append(out, StaleMember{Room: id, User: uid, Conn: p.ConnID, LastActivity: p.LastActivity})
			}
		}
	}
	return out
}

// PruneEmpty deletes rooms without participants. Leave never leaves one
// behind, so a non-zero result points at a bug elsewhere.
func (m *RoomManager) PruneEmpty() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.rooms {
		if len(r.members) == 0 {
			delete(m.rooms, id)
			n++
		}
	}
	return n
}
