package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join authorizes user for room and adds it over conn. Authorization runs
// before any mutation, so a refused join leaves no state behind.
func (o *Orchestrator) Join(ctx context.Context, conn domain.ConnID, user domain.User, room domain.RoomID) error {
	if room == "" {
		return ErrRoomEmpty
	}
	if err := o.Auth.Authorize(ctx, user, room); err != nil {
		log.Info().Err(err).Str("module", "orch").Str("conn", string(conn)).Str("room", string(room)).
			Str("user", string(user.ID)).Msg("join refused")
		if errors.Is(err, domain.ErrForbidden) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return fmt.Errorf("authorize: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.Registry.Conn(conn); !ok {
		return ErrUnknownConn
	}
	// One membership per room per connection: joining under another id
	// withdraws the previous one.
	for _, m := range o.Registry.Memberships(conn) {
		if m.Room == room && m.User != user.ID {
			o.leaveLocked(conn, room, m.User, domain.ReasonLeft)
		}
	}
	res := o.Rooms.Join(room, user.ID, user.Username, conn)
	o.Registry.Bind(conn, room, user.ID)

	if res.Superseded {
		left := newUserLeft(room, user.ID, domain.ReasonReconnected)
		if res.PreviousConn != conn {
			o.Registry.Release(res.PreviousConn, room)
			o.Send(res.PreviousConn, left)
		}
		for _, p := range res.Existing {
			o.Send(p.ConnID, left)
		}
	}

	members := make([]core.MemberDTO, 0, len(res.Existing))
	for _, p := range res.Existing {
		members = append(members, core.NewMemberDTO(p))
	}
	o.Send(conn, roomJoinedMsg{
		Type:         "room_joined",
		RoomName:     room,
		UserID:       user.ID,
		Participants: members,
		ICEServers:   o.ICEServers,
	})

	joined := userJoinedMsg{Type: "user_joined", RoomName: room, UserID: user.ID, UserName: user.Username}
	for _, p := range res.Existing {
		o.Send(p.ConnID, joined)
	}

	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("room", string(room)).
		Str("user", string(user.ID)).Bool("superseded", res.Superseded).Int("peers", len(res.Existing)).Msg("joined")
	return nil
}

// Leave removes user from room on behalf of conn. A connection can only
// withdraw a membership it holds; anything else is a no-op.
func (o *Orchestrator) Leave(conn domain.ConnID, room domain.RoomID, user domain.UserID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaveLocked(conn, room, user, domain.ReasonLeft)
}

func (o *Orchestrator) leaveLocked(conn domain.ConnID, room domain.RoomID, user domain.UserID, reason domain.LeaveReason) bool {
	if !o.Rooms.LeaveConn(room, user, conn) {
		return false
	}
	o.Registry.Release(conn, room)
	o.broadcast(room, user, newUserLeft(room, user, reason))
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("room", string(room)).
		Str("user", string(user)).Str("reason", string(reason)).Msg("left")
	return true
}

// Disconnect runs the leave sequence for every membership of a closed
// transport.
func (o *Orchestrator) Disconnect(conn domain.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.Registry.Unregister(conn) {
		if !o.Rooms.LeaveConn(m.Room, m.User, conn) {
			continue
		}
		o.broadcast(m.Room, m.User, newUserLeft(m.Room, m.User, domain.ReasonDisconnected))
		log.Info().Str("module", "orch").Str("conn", string(conn)).Str("room", string(m.Room)).
			Str("user", string(m.User)).Msg("removed on disconnect")
	}
}

// EvictInactive implements app.Evictor. The candidate is re-checked under
// the mutation lock; activity since the snapshot cancels the eviction.
func (o *Orchestrator) EvictInactive(m app.StaleMember, cutoff time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.Rooms.Participant(m.Room, m.User)
	if !ok || p.ConnID != m.Conn || !p.LastActivity.Before(cutoff) {
		return false
	}
	if !o.leaveLocked(m.Conn, m.Room, m.User, domain.ReasonInactive) {
		return false
	}
	o.Send(m.Conn, newUserLeft(m.Room, m.User, domain.ReasonInactive))
	return true
}
