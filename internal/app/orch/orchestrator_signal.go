package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

// senderBound reports whether user is a participant of room bound to conn.
func (o *Orchestrator) senderBound(conn domain.ConnID, room domain.RoomID, user domain.UserID) bool {
	p, ok := o.Rooms.Participant(room, user)
	return ok && p.ConnID == conn
}

// Signal relays an offer, answer or ICE candidate from the participant bound
// to conn. It takes no mutation lock: per-target order follows from the
// sender's single read loop and the target's FIFO queue.
func (o *Orchestrator) Signal(conn domain.ConnID, env app.Envelope) error {
	if !env.Kind.Valid() || env.Kind == app.KindScreenShare {
		return fmt.Errorf("signal kind %q not relayable", env.Kind)
	}
	if !o.senderBound(conn, env.Room, env.Sender) {
		return ErrNotInRoom
	}
	delivered, err := o.Relay.Relay(env)
	if err != nil {
		return err
	}
	if !delivered {
		return ErrTargetNotFound
	}
	return nil
}

// ScreenShare records the flag and broadcasts it to the rest of the room.
func (o *Orchestrator) ScreenShare(conn domain.ConnID, room domain.RoomID, user domain.UserID, sharing bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.senderBound(conn, room, user) {
		return ErrNotInRoom
	}
	if !o.Rooms.SetScreenShare(room, user, sharing) {
		return ErrNotInRoom
	}
	payload, _ := json.Marshal(sharing)
	if _, err := o.Relay.Relay(app.Envelope{
		Kind:    app.KindScreenShare,
		Room:    room,
		Sender:  user,
		Payload: payload,
	}); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(user)).Bool("sharing", sharing).Msg("screen share")
	return nil
}

func (o *Orchestrator) Pong(conn domain.ConnID) {
	o.Send(conn, pongMsg{Type: "pong"})
}
