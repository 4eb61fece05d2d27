package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotInRoom      = errors.New("not in room")
	ErrTargetNotFound = errors.New("target not found")
	ErrUnknownConn    = errors.New("unknown connection")
	ErrRoomEmpty      = errors.New("room name empty")
)

// Authorizer grants or refuses room access for a verified identity. A
// refusal wraps domain.ErrForbidden; any other error is a failed check.
type Authorizer interface {
	Authorize(ctx context.Context, user domain.User, room domain.RoomID) error
}

type AllowAll struct{}

func (AllowAll) Authorize(context.Context, domain.User, domain.RoomID) error { return nil }

// Orchestrator runs the join/leave/disconnect/evict sequences and emits the
// matching peer notifications. Mutating sequences hold mu so that peers see
// notifications for a room in mutation order.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Relay    *app.Relay
	Out      *app.Deliverer
	Auth     Authorizer

	// ICEServers is handed to every participant in room_joined.
	ICEServers []webrtc.ICEServer

	mu sync.Mutex
}

func New(reg *app.Registry, rooms *app.RoomManager, policy app.Policy, auth Authorizer) *Orchestrator {
	if auth == nil {
		auth = AllowAll{}
	}
	out := &app.Deliverer{Conns: reg, Policy: policy}
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Relay:    &app.Relay{Rooms: rooms, Out: out},
		Out:      out,
		Auth:     auth,
	}
}

// Connect registers a freshly opened transport.
func (o *Orchestrator) Connect(conn core.SignalConnection) domain.ConnID {
	return o.Registry.Register(conn)
}

// Touch records inbound activity on conn for the connection and every
// participant bound to it.
func (o *Orchestrator) Touch(conn domain.ConnID) {
	ms, ok := o.Registry.Touch(conn)
	if !ok {
		return
	}
	for _, m := range ms {
		o.Rooms.Touch(m.Room, m.User, conn)
	}
}

// Send encodes v and enqueues it on conn.
func (o *Orchestrator) Send(conn domain.ConnID, v any) bool {
	return o.Out.Send(conn, v)
}

func (o *Orchestrator) SendError(conn domain.ConnID, code, message string) {
	o.Send(conn, newErrorMsg(code, message))
}

// broadcast sends v to every participant of room except the skipped user.
func (o *Orchestrator) broadcast(room domain.RoomID, skip domain.UserID, v any) {
	for _, p := range o.Rooms.Snapshot(room) {
		if p.UserID == skip {
			continue
		}
		o.Send(p.ConnID, v)
	}
}
