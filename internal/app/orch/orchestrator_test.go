package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// drain returns and forgets every message received so far.
func (c *fakeConn) drain() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	c.frames = nil
	return out
}

type denyRoom struct{ room domain.RoomID }

var errDenied = fmt.Errorf("%w: denied", domain.ErrForbidden)

func (d denyRoom) Authorize(_ context.Context, _ domain.User, room domain.RoomID) error {
	if room == d.room {
		return errDenied
	}
	return nil
}

type client struct {
	id   domain.ConnID
	conn *fakeConn
	user domain.User
}

func newOrch(auth Authorizer) *Orchestrator {
	return New(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{Action: app.DropFrame}, auth)
}

func connect(o *Orchestrator, user string) *client {
	c := &fakeConn{}
	return &client{id: o.Connect(c), conn: c, user: domain.User{ID: domain.UserID(user), Username: user}}
}

func types(msgs []map[string]any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

func TestRoomScenario(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	a := connect(o, "A")
	b := connect(o, "B")

	require.NoError(t, o.Join(ctx, a.id, a.user, "room1"))
	msgs := a.conn.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "room_joined", msgs[0]["type"])
	assert.Empty(t, msgs[0]["participants"])

	require.NoError(t, o.Join(ctx, b.id, b.user, "room1"))
	msgs = a.conn.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user_joined", msgs[0]["type"])
	assert.Equal(t, "B", msgs[0]["user_id"])
	msgs = b.conn.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "room_joined", msgs[0]["type"])
	parts := msgs[0]["participants"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "A", parts[0].(map[string]any)["user_id"])

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, o.Signal(a.id, app.Envelope{Kind: app.KindOffer, Room: "room1", Sender: "A", Target: "B", Payload: offer}))
	msgs = b.conn.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "webrtc_offer", msgs[0]["type"])
	assert.Equal(t, "A", msgs[0]["caller_user_id"])
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0"}, msgs[0]["offer"])

	err := o.Signal(a.id, app.Envelope{Kind: app.KindICECandidate, Room: "room1", Sender: "A", Target: "C", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Empty(t, a.conn.drain(), "error notice is the adapter's job")

	assert.True(t, o.Leave(b.id, "room1", "B"))
	msgs = a.conn.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user_left", msgs[0]["type"])
	assert.Equal(t, "B", msgs[0]["user_id"])
	assert.Equal(t, "left", msgs[0]["reason"])
	assert.Equal(t, map[domain.RoomID]int{"room1": 1}, o.Rooms.AllRooms())

	assert.False(t, o.Leave(b.id, "room1", "B"), "second leave is a no-op")
	assert.Empty(t, a.conn.drain(), "no duplicate notification")

	assert.True(t, o.Leave(a.id, "room1", "A"))
	assert.Empty(t, o.Rooms.AllRooms())
	assert.Empty(t, o.Registry.Memberships(a.id))
}

func TestReconnectSupersedes(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	peer := connect(o, "P")
	old := connect(o, "U")
	fresh := connect(o, "U")

	require.NoError(t, o.Join(ctx, peer.id, peer.user, "room1"))
	require.NoError(t, o.Join(ctx, old.id, old.user, "room1"))
	peer.conn.drain()
	old.conn.drain()

	require.NoError(t, o.Join(ctx, fresh.id, fresh.user, "room1"))

	assert.Equal(t, []string{"user_left", "user_joined"}, types(peer.conn.drain()))
	oldMsgs := old.conn.drain()
	require.Len(t, oldMsgs, 1)
	assert.Equal(t, "reconnected", oldMsgs[0]["reason"])

	snap := o.Rooms.Snapshot("room1")
	require.Len(t, snap, 2)
	assert.Equal(t, fresh.id, snap[1].ConnID)
	assert.Empty(t, o.Registry.Memberships(old.id))

	// The stale connection closing must not remove the fresh session.
	o.Disconnect(old.id)
	assert.Len(t, o.Rooms.Snapshot("room1"), 2)
	assert.Empty(t, peer.conn.drain())
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	u := connect(o, "U")
	p1 := connect(o, "P1")
	p2 := connect(o, "P2")
	require.NoError(t, o.Join(ctx, p1.id, p1.user, "room1"))
	require.NoError(t, o.Join(ctx, p2.id, p2.user, "room2"))
	require.NoError(t, o.Join(ctx, u.id, u.user, "room1"))
	require.NoError(t, o.Join(ctx, u.id, u.user, "room2"))
	p1.conn.drain()
	p2.conn.drain()

	o.Disconnect(u.id)
	for _, p := range []*client{p1, p2} {
		msgs := p.conn.drain()
		require.Len(t, msgs, 1)
		assert.Equal(t, "user_left", msgs[0]["type"])
		assert.Equal(t, "disconnected", msgs[0]["reason"])
	}
	assert.Equal(t, map[domain.RoomID]int{"room1": 1, "room2": 1}, o.Rooms.AllRooms())
	assert.Equal(t, 2, o.Registry.Len())
}

func TestUnauthorizedJoinCreatesNothing(t *testing.T) {
	o := newOrch(denyRoom{room: "secret"})
	u := connect(o, "U")
	err := o.Join(context.Background(), u.id, u.user, "secret")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, errDenied)
	assert.Empty(t, o.Rooms.AllRooms())
	assert.Empty(t, o.Registry.Memberships(u.id))
	assert.Empty(t, u.conn.drain())

	assert.ErrorIs(t, o.Join(context.Background(), u.id, u.user, ""), ErrRoomEmpty)
	assert.ErrorIs(t, o.Join(context.Background(), "ghost", u.user, "open"), ErrUnknownConn)
	assert.Empty(t, o.Rooms.AllRooms())
}

type failingAuth struct{}

func (failingAuth) Authorize(context.Context, domain.User, domain.RoomID) error {
	return errors.New("enrollment lookup failed")
}

func TestFailedAccessCheckIsNotARefusal(t *testing.T) {
	o := newOrch(failingAuth{})
	u := connect(o, "U")
	err := o.Join(context.Background(), u.id, u.user, "room1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, o.Rooms.AllRooms())
	assert.Empty(t, u.conn.drain())
}

func TestSignalRequiresBoundSender(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	a := connect(o, "A")
	b := connect(o, "B")
	require.NoError(t, o.Join(ctx, a.id, a.user, "room1"))
	require.NoError(t, o.Join(ctx, b.id, b.user, "room1"))

	env := app.Envelope{Kind: app.KindAnswer, Room: "room1", Sender: "A", Target: "B", Payload: json.RawMessage(`{}`)}
	assert.ErrorIs(t, o.Signal(b.id, env), ErrNotInRoom, "B cannot speak as A")
	env.Room = "room2"
	assert.ErrorIs(t, o.Signal(a.id, env), ErrNotInRoom)
	assert.Error(t, o.Signal(a.id, app.Envelope{Kind: app.KindScreenShare, Room: "room1", Sender: "A"}))
}

func TestScreenShare(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	a := connect(o, "A")
	b := connect(o, "B")
	require.NoError(t, o.Join(ctx, a.id, a.user, "room1"))
	require.NoError(t, o.Join(ctx, b.id, b.user, "room1"))
	a.conn.drain()
	b.conn.drain()

	require.NoError(t, o.ScreenShare(a.id, "room1", "A", true))
	msgs := b.conn.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"type": "screen_share_status", "room_name": "room1", "user_id": "A", "is_sharing": true}, msgs[0])
	assert.Empty(t, a.conn.drain())
	p, _ := o.Rooms.Participant("room1", "A")
	assert.True(t, p.ScreenSharing)

	assert.ErrorIs(t, o.ScreenShare(b.id, "room1", "A", false), ErrNotInRoom)
}

func TestEvictInactive(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	a := connect(o, "A")
	b := connect(o, "B")
	require.NoError(t, o.Join(ctx, a.id, a.user, "room1"))
	require.NoError(t, o.Join(ctx, b.id, b.user, "room1"))
	a.conn.drain()
	b.conn.drain()

	rec := app.NewReconciler(o.Rooms, o.Registry, o, time.Hour, time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	res := rec.Sweep()
	assert.Equal(t, 2, res.Evicted)
	assert.Empty(t, o.Rooms.AllRooms())

	aMsgs := a.conn.drain()
	bMsgs := b.conn.drain()
	reasons := map[string]bool{}
	for _, m := range append(aMsgs, bMsgs...) {
		assert.Equal(t, "user_left", m["type"])
		reasons[m["reason"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"inactive": true}, reasons)
}

func TestEvictSkipsRecentActivity(t *testing.T) {
	o := newOrch(nil)
	a := connect(o, "A")
	require.NoError(t, o.Join(context.Background(), a.id, a.user, "room1"))
	p, _ := o.Rooms.Participant("room1", "A")

	cand := app.StaleMember{Room: "room1", User: "A", Conn: a.id, LastActivity: p.LastActivity}
	assert.False(t, o.EvictInactive(cand, p.LastActivity.Add(-time.Second)), "activity after cutoff")
	cand.Conn = "other"
	assert.False(t, o.EvictInactive(cand, time.Now().Add(time.Hour)), "superseded connection")
	cand.Conn = a.id
	assert.True(t, o.EvictInactive(cand, time.Now().Add(time.Hour)))
	assert.False(t, o.EvictInactive(cand, time.Now().Add(time.Hour)))
}

func TestRoomJoinedCarriesICEServers(t *testing.T) {
	o := newOrch(nil)
	o.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}
	a := connect(o, "A")
	require.NoError(t, o.Join(context.Background(), a.id, a.user, "room1"))
	msgs := a.conn.drain()
	require.Len(t, msgs, 1)
	servers := msgs[0]["ice_servers"].([]any)
	require.Len(t, servers, 1)
	assert.Equal(t, []any{"stun:stun.example.org:3478"}, servers[0].(map[string]any)["urls"])
}

func TestJoinSameConnDifferentUserWithdrawsPrevious(t *testing.T) {
	o := newOrch(nil)
	ctx := context.Background()
	peer := connect(o, "P")
	c := connect(o, "X")
	require.NoError(t, o.Join(ctx, peer.id, peer.user, "room1"))
	require.NoError(t, o.Join(ctx, c.id, c.user, "room1"))
	require.NoError(t, o.Join(ctx, c.id, domain.User{ID: "Y", Username: "Y"}, "room1"))

	ids := []domain.UserID{}
	for _, p := range o.Rooms.Snapshot("room1") {
		ids = append(ids, p.UserID)
	}
	assert.Equal(t, []domain.UserID{"P", "Y"}, ids)
}
