package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Confer/internal/adapters/rtc"
	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/app/orch"
	"github.com/dkeye/Confer/internal/auth"
	"github.com/dkeye/Confer/internal/config"
	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/dkeye/Confer/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func setup(t *testing.T, authMode string) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	reg := app.NewRegistry()
	rooms := app.NewRoomManager()
	o := orch.New(reg, rooms, app.SimplePolicy{Action: app.DropFrame}, nil)
	h := &app.Health{Rooms: rooms, Conns: reg}

	cfg := &config.Config{Mode: "debug", Secret: "test", SessionName: "session"}
	cfg.Auth.Mode = authMode
	ctx, cancel := context.WithCancel(context.Background())
	r := SetupRouter(ctx, cfg, Deps{Orch: o, Health: h, RTC: rtc.DefaultWebRTCConfig()})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return srv, o
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestHealthAndDebug(t *testing.T) {
	srv, o := setup(t, "open")

	a := o.Connect(nopConn{})
	require.NoError(t, o.Join(context.Background(), a, domain.User{ID: "A", Username: "Ann"}, "room1"))

	var rep core.HealthReport
	resp := getJSON(t, srv.URL+"/health", &rep)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, 1, rep.ActiveRooms)
	assert.Equal(t, 1, rep.Participants)
	assert.Equal(t, 1, rep.TotalConnections)

	var snap core.DebugSnapshot
	getJSON(t, srv.URL+"/debug/rooms", &snap)
	require.Len(t, snap.Rooms, 1)
	assert.Equal(t, domain.RoomID("room1"), snap.Rooms[0].Name)
	require.Len(t, snap.Rooms[0].Participants, 1)
	assert.Equal(t, a, snap.Rooms[0].Participants[0].ConnID)
	require.Len(t, snap.Connections, 1)

	// Introspection must not touch presence.
	p, _ := o.Rooms.Participant("room1", "A")
	getJSON(t, srv.URL+"/health", &rep)
	p2, _ := o.Rooms.Participant("room1", "A")
	assert.Equal(t, p.LastActivity, p2.LastActivity)
}

func TestRTCConfig(t *testing.T) {
	srv, _ := setup(t, "open")
	var cc rtc.ClientConfig
	getJSON(t, srv.URL+"/api/rtc/config", &cc)
	require.Len(t, cc.ICEServers, 1)
	assert.Equal(t, "all", cc.ICETransportPolicy)
}

func TestRequestIDPassthrough(t *testing.T) {
	srv, _ := setup(t, "open")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set(requestIDHeader, "abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc", resp.Header.Get(requestIDHeader))
}

func TestSessionLoginThenSignal(t *testing.T) {
	srv, _ := setup(t, "session")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	login, err := http.Post(srv.URL+"/api/dev/login", "application/json",
		strings.NewReader(`{"user_id":"A","username":"Ann","role":"student"}`))
	require.NoError(t, err)
	login.Body.Close()
	require.Equal(t, http.StatusOK, login.StatusCode)

	header := http.Header{}
	for _, ck := range login.Cookies() {
		header.Add("Cookie", ck.Name+"="+ck.Value)
	}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "join_room", "room_name": "room1", "user_id": "A"}))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, "room_joined", m["type"])
	assert.Equal(t, "A", m["user_id"])
}

func loginCookie(t *testing.T, srv *httptest.Server, body string) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/dev/login", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var parts []string
	for _, ck := range resp.Cookies() {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

func TestConferenceLookup(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.SaveLesson(context.Background(), storage.Lesson{
		Title: "English", Teacher: "admin", Schedule: "2026-01-02T10:00:00", Students: []string{"student1"},
	})
	require.NoError(t, err)

	reg := app.NewRegistry()
	rooms := app.NewRoomManager()
	policy := &auth.RoomPolicy{Store: store}
	o := orch.New(reg, rooms, app.SimplePolicy{Action: app.DropFrame}, policy)
	cfg := &config.Config{Mode: "debug", Secret: "test", SessionName: "session"}
	cfg.Auth.Mode = "session"
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, Deps{
		Orch:    o,
		Health:  &app.Health{Rooms: rooms, Conns: reg},
		RTC:     rtc.DefaultWebRTCConfig(),
		Rooms:   policy,
		Lessons: store,
	}))
	t.Cleanup(srv.Close)

	get := func(cookie string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/conference/admin", nil)
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := get("")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(loginCookie(t, srv, `{"user_id":"student9","role":"student"}`))
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = get(loginCookie(t, srv, `{"user_id":"student1","role":"student"}`))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		RoomName string           `json:"room_name"`
		Lessons  []storage.Lesson `json:"lessons"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ZindakiRoom_admin", body.RoomName)
	require.Len(t, body.Lessons, 1)
	assert.Equal(t, "English", body.Lessons[0].Title)
	assert.Equal(t, []string{"student1"}, body.Lessons[0].Students)
}
