package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echoes/backend/internal/events"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	"github.com/zhouzirui/echoes/backend/internal/model/session"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	"github.com/zhouzirui/echoes/backend/internal/service/media"
	sessionService "github.com/zhouzirui/echoes/backend/internal/service/session"
)

type frame struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Notice string          `json:"notice"`
}

func setup(t *testing.T, capture media.Capture) (*httptest.Server, *sessionService.Manager, *scheduler.Manual) {
	t.Helper()
	clock := scheduler.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewMemoryBus()
	mgr := sessionService.NewManager(sessionService.ManagerOptions{
		Profiles:  profile.NewMemoryStore(profile.Seed()),
		Scheduler: clock,
		Capture:   capture,
		Events:    bus,
	})

	r := chi.NewRouter()
	r.Route("/sessions/{sessionID}", New(mgr, bus).RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		mgr.Stop(context.Background())
		_ = bus.Close()
	})
	return srv, mgr, clock
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sessionID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := read(t, conn); match(f) {
			return f
		}
	}
	t.Fatal("no matching frame")
	return frame{}
}

func event(t *testing.T, f frame) session.Event {
	t.Helper()
	var e session.Event
	require.NoError(t, json.Unmarshal(f.Data, &e))
	return e
}

func TestWebSocketConversation(t *testing.T) {
	srv, mgr, clock := setup(t, nil)
	ctrl, err := mgr.CreateSession(context.Background(), sessionService.CreateRequest{ProfileID: "sarah", Variant: session.Chat})
	require.NoError(t, err)

	conn := dial(t, srv, ctrl.ID())
	first := read(t, conn)
	require.Equal(t, "snapshot", first.Type)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, session.Active, snap.State)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "text", Text: "Hello Grandma"}))
	userMsg := readUntil(t, conn, func(f frame) bool { return f.Type == "event" })
	e := event(t, userMsg)
	require.Equal(t, session.EventMessage, e.Type)
	assert.Equal(t, session.User, e.Message.Sender)
	assert.Equal(t, "Hello Grandma", e.Message.Text)

	clock.Advance(2 * time.Second)
	reply := readUntil(t, conn, func(f frame) bool {
		return f.Type == "event" && event(t, f).Type == session.EventMessage
	})
	assert.Equal(t, session.Remote, event(t, reply).Message.Sender)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "text", Text: "   "}))
	bad := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "message text must not be empty", bad.Error)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "end"}))
	ended := readUntil(t, conn, func(f frame) bool {
		return f.Type == "event" && event(t, f).Type == session.EventState
	})
	assert.Equal(t, session.Ended, event(t, ended).State)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketControls(t *testing.T) {
	srv, mgr, clock := setup(t, nil)
	ctrl, err := mgr.CreateSession(context.Background(), sessionService.CreateRequest{ProfileID: "robert"})
	require.NoError(t, err)

	conn := dial(t, srv, ctrl.ID())
	require.Equal(t, "snapshot", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "mute"}))
	notActive := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, sessionService.ErrNotActive.Error(), notActive.Error)

	clock.Advance(2 * time.Second)
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "mute"}))
	controls := readUntil(t, conn, func(f frame) bool {
		return f.Type == "event" && event(t, f).Type == session.EventControls
	})
	assert.True(t, event(t, controls).Muted)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "dance"}))
	unknown := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "unsupported message type: dance", unknown.Error)
}

func TestWebSocketRecordingDenied(t *testing.T) {
	srv, mgr, _ := setup(t, media.DeniedCapture{Notice: "mic blocked"})
	ctrl, err := mgr.CreateSession(context.Background(), sessionService.CreateRequest{ProfileID: "sarah", Variant: session.Chat})
	require.NoError(t, err)

	conn := dial(t, srv, ctrl.ID())
	require.Equal(t, "snapshot", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "record", Action: "start"}))
	denied := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "mic blocked", denied.Notice)
	assert.False(t, ctrl.Snapshot().Recording)
}

func TestWebSocketRecordingRoundTrip(t *testing.T) {
	srv, mgr, clock := setup(t, nil)
	ctrl, err := mgr.CreateSession(context.Background(), sessionService.CreateRequest{ProfileID: "sarah", Variant: session.Chat})
	require.NoError(t, err)

	conn := dial(t, srv, ctrl.ID())
	require.Equal(t, "snapshot", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "record", Action: "start"}))
	readUntil(t, conn, func(f frame) bool {
		return f.Type == "event" && event(t, f).Type == session.EventRecording && event(t, f).Recording
	})
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "audio", Data: []byte{1, 2, 3}}))
	clock.Advance(time.Second)
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "record", Action: "stop"}))

	voice := readUntil(t, conn, func(f frame) bool {
		if f.Type != "event" {
			return false
		}
		e := event(t, f)
		return e.Type == session.EventMessage && e.Message.Sender == session.User
	})
	assert.True(t, event(t, voice).Message.IsVoice)
}

func TestWebSocketUnknownSession(t *testing.T) {
	srv, _, _ := setup(t, nil)
	resp, err := http.Get(srv.URL + "/sessions/missing/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
