package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

type fakeHub struct {
	join  chan world.ObserverJoinRequest
	leave chan string
}

func newFakeHub() *fakeHub {
	return &fakeHub{join: make(chan world.ObserverJoinRequest, 4), leave: make(chan string, 4)}
}

func (h *fakeHub) ObserverJoin() chan<- world.ObserverJoinRequest { return h.join }
func (h *fakeHub) ObserverLeave() chan<- string                   { return h.leave }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func awaitJoin(t *testing.T, hub *fakeHub) world.ObserverJoinRequest {
	t.Helper()
	select {
	case req := <-hub.join:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("no observer join")
	}
	return world.ObserverJoinRequest{}
}

func TestServer_PushesSnapshotsAndLeaves(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(NewServer(hub, nil, nil, 4).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	req := awaitJoin(t, hub)

	for i := 1; i <= 3; i++ {
		req.Out <- []byte(`{"type":"SNAPSHOT","tick":` + string(rune('0'+i)) + `}`)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m struct {
			Type string `json:"type"`
			Tick int    `json:"tick"`
		}
		if err := json.Unmarshal(msg, &m); err != nil || m.Type != "SNAPSHOT" || m.Tick != i {
			t.Fatalf("message %d: %s (%v)", i, msg, err)
		}
	}

	_ = conn.Close()
	select {
	case id := <-hub.leave:
		if id != req.SessionID {
			t.Fatalf("leave id=%q want %q", id, req.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect did not trigger observer leave")
	}
}

func TestServer_ClosedStreamClosesSocket(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(NewServer(hub, nil, nil, 4).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	req := awaitJoin(t, hub)
	close(req.Out)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestServer_ControlOverSocket(t *testing.T) {
	hub := newFakeHub()
	control := func(_ context.Context, raw []byte, requestID string) (int, any) {
		req, err := protocol.ValidateControl(raw)
		if err != nil {
			return http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, err.Error(), requestID)
		}
		return http.StatusOK, protocol.NewControlResponse(requestID, req.District, req.Action, 12)
	}
	srv := httptest.NewServer(NewServer(hub, control, nil, 4).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	awaitJoin(t, hub)

	read := func() map[string]any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CONTROL","district":"Uptown","action":"EMERGENCY_ROUTE"}`))
	if m := read(); m["type"] != protocol.TypeControlResult || m["message"] != "EMERGENCY_ROUTE applied to Uptown" {
		t.Fatalf("unexpected reply: %v", m)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CONTROL","district":"Uptown"}`))
	if m := read(); m["type"] != protocol.TypeError || m["code"] != protocol.ErrBadRequest {
		t.Fatalf("unexpected reply: %v", m)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`))
	if m := read(); m["code"] != protocol.ErrProtoBadRequest {
		t.Fatalf("unexpected reply: %v", m)
	}
}

func TestServer_BusyHub(t *testing.T) {
	hub := &fakeHub{join: make(chan world.ObserverJoinRequest), leave: make(chan string, 1)}
	srv := httptest.NewServer(NewServer(hub, nil, nil, 4).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
}
