package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"emberchat/internal/protocol"
)

var hubTestUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newHubClient builds a Client over a real websocket pair so cleanup can close
// the connection.
func newHubClient(t *testing.T, h *Hub, userID, username string, buffer int) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := hubTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Hold the server side open until the test finishes.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	return &Client{
		Hub:      h,
		Conn:     ws,
		Send:     make(chan []byte, buffer),
		UserID:   userID,
		Username: username,
	}
}

func register(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	select {
	case h.Register <- c:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept registration")
	}
}

func decodeFrame(t *testing.T, c *Client) protocol.Event {
	t.Helper()
	select {
	case data := <-c.Send:
		evt, err := protocol.DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent() error = %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestHub_BroadcastReachesRoomMembersOnly(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer close(h.Quit)

	alice := newHubClient(t, h, "u-1", "alice", 4)
	bob := newHubClient(t, h, "u-2", "bob", 4)
	carol := newHubClient(t, h, "u-3", "carol", 4)
	register(t, h, alice)
	register(t, h, bob)
	register(t, h, carol)

	h.JoinRoom("room-1", alice)
	h.JoinRoom("room-1", bob)
	h.JoinRoom("room-2", carol)

	h.BroadcastToRoom("room-1", protocol.UserJoinedEvent{RoomID: "room-1", UserID: "u-9", Username: "dave"})

	for _, c := range []*Client{alice, bob} {
		evt := decodeFrame(t, c)
		if evt.EventKind() != protocol.EvtUserJoined {
			t.Errorf("%s got %v, want UserJoined", c.Username, evt.EventKind())
		}
	}
	select {
	case <-carol.Send:
		t.Error("carol received a frame for a room she is not in")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_LeaveRoomStopsDelivery(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer close(h.Quit)

	alice := newHubClient(t, h, "u-1", "alice", 4)
	register(t, h, alice)
	h.JoinRoom("room-1", alice)
	h.LeaveRoom("room-1", alice)

	h.BroadcastToRoom("room-1", protocol.RoomLeftEvent{RoomID: "room-1"})

	select {
	case <-alice.Send:
		t.Error("alice received a frame after leaving the room")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SendTo(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer close(h.Quit)

	alice := newHubClient(t, h, "u-1", "alice", 4)
	register(t, h, alice)

	h.SendTo(alice, protocol.ErrorEvent{Message: "room not found"})

	evt := decodeFrame(t, alice)
	errEvt, ok := evt.(protocol.ErrorEvent)
	if !ok || errEvt.Message != "room not found" {
		t.Errorf("got %+v, want ErrorEvent room not found", evt)
	}
}

func TestHub_SecondLoginDisplacesFirst(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer close(h.Quit)

	first := newHubClient(t, h, "u-1", "alice", 4)
	second := newHubClient(t, h, "u-1", "alice", 4)
	register(t, h, first)
	h.JoinRoom("room-1", first)
	register(t, h, second)

	// The displaced session's Send channel is closed by cleanup.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-first.Send:
			if !open {
				goto displaced
			}
		case <-deadline:
			t.Fatal("first session was never cleaned up")
		}
	}
displaced:

	h.JoinRoom("room-1", second)
	h.BroadcastToRoom("room-1", protocol.RoomLeftEvent{RoomID: "room-1"})
	evt := decodeFrame(t, second)
	if evt.EventKind() != protocol.EvtRoomLeft {
		t.Errorf("second session got %v, want RoomLeft", evt.EventKind())
	}
}

func TestHub_SlowConsumerIsEvicted(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer close(h.Quit)

	slow := newHubClient(t, h, "u-1", "alice", 1)
	register(t, h, slow)
	h.JoinRoom("room-1", slow)

	// First frame fills the buffer, second overflows and triggers eviction.
	h.BroadcastToRoom("room-1", protocol.RoomLeftEvent{RoomID: "room-1"})
	h.BroadcastToRoom("room-1", protocol.RoomLeftEvent{RoomID: "room-1"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-slow.Send:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("slow consumer was never evicted")
		}
	}
}
