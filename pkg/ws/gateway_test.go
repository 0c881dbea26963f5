package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pairchat/pkg/auth"
	"pairchat/pkg/chat"
	"pairchat/pkg/events"
	"pairchat/pkg/models"
	"pairchat/pkg/store"
)

func newTestServer(t *testing.T) (*chat.Service, *httptest.Server) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := chat.NewService(events.NewHub(), events.NewPresence(), events.NewTypingTracker(), nil)
	r := mux.NewRouter()
	gw := NewGateway(svc, []string{"*"})
	sub := r.NewRoute().Subrouter()
	sub.Use(auth.RequireUser(auth.SecConfig{}))
	gw.RegisterRoutes(sub)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	hdr := http.Header{"X-User-ID": []string{uid}}
	c, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial as %s: %v", uid, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) models.Event {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := c.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// waitFor reads events until one matches, skipping unrelated traffic such
// as the caller's own presence broadcast.
func waitFor(t *testing.T, c *websocket.Conn, match func(models.Event) bool) models.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, c)
		if match(ev) {
			return ev
		}
	}
	t.Fatalf("never received the expected event")
	return models.Event{}
}

func isKind(kind string) func(models.Event) bool {
	return func(ev models.Event) bool { return ev.Kind == kind }
}

func TestWSRejectsMissingIdentity(t *testing.T) {
	_, srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial without identity should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestWSDeliversNewMessages(t *testing.T) {
	svc, srv := newTestServer(t)
	bob := dial(t, srv, "bob")
	waitConnected(t, svc, "bob")

	sent, err := svc.SendMessage(context.Background(), chat.SendRequest{Sender: "alice", Receiver: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != models.StatusDelivered {
		t.Fatalf("receiver online, status = %s", sent.Status)
	}

	ev := waitFor(t, bob, isKind(models.EventMessageNew))
	if ev.Message == nil || ev.Message.ID != sent.ID {
		t.Fatalf("wrong message event: %+v", ev)
	}
}

func TestWSTypingFrames(t *testing.T) {
	svc, srv := newTestServer(t)
	m, err := svc.SendMessage(context.Background(), chat.SendRequest{Sender: "alice", Receiver: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitConnected(t, svc, "alice")
	waitConnected(t, svc, "bob")

	if err := alice.WriteJSON(Frame{Type: "typing_start", Conversation: m.Conversation}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	ev := waitFor(t, bob, isKind(models.EventTyping))
	if ev.Typing == nil || ev.Typing.User != "alice" || !ev.Typing.Typing {
		t.Fatalf("typing event = %+v", ev)
	}

	if err := alice.WriteJSON(Frame{Type: "typing_stop", Conversation: m.Conversation}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	ev = waitFor(t, bob, isKind(models.EventTyping))
	if ev.Typing.Typing {
		t.Fatalf("expected stop, got %+v", ev)
	}
}

func TestWSMarkReadFrame(t *testing.T) {
	svc, srv := newTestServer(t)
	alice := dial(t, srv, "alice")
	waitConnected(t, svc, "alice")

	m, err := svc.SendMessage(context.Background(), chat.SendRequest{Sender: "alice", Receiver: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, alice, isKind(models.EventMessageNew))

	bob := dial(t, srv, "bob")
	waitConnected(t, svc, "bob")
	// bob's connect sweep flips sent -> delivered first
	ev := waitFor(t, alice, isKind(models.EventMessageStatus))
	if ev.Status.Status != models.StatusDelivered {
		t.Fatalf("expected delivered tick, got %+v", ev)
	}

	if err := bob.WriteJSON(Frame{Type: "mark_read", Conversation: m.Conversation, MessageIDs: []string{m.ID}}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	ev = waitFor(t, alice, isKind(models.EventMessageStatus))
	if ev.Status.MessageID != m.ID || ev.Status.Status != models.StatusRead {
		t.Fatalf("expected read tick, got %+v", ev)
	}
}

func TestWSGetUserStatus(t *testing.T) {
	svc, srv := newTestServer(t)
	alice := dial(t, srv, "alice")
	waitConnected(t, svc, "alice")

	if err := alice.WriteJSON(Frame{Type: "get_user_status", User: "bob"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	ev := waitFor(t, alice, func(ev models.Event) bool {
		return ev.Kind == models.EventPresence && ev.Presence.User == "bob"
	})
	if ev.Presence.Online {
		t.Fatalf("expected offline bob, got %+v", ev)
	}
}

func TestWSDisconnectGoesOffline(t *testing.T) {
	svc, srv := newTestServer(t)
	alice := dial(t, srv, "alice")
	waitConnected(t, svc, "alice")

	bob := dial(t, srv, "bob")
	waitConnected(t, svc, "bob")
	waitFor(t, alice, func(ev models.Event) bool {
		return ev.Kind == models.EventPresence && ev.Presence.User == "bob" && ev.Presence.Online
	})

	_ = bob.Close()
	ev := waitFor(t, alice, func(ev models.Event) bool {
		return ev.Kind == models.EventPresence && ev.Presence.User == "bob" && !ev.Presence.Online
	})
	if ev.Presence.LastSeen == 0 {
		t.Fatalf("offline transition missing last_seen: %+v", ev)
	}
}

func waitConnected(t *testing.T, svc *chat.Service, uid string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Hub.Connected(uid) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never registered on the hub", uid)
}
