package tests

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"pairchat/pkg/api"
	"pairchat/pkg/auth"
	"pairchat/pkg/chat"
	"pairchat/pkg/events"
	"pairchat/pkg/media"
	"pairchat/pkg/store"
)

const backendKey = "it-backend-key"

// newServer boots the full HTTP surface against a throwaway store and
// returns it with the underlying service for direct assertions.
func newServer(t *testing.T) (*chat.Service, *httptest.Server) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	disk, err := media.NewDisk(t.TempDir(), "/media", 1<<20)
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	svc := chat.NewService(events.NewHub(), events.NewPresence(), events.NewTypingTracker(), disk)

	handler := api.NewRouter(api.RouterOptions{
		Service: svc,
		Media:   disk,
		Sec: auth.SecConfig{
			RPS:         1000,
			Burst:       1000,
			BackendKeys: map[string]struct{}{backendKey: {}},
		},
	})

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen tcp4: %v", err)
	}
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return svc, srv
}

// dialWS opens the live event stream for a user.
func dialWS(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	hdr := http.Header{
		"X-API-Key": []string{backendKey},
		"X-User-ID": []string{uid},
	}
	c, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial ws as %s: %v", uid, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
