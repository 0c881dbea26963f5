package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"pairchat/pkg/auth"
	"pairchat/pkg/chat"
	"pairchat/pkg/events"
	"pairchat/pkg/media"
	"pairchat/pkg/models"
	"pairchat/pkg/store"
)

const backendKey = "test-backend-key"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	disk, err := media.NewDisk(t.TempDir(), "/media", 1<<20)
	if err != nil {
		t.Fatalf("media dir: %v", err)
	}
	svc := chat.NewService(events.NewHub(), events.NewPresence(), events.NewTypingTracker(), disk)
	return NewRouter(RouterOptions{
		Service: svc,
		Media:   disk,
		Sec: auth.SecConfig{
			RPS:         1000,
			Burst:       1000,
			BackendKeys: map[string]struct{}{backendKey: {}},
		},
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("X-API-Key", backendKey)
	if uid != "" {
		req.Header.Set("X-User-ID", uid)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func sendMsg(t *testing.T, h http.Handler, sender, receiver, content string) models.Message {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/v1/chats/messages", sender, map[string]string{
		"receiver": receiver, "content": content,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("send: status %d body %s", rr.Code, rr.Body.String())
	}
	var m models.Message
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return m
}

func TestSendAndFetchFlow(t *testing.T) {
	h := newTestRouter(t)

	m := sendMsg(t, h, "alice", "bob", "hello bob")
	if m.Status != models.StatusSent {
		t.Fatalf("offline receiver should yield sent, got %s", m.Status)
	}

	rr := doJSON(t, h, http.MethodGet, "/v1/chats/conversations", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list conversations: %d", rr.Code)
	}
	var convs []models.Conversation
	if err := json.Unmarshal(rr.Body.Bytes(), &convs); err != nil {
		t.Fatalf("decode conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != m.Conversation {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.ID != m.ID {
		t.Fatalf("preview missing")
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/chats/conversations/"+m.Conversation+"/messages", "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list messages: %d", rr.Code)
	}
	var msgs []models.Message
	_ = json.Unmarshal(rr.Body.Bytes(), &msgs)
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Fatalf("messages = %+v", msgs)
	}

	// outsider is rejected
	rr = doJSON(t, h, http.MethodGet, "/v1/chats/conversations/"+m.Conversation+"/messages", "mallory", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("outsider read: %d", rr.Code)
	}
}

func TestSendValidationErrors(t *testing.T) {
	h := newTestRouter(t)

	rr := doJSON(t, h, http.MethodPost, "/v1/chats/messages", "alice", map[string]string{
		"receiver": "alice", "content": "hi",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("self message: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/chats/messages", "alice", map[string]string{
		"receiver": "bob", "content": "   ",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank message: %d", rr.Code)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	h := newTestRouter(t)
	m := sendMsg(t, h, "alice", "bob", "hello")

	rr := doJSON(t, h, http.MethodPut, "/v1/chats/messages/read", "bob", map[string]interface{}{
		"conversation": m.Conversation,
		"message_ids":  []string{m.ID},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("mark read: %d %s", rr.Code, rr.Body.String())
	}
	var out map[string]int
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out["updated"] != 1 {
		t.Fatalf("updated = %d", out["updated"])
	}

	// repeat is idempotent
	rr = doJSON(t, h, http.MethodPut, "/v1/chats/messages/read", "bob", map[string]interface{}{
		"conversation": m.Conversation,
		"message_ids":  []string{m.ID},
	})
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if rr.Code != http.StatusOK || out["updated"] != 0 {
		t.Fatalf("re-read: %d updated=%d", rr.Code, out["updated"])
	}
}

func TestReactionEndpoints(t *testing.T) {
	h := newTestRouter(t)
	m := sendMsg(t, h, "alice", "bob", "hello")

	rr := doJSON(t, h, http.MethodPost, "/v1/chats/messages/"+m.ID+"/reactions", "bob", map[string]string{"emoji": "👍"})
	if rr.Code != http.StatusOK {
		t.Fatalf("add reaction: %d %s", rr.Code, rr.Body.String())
	}
	var got models.Message
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "👍" {
		t.Fatalf("reactions = %+v", got.Reactions)
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/chats/messages/"+m.ID+"/reactions", "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove reaction: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/chats/messages/"+m.ID+"/reactions", "mallory", map[string]string{"emoji": "👀"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("outsider reaction: %d", rr.Code)
	}
}

func TestEditAndDeleteEndpoints(t *testing.T) {
	h := newTestRouter(t)
	m := sendMsg(t, h, "alice", "bob", "helo")

	rr := doJSON(t, h, http.MethodPatch, "/v1/chats/messages/"+m.ID, "bob", map[string]string{"content": "hijack"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("receiver edit: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPatch, "/v1/chats/messages/"+m.ID, "alice", map[string]string{"content": "hello"})
	if rr.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rr.Code, rr.Body.String())
	}
	var got models.Message
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Content != "hello" || !got.Edited {
		t.Fatalf("edit not applied: %+v", got)
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/chats/messages/"+m.ID, "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodDelete, "/v1/chats/messages/"+m.ID, "alice", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete: %d", rr.Code)
	}
}

func TestUserStatusEndpoint(t *testing.T) {
	h := newTestRouter(t)
	rr := doJSON(t, h, http.MethodGet, "/v1/chats/users/bob/status", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	var st models.PresenceChange
	_ = json.Unmarshal(rr.Body.Bytes(), &st)
	if st.User != "bob" || st.Online {
		t.Fatalf("status = %+v", st)
	}
}

func TestMediaUpload(t *testing.T) {
	h := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "cat.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fmt.Fprint(fw, "not really a png")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/media", &buf)
	req.Header.Set("X-API-Key", backendKey)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rr.Code, rr.Body.String())
	}
	var out map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out["url"] == "" || out["content_type"] != string(models.ContentImage) {
		t.Fatalf("upload response = %+v", out)
	}
}

func TestSendMessageMultipart(t *testing.T) {
	h := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("receiver", "bob")
	_ = mw.WriteField("content", "look at this")
	_ = mw.WriteField("client_id", "temp-1")
	fw, err := mw.CreateFormFile("file", "clip.mp4")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fmt.Fprint(fw, "not really a video")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/messages", &buf)
	req.Header.Set("X-API-Key", backendKey)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("multipart send: %d %s", rr.Code, rr.Body.String())
	}
	var m models.Message
	_ = json.Unmarshal(rr.Body.Bytes(), &m)
	if m.MediaURL == "" || m.ContentType != models.ContentVideo {
		t.Fatalf("multipart message = %+v", m)
	}
	if m.ClientID != "temp-1" || m.Content != "look at this" {
		t.Fatalf("multipart fields = %+v", m)
	}
}

func TestSystemEndpoints(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz without key: %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rr.Code)
	}

	// API requires a key
	req = httptest.NewRequest(http.MethodGet, "/v1/chats/conversations", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key: %d", rr.Code)
	}

	// and an identity
	req = httptest.NewRequest(http.MethodGet, "/v1/chats/conversations", nil)
	req.Header.Set("X-API-Key", backendKey)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no identity: %d", rr.Code)
	}
}
