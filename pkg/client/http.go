package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pairchat/pkg/models"
)

// HTTPTransport implements Transport against the REST API. Signature is
// optional and only needed when the API key is a frontend key.
type HTTPTransport struct {
	BaseURL   string
	APIKey    string
	User      string
	Signature string
	Client    *http.Client
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(t.BaseURL, "/")+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", t.APIKey)
	req.Header.Set("X-User-ID", t.User)
	if t.Signature != "" {
		req.Header.Set("X-User-Signature", t.Signature)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := t.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *HTTPTransport) Send(ctx context.Context, receiver, content, clientID string) (models.Message, error) {
	var m models.Message
	err := t.do(ctx, http.MethodPost, "/v1/chats/messages", map[string]string{
		"receiver":  receiver,
		"content":   content,
		"client_id": clientID,
	}, &m)
	return m, err
}

func (t *HTTPTransport) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := t.do(ctx, http.MethodGet, "/v1/chats/conversations", nil, &out)
	return out, err
}

func (t *HTTPTransport) Messages(ctx context.Context, convID string) ([]models.Message, error) {
	var out []models.Message
	err := t.do(ctx, http.MethodGet, "/v1/chats/conversations/"+convID+"/messages", nil, &out)
	return out, err
}

func (t *HTTPTransport) MarkRead(ctx context.Context, convID string, ids []string) error {
	return t.do(ctx, http.MethodPut, "/v1/chats/messages/read", map[string]interface{}{
		"conversation": convID,
		"message_ids":  ids,
	}, nil)
}
