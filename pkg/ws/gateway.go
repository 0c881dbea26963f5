package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pairchat/pkg/auth"
	"pairchat/pkg/chat"
	"pairchat/pkg/events"
	"pairchat/pkg/logger"
	"pairchat/pkg/models"
	"pairchat/pkg/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 16 << 10
	frameTypingOn  = "typing_start"
	frameTypingOff = "typing_stop"
	frameMarkRead  = "mark_read"
	frameStatus    = "get_user_status"
)

// Frame is what clients send over the socket. Server-to-client traffic is
// always a models.Event envelope.
type Frame struct {
	Type         string   `json:"type"`
	Conversation string   `json:"conversation,omitempty"`
	MessageIDs   []string `json:"message_ids,omitempty"`
	User         string   `json:"user,omitempty"`
}

// Gateway upgrades authenticated requests to websocket connections and
// bridges them to the event hub.
type Gateway struct {
	Svc            *chat.Service
	AllowedOrigins []string
}

func NewGateway(svc *chat.Service, allowedOrigins []string) *Gateway {
	return &Gateway{Svc: svc, AllowedOrigins: allowedOrigins}
}

// RegisterRoutes mounts the websocket endpoint on r.
func (g *Gateway) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", g.handleWS).Methods(http.MethodGet)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients (backends, tests) send no origin
		return true
	}
	for _, a := range g.AllowedOrigins {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	if uid == "" {
		utils.JSONError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", uid, "error", err)
		return
	}

	conn := g.Svc.Hub.Register(uid)
	logger.Info("ws_connected", "user", uid, "conn", conn.ID)
	g.Svc.HandleConnect(r.Context(), uid)

	go g.writePump(ws, conn)
	g.readLoop(ws, conn)

	g.Svc.Hub.Unregister(conn)
	g.Svc.HandleDisconnect(uid)
	logger.Info("ws_disconnected", "user", uid, "conn", conn.ID)
}

// readLoop consumes client frames until the connection drops.
func (g *Gateway) readLoop(ws *websocket.Conn, conn *events.Conn) {
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "user", conn.User, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Debug("ws_bad_frame", "user", conn.User, "error", err)
			continue
		}
		g.handleFrame(conn, f)
	}
}

func (g *Gateway) handleFrame(conn *events.Conn, f Frame) {
	uid := conn.User
	switch f.Type {
	case frameTypingOn:
		if err := g.Svc.TypingStart(uid, f.Conversation); err != nil {
			logger.Debug("typing_start_rejected", "user", uid, "conversation", f.Conversation, "error", err)
		}
	case frameTypingOff:
		if err := g.Svc.TypingStop(uid, f.Conversation); err != nil {
			logger.Debug("typing_stop_rejected", "user", uid, "conversation", f.Conversation, "error", err)
		}
	case frameMarkRead:
		if _, err := g.Svc.MarkRead(context.Background(), uid, f.Conversation, f.MessageIDs); err != nil {
			logger.Debug("mark_read_rejected", "user", uid, "conversation", f.Conversation, "error", err)
		}
	case frameStatus:
		if f.User == "" {
			return
		}
		st := g.Svc.UserStatus(f.User)
		g.Svc.Hub.Publish(uid, models.Event{Kind: models.EventPresence, Presence: &st})
	default:
		logger.Debug("ws_unknown_frame", "user", uid, "type", f.Type)
	}
}

// writePump drains the hub channel onto the socket and keeps the
// connection alive with pings. It exits when the hub closes the channel or
// a write fails.
func (g *Gateway) writePump(ws *websocket.Conn, conn *events.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case ev, ok := <-conn.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				logger.Debug("ws_write_failed", "user", conn.User, "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
