package events

import (
	"sync"

	"github.com/google/uuid"

	"pairchat/pkg/logger"
	"pairchat/pkg/models"
	"pairchat/pkg/telemetry"
)

// sendBuffer is the per-connection outbound queue depth. A connection that
// cannot drain this many events is considered dead and is dropped rather
// than allowed to stall delivery for the rest of the user's connections.
const sendBuffer = 64

// Conn is one live subscriber for a user. A user may hold several (one per
// tab or device); each gets every event addressed to the user.
type Conn struct {
	ID   string
	User string
	ch   chan models.Event
}

// Events is the stream the connection's write pump drains. The channel is
// closed when the connection is unregistered.
func (c *Conn) Events() <-chan models.Event { return c.ch }

// Hub fans events out to live connections keyed by user id. Enqueueing
// happens under the hub lock, so two events published in order arrive in
// order on every connection's channel.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*Conn]struct{})}
}

// Register adds a connection for user and returns it.
func (h *Hub) Register(user string) *Conn {
	c := &Conn{ID: uuid.NewString(), User: user, ch: make(chan models.Event, sendBuffer)}
	h.mu.Lock()
	set := h.conns[user]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.conns[user] = set
		telemetry.OnlineUsers.Inc()
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	telemetry.ActiveConnections.Inc()
	logger.Debug("hub_register", "user", user, "conn", c.ID)
	return c
}

// Unregister removes a connection and closes its event channel. Safe to
// call more than once for the same connection.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	h.mu.Unlock()
	if removed {
		telemetry.ActiveConnections.Dec()
		logger.Debug("hub_unregister", "user", c.User, "conn", c.ID)
	}
}

// removeLocked detaches c from the registry and closes its channel.
// Caller holds h.mu. Reports whether c was still registered.
func (h *Hub) removeLocked(c *Conn) bool {
	set, ok := h.conns[c.User]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.User)
		telemetry.OnlineUsers.Dec()
	}
	close(c.ch)
	return true
}

// Publish enqueues ev to every live connection of user and reports whether
// at least one connection received it. It never blocks: a connection whose
// buffer is full is dropped on the spot.
func (h *Hub) Publish(user string, ev models.Event) bool {
	h.mu.Lock()
	delivered := h.publishLocked(user, ev)
	h.mu.Unlock()

	if delivered {
		telemetry.EventsPublished.WithLabelValues(ev.Kind).Inc()
	} else {
		telemetry.EventsDropped.WithLabelValues(ev.Kind).Inc()
	}
	return delivered
}

func (h *Hub) publishLocked(user string, ev models.Event) bool {
	set, ok := h.conns[user]
	if !ok || len(set) == 0 {
		return false
	}
	delivered := false
	for c := range set {
		select {
		case c.ch <- ev:
			delivered = true
		default:
			// slow consumer: cut it loose instead of blocking everyone
			h.removeLocked(c)
			telemetry.ActiveConnections.Dec()
			logger.Warn("hub_slow_consumer_dropped", "user", user, "conn", c.ID)
		}
	}
	return delivered
}

// Broadcast enqueues ev to every connected user. Used for presence changes,
// which are not scoped to a conversation.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.Lock()
	users := make([]string, 0, len(h.conns))
	for u := range h.conns {
		users = append(users, u)
	}
	any := false
	for _, u := range users {
		if h.publishLocked(u, ev) {
			any = true
		}
	}
	h.mu.Unlock()

	if any {
		telemetry.EventsPublished.WithLabelValues(ev.Kind).Inc()
	}
}

// Connected reports whether user has at least one live connection.
func (h *Hub) Connected(user string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[user]) > 0
}
