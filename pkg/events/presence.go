package events

import (
	"sync"
	"time"
)

// Presence tracks which users are online by counting their live
// connections. A user stays online until the last connection goes away,
// so closing one of several tabs never flaps presence.
type Presence struct {
	mu       sync.Mutex
	counts   map[string]int
	lastSeen map[string]int64
}

func NewPresence() *Presence {
	return &Presence{
		counts:   make(map[string]int),
		lastSeen: make(map[string]int64),
	}
}

// Connect records a new connection for user and reports whether this made
// the user transition from offline to online.
func (p *Presence) Connect(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[user]++
	return p.counts[user] == 1
}

// Disconnect records a closed connection and reports whether the user just
// went offline. The offline transition stamps last_seen.
func (p *Presence) Disconnect(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.counts[user]
	if n <= 1 {
		delete(p.counts, user)
		if n == 1 {
			p.lastSeen[user] = time.Now().UTC().UnixNano()
			return true
		}
		return false
	}
	p.counts[user] = n - 1
	return false
}

// Online reports whether user has at least one live connection.
func (p *Presence) Online(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[user] > 0
}

// Status returns the online flag and last_seen timestamp for user.
// LastSeen is zero when the user is online or has never connected.
func (p *Presence) Status(user string) (bool, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[user] > 0 {
		return true, 0
	}
	return false, p.lastSeen[user]
}
