package events

import (
	"sync"
	"time"

	"pairchat/pkg/models"
)

// TypingTracker holds the ephemeral "user is composing" state per
// conversation. Entries live in memory only and carry the time of the most
// recent start signal, so stale entries can be swept when a client vanishes
// without sending a stop.
type TypingTracker struct {
	mu sync.Mutex
	// conversation id -> user id -> last start signal
	m map[string]map[string]time.Time
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{m: make(map[string]map[string]time.Time)}
}

// Start records (or refreshes) a typing signal and reports whether this is
// a fresh start rather than a refresh of an existing one.
func (t *TypingTracker) Start(conv, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.m[conv]
	if users == nil {
		users = make(map[string]time.Time)
		t.m[conv] = users
	}
	_, existed := users[user]
	users[user] = time.Now()
	return !existed
}

// Stop clears a typing signal and reports whether one was present. Stopping
// a user who was not typing is a no-op.
func (t *TypingTracker) Stop(conv, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.m[conv]
	if !ok {
		return false
	}
	if _, ok := users[user]; !ok {
		return false
	}
	delete(users, user)
	if len(users) == 0 {
		delete(t.m, conv)
	}
	return true
}

// ClearUser drops every typing signal user holds across all conversations,
// returning the cleared entries so callers can emit synthetic stop events.
// Used when a user's last connection disappears mid-composition.
func (t *TypingTracker) ClearUser(user string) []models.TypingChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.TypingChange
	for conv, users := range t.m {
		if _, ok := users[user]; !ok {
			continue
		}
		delete(users, user)
		if len(users) == 0 {
			delete(t.m, conv)
		}
		out = append(out, models.TypingChange{Conversation: conv, User: user, Typing: false})
	}
	return out
}

// ExpireBefore clears every typing signal older than cutoff and returns the
// expired entries.
func (t *TypingTracker) ExpireBefore(cutoff time.Time) []models.TypingChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.TypingChange
	for conv, users := range t.m {
		for user, started := range users {
			if started.Before(cutoff) {
				delete(users, user)
				out = append(out, models.TypingChange{Conversation: conv, User: user, Typing: false})
			}
		}
		if len(users) == 0 {
			delete(t.m, conv)
		}
	}
	return out
}

// Typing lists the users currently composing in a conversation.
func (t *TypingTracker) Typing(conv string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.m[conv]
	if len(users) == 0 {
		return nil
	}
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out
}
