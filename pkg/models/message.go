package models

// Status is the delivery state of a message. StatusPending exists only on
// clients before the server has confirmed persistence; the server never
// stores it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// statusRank orders the forward-only delivery progression. failed and
// pending sit outside the progression and never compare ahead.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusFailed:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Advances reports whether moving from to next is a forward transition.
// Equal or backward transitions return false, which makes duplicate and
// stale status updates no-ops.
func (s Status) Advances(next Status) bool {
	return statusRank[next] > statusRank[s]
}

// ContentType tags what a message carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// Reaction is a single user's emoji reaction. A message holds at most one
// reaction per user; re-reacting replaces the emoji (last write wins).
type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
}

type Message struct {
	ID string `json:"id"`
	// ClientID is the caller-assigned temporary id, echoed back verbatim so
	// the sending client can reconcile its optimistic entry. Never indexed.
	ClientID     string      `json:"client_id,omitempty"`
	Conversation string      `json:"conversation"`
	Sender       string      `json:"sender"`
	Receiver     string      `json:"receiver"`
	Content      string      `json:"content,omitempty"`
	MediaURL     string      `json:"media_url,omitempty"`
	ContentType  ContentType `json:"content_type"`
	Status       Status      `json:"status"`
	Edited       bool        `json:"edited,omitempty"`
	// EditedAt is a unix nanosecond timestamp, zero when never edited.
	EditedAt  int64      `json:"edited_at,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	// CreatedAt is a unix nanosecond timestamp assigned at persistence.
	CreatedAt int64 `json:"created_at"`
}

// SetReaction applies a user's reaction with last-write-wins semantics and
// reports whether the reaction list changed.
func (m *Message) SetReaction(user, emoji string) bool {
	for i, r := range m.Reactions {
		if r.User == user {
			if r.Emoji == emoji {
				return false
			}
			m.Reactions[i].Emoji = emoji
			return true
		}
	}
	m.Reactions = append(m.Reactions, Reaction{User: user, Emoji: emoji})
	return true
}

// ClearReaction removes a user's reaction and reports whether one existed.
func (m *Message) ClearReaction(user string) bool {
	for i, r := range m.Reactions {
		if r.User == user {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return true
		}
	}
	return false
}
