package models

// EventKind discriminates the wire events fanned out to live connections.
const (
	EventMessageNew      = "message_new"
	EventMessageStatus   = "message_status"
	EventMessageReaction = "message_reaction"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventTyping          = "typing"
	EventPresence        = "presence"
)

// Event is the single wire envelope for all fan-out traffic. Exactly one
// payload field is populated for a given kind.
type Event struct {
	Kind string `json:"kind"`
	// Conversation scopes message and typing events; empty for presence.
	Conversation string          `json:"conversation,omitempty"`
	Message      *Message        `json:"message,omitempty"`
	Status       *StatusChange   `json:"status,omitempty"`
	Reaction     *ReactionChange `json:"reaction,omitempty"`
	Edit         *EditChange     `json:"edit,omitempty"`
	Deleted      *DeletedChange  `json:"deleted,omitempty"`
	Typing       *TypingChange   `json:"typing,omitempty"`
	Presence     *PresenceChange `json:"presence,omitempty"`
}

// StatusChange notifies a delivery-state transition for one message.
type StatusChange struct {
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
}

// ReactionChange carries the full replacement reaction list for a message.
type ReactionChange struct {
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// EditChange carries the new content of an edited message.
type EditChange struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	EditedAt  int64  `json:"edited_at"`
}

// DeletedChange notifies removal of a message.
type DeletedChange struct {
	MessageID string `json:"message_id"`
}

// TypingChange notifies that a user started or stopped composing.
type TypingChange struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	Typing       bool   `json:"typing"`
}

// PresenceChange notifies an online/offline transition. LastSeen is a unix
// nanosecond timestamp, zero when the user has never been seen.
type PresenceChange struct {
	User     string `json:"user"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}
