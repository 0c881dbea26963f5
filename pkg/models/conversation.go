package models

// Conversation groups all messages between exactly two users. At most one
// conversation exists per unordered participant pair; Participants are
// stored sorted so (A,B) and (B,A) resolve identically.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	// LastMessage is a denormalized preview of the most recent message,
	// refreshed on every message-affecting write.
	LastMessage *Message `json:"last_message,omitempty"`
	// CreatedAt/UpdatedAt are unix nanosecond timestamps.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Other returns the participant that is not uid, or empty when uid is not a
// participant.
func (c *Conversation) Other(uid string) string {
	switch uid {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// Has reports whether uid participates in the conversation.
func (c *Conversation) Has(uid string) bool {
	return uid == c.Participants[0] || uid == c.Participants[1]
}

// PairKey returns the canonical ordering of two participant ids.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
