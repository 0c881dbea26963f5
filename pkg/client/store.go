package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pairchat/pkg/logger"
	"pairchat/pkg/models"
)

// ErrUnknownTempID is returned when retrying a temp id with no failed send.
var ErrUnknownTempID = errors.New("client: no failed send with that temp id")

// Transport is the server surface the store talks to. Implementations are
// bound to one authenticated user.
type Transport interface {
	Send(ctx context.Context, receiver, content, clientID string) (models.Message, error)
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, convID string) ([]models.Message, error)
	MarkRead(ctx context.Context, convID string, ids []string) error
}

type sendAttempt struct {
	receiver string
	content  string
}

// Store is the client-side view of the user's conversations. It renders
// sends optimistically with temporary ids, reconciles them against server
// confirmations, applies live events and keeps unread counters for
// conversations that are not currently on screen.
type Store struct {
	mu   sync.Mutex
	user string
	tr   Transport

	tempSeq int
	open    string

	convs    map[string]models.Conversation
	msgs     map[string][]models.Message
	known    map[string]struct{}
	unread   map[string]int
	failed   map[string]sendAttempt
	typing   map[string]map[string]bool
	presence map[string]models.PresenceChange
}

func NewStore(user string, tr Transport) *Store {
	return &Store{
		user:     user,
		tr:       tr,
		convs:    make(map[string]models.Conversation),
		msgs:     make(map[string][]models.Message),
		known:    make(map[string]struct{}),
		unread:   make(map[string]int),
		failed:   make(map[string]sendAttempt),
		typing:   make(map[string]map[string]bool),
		presence: make(map[string]models.PresenceChange),
	}
}

// Send appends an optimistic pending message addressed to receiver and
// asks the server to persist it. On confirmation the placeholder is
// replaced wholesale by the server's version; on failure it flips to
// failed in place and can be retried. The temporary id is returned either
// way so callers can track the entry.
func (s *Store) Send(ctx context.Context, receiver, content string) (string, error) {
	s.mu.Lock()
	s.tempSeq++
	tempID := fmt.Sprintf("temp-%d", s.tempSeq)
	pending := models.Message{
		ID:          tempID,
		Sender:      s.user,
		Receiver:    receiver,
		Content:     content,
		ContentType: models.ContentText,
		Status:      models.StatusPending,
	}
	convID := s.conversationForLocked(receiver)
	pending.Conversation = convID
	s.msgs[convID] = append(s.msgs[convID], pending)
	s.mu.Unlock()

	return tempID, s.transmit(ctx, tempID, receiver, content)
}

// Retry re-sends a failed message under the same temporary id.
func (s *Store) Retry(ctx context.Context, tempID string) error {
	s.mu.Lock()
	att, ok := s.failed[tempID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTempID
	}
	delete(s.failed, tempID)
	s.setStatusByIDLocked(tempID, models.StatusPending)
	s.mu.Unlock()

	return s.transmit(ctx, tempID, att.receiver, att.content)
}

func (s *Store) transmit(ctx context.Context, tempID, receiver, content string) error {
	confirmed, err := s.tr.Send(ctx, receiver, content, tempID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setStatusByIDLocked(tempID, models.StatusFailed)
		s.failed[tempID] = sendAttempt{receiver: receiver, content: content}
		logger.Warn("client_send_failed", "temp_id", tempID, "error", err)
		return err
	}
	s.replaceTempLocked(tempID, confirmed)
	return nil
}

// replaceTempLocked swaps the optimistic placeholder for the confirmed
// message, moving it between conversation buckets when the server resolved
// a different (or brand new) conversation id.
func (s *Store) replaceTempLocked(tempID string, confirmed models.Message) {
	if _, dup := s.known[confirmed.ID]; dup {
		// the live event for our own send arrived first; just drop the temp
		s.removeByIDLocked(tempID)
		return
	}
	s.known[confirmed.ID] = struct{}{}
	s.removeByIDLocked(tempID)
	s.msgs[confirmed.Conversation] = insertOrdered(s.msgs[confirmed.Conversation], confirmed)
	s.touchPreviewLocked(confirmed)
}

// Apply folds a live server event into the local state. Events for unknown
// conversations create them lazily; duplicate message events are ignored.
func (s *Store) Apply(ctx context.Context, ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case models.EventMessageNew:
		if ev.Message == nil {
			return
		}
		m := *ev.Message
		if _, dup := s.known[m.ID]; dup {
			return
		}
		if m.Sender == s.user && m.ClientID != "" && s.hasIDLocked(m.ClientID) {
			// echo of our own optimistic send from another code path
			s.replaceTempLocked(m.ClientID, m)
			return
		}
		s.known[m.ID] = struct{}{}
		s.msgs[m.Conversation] = insertOrdered(s.msgs[m.Conversation], m)
		s.touchPreviewLocked(m)
		if m.Receiver == s.user {
			if s.open == m.Conversation {
				// visible right away: acknowledge instead of counting
				s.setStatusByIDLocked(m.ID, models.StatusRead)
				go s.ackRead(ctx, m.Conversation, []string{m.ID})
			} else {
				s.unread[m.Conversation]++
			}
		}

	case models.EventMessageStatus:
		if ev.Status == nil {
			return
		}
		s.advanceStatusLocked(ev.Status.MessageID, ev.Status.Status)

	case models.EventMessageReaction:
		if ev.Reaction == nil {
			return
		}
		s.mutateByIDLocked(ev.Reaction.MessageID, func(m *models.Message) {
			m.Reactions = append([]models.Reaction(nil), ev.Reaction.Reactions...)
		})

	case models.EventMessageEdited:
		if ev.Edit == nil {
			return
		}
		s.mutateByIDLocked(ev.Edit.MessageID, func(m *models.Message) {
			m.Content = ev.Edit.Content
			m.Edited = true
			m.EditedAt = ev.Edit.EditedAt
		})

	case models.EventMessageDeleted:
		if ev.Deleted == nil {
			return
		}
		conv := s.removeByIDLocked(ev.Deleted.MessageID)
		if conv == "" {
			// never fetched locally, but it may still be a preview
			for cid, c := range s.convs {
				if c.LastMessage != nil && c.LastMessage.ID == ev.Deleted.MessageID {
					conv = cid
					break
				}
			}
		}
		s.dropPreviewLocked(conv, ev.Deleted.MessageID)

	case models.EventTyping:
		if ev.Typing == nil {
			return
		}
		set := s.typing[ev.Typing.Conversation]
		if set == nil {
			set = make(map[string]bool)
			s.typing[ev.Typing.Conversation] = set
		}
		if ev.Typing.Typing {
			set[ev.Typing.User] = true
		} else {
			delete(set, ev.Typing.User)
		}

	case models.EventPresence:
		if ev.Presence == nil {
			return
		}
		s.presence[ev.Presence.User] = *ev.Presence
	}
}

func (s *Store) ackRead(ctx context.Context, convID string, ids []string) {
	if err := s.tr.MarkRead(ctx, convID, ids); err != nil {
		logger.Warn("client_ack_read_failed", "conversation", convID, "error", err)
	}
}

// Refresh pulls the conversation list from the server.
func (s *Store) Refresh(ctx context.Context) error {
	convs, err := s.tr.Conversations(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		s.convs[c.ID] = c
	}
	return nil
}

// Conversations returns a snapshot of the known conversation list.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}

// OpenConversation brings a conversation on screen: it fetches the full
// history, acknowledges everything unread in one batch and resets the
// unread counter. Local optimistic entries survive the reload.
func (s *Store) OpenConversation(ctx context.Context, convID string) ([]models.Message, error) {
	history, err := s.tr.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.open = convID

	// keep local-only entries (pending/failed sends not yet on the server)
	var local []models.Message
	for _, m := range s.msgs[convID] {
		if _, ok := s.known[m.ID]; !ok && m.Status != models.StatusRead {
			if m.Status == models.StatusPending || m.Status == models.StatusFailed {
				local = append(local, m)
			}
		}
	}

	merged := make([]models.Message, 0, len(history)+len(local))
	var unreadIDs []string
	for _, m := range history {
		s.known[m.ID] = struct{}{}
		if m.Receiver == s.user && m.Status != models.StatusRead {
			unreadIDs = append(unreadIDs, m.ID)
			m.Status = models.StatusRead
		}
		merged = append(merged, m)
	}
	merged = append(merged, local...)
	s.msgs[convID] = merged
	s.unread[convID] = 0

	out := append([]models.Message(nil), merged...)
	s.mu.Unlock()

	if len(unreadIDs) > 0 {
		if err := s.tr.MarkRead(ctx, convID, unreadIDs); err != nil {
			logger.Warn("client_mark_read_failed", "conversation", convID, "error", err)
		}
	}
	return out, nil
}

// CloseConversation takes the open conversation off screen; subsequent
// incoming messages count as unread again.
func (s *Store) CloseConversation() {
	s.mu.Lock()
	s.open = ""
	s.mu.Unlock()
}

// Messages returns a snapshot of the local view of a conversation.
func (s *Store) Messages(convID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.msgs[convID]...)
}

// Unread returns the unread counter for a conversation.
func (s *Store) Unread(convID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[convID]
}

// TypingIn lists users currently composing in a conversation.
func (s *Store) TypingIn(convID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[convID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// PresenceOf returns the last known presence for a user.
func (s *Store) PresenceOf(user string) (models.PresenceChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[user]
	return p, ok
}

// conversationForLocked finds the local conversation with receiver, or
// creates a provisional bucket keyed by the receiver id until the server
// confirms the real conversation.
func (s *Store) conversationForLocked(receiver string) string {
	for id, c := range s.convs {
		if c.Has(s.user) && c.Has(receiver) {
			return id
		}
	}
	return "local-" + receiver
}

func (s *Store) hasIDLocked(id string) bool {
	for _, list := range s.msgs {
		for i := range list {
			if list[i].ID == id {
				return true
			}
		}
	}
	return false
}

func (s *Store) mutateByIDLocked(id string, f func(*models.Message)) bool {
	for conv, list := range s.msgs {
		for i := range list {
			if list[i].ID == id {
				f(&list[i])
				s.msgs[conv] = list
				s.syncPreviewLocked(conv, id)
				return true
			}
		}
	}
	return false
}

func (s *Store) setStatusByIDLocked(id string, st models.Status) {
	s.mutateByIDLocked(id, func(m *models.Message) { m.Status = st })
}

func (s *Store) advanceStatusLocked(id string, st models.Status) {
	s.mutateByIDLocked(id, func(m *models.Message) {
		if m.Status.Advances(st) {
			m.Status = st
		}
	})
}

func (s *Store) removeByIDLocked(id string) string {
	for conv, list := range s.msgs {
		for i := range list {
			if list[i].ID == id {
				s.msgs[conv] = append(list[:i], list[i+1:]...)
				return conv
			}
		}
	}
	return ""
}

// touchPreviewLocked records m as the conversation's last-message preview
// when it is at least as recent as the current one, creating the
// conversation entry lazily for events that arrive before any Refresh.
func (s *Store) touchPreviewLocked(m models.Message) {
	c, ok := s.convs[m.Conversation]
	if !ok {
		a, b := models.PairKey(m.Sender, m.Receiver)
		c = models.Conversation{
			ID:           m.Conversation,
			Participants: [2]string{a, b},
			CreatedAt:    m.CreatedAt,
		}
	}
	if c.LastMessage == nil || m.CreatedAt >= c.LastMessage.CreatedAt {
		mm := m
		c.LastMessage = &mm
	}
	if m.CreatedAt > c.UpdatedAt {
		c.UpdatedAt = m.CreatedAt
	}
	s.convs[m.Conversation] = c
}

// syncPreviewLocked mirrors an in-place mutation (status, edit, reaction)
// into the preview copy when the mutated message is the preview.
func (s *Store) syncPreviewLocked(convID, msgID string) {
	c, ok := s.convs[convID]
	if !ok || c.LastMessage == nil || c.LastMessage.ID != msgID {
		return
	}
	for _, m := range s.msgs[convID] {
		if m.ID == msgID {
			mm := m
			c.LastMessage = &mm
			s.convs[convID] = c
			return
		}
	}
}

// dropPreviewLocked handles deletion of the preview message by falling back
// to the newest remaining server-confirmed message, if any.
func (s *Store) dropPreviewLocked(convID, msgID string) {
	c, ok := s.convs[convID]
	if !ok || c.LastMessage == nil || c.LastMessage.ID != msgID {
		return
	}
	c.LastMessage = nil
	list := s.msgs[convID]
	for i := len(list) - 1; i >= 0; i-- {
		if _, confirmed := s.known[list[i].ID]; confirmed {
			mm := list[i]
			c.LastMessage = &mm
			break
		}
	}
	s.convs[convID] = c
}

// insertOrdered places m into list keeping CreatedAt order. Optimistic
// entries carry CreatedAt zero and always sort to the end by append.
func insertOrdered(list []models.Message, m models.Message) []models.Message {
	if m.CreatedAt == 0 || len(list) == 0 || list[len(list)-1].CreatedAt <= m.CreatedAt {
		return append(list, m)
	}
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt > m.CreatedAt })
	list = append(list, models.Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}
