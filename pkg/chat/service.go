package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"pairchat/pkg/events"
	"pairchat/pkg/logger"
	"pairchat/pkg/media"
	"pairchat/pkg/models"
	"pairchat/pkg/store"
	"pairchat/pkg/telemetry"
	"pairchat/pkg/utils"
	"pairchat/pkg/validation"
)

var (
	// ErrNotParticipant is returned when a user touches a conversation or
	// message they are not part of.
	ErrNotParticipant = errors.New("chat: user is not a participant")
	// ErrNotSender is returned when a user edits or deletes a message they
	// did not send.
	ErrNotSender = errors.New("chat: only the sender may modify a message")
	// ErrNotFound wraps store misses so handlers can map them to 404.
	ErrNotFound = store.ErrNotFound
)

// Service implements the messaging operations on top of the store and the
// live event hub. All methods are safe for concurrent use.
type Service struct {
	Hub      *events.Hub
	Presence *events.Presence
	Typing   *events.TypingTracker
	Media    media.Storage
}

func NewService(hub *events.Hub, presence *events.Presence, typing *events.TypingTracker, m media.Storage) *Service {
	return &Service{Hub: hub, Presence: presence, Typing: typing, Media: m}
}

// SendRequest carries everything needed to create a message.
type SendRequest struct {
	Sender      string
	Receiver    string
	ClientID    string
	Content     string
	MediaURL    string
	ContentType models.ContentType
}

// SendMessage validates, persists and fans out a new message. The initial
// delivery state is "delivered" when the receiver holds a live connection
// at persist time, "sent" otherwise. The stored message is returned so the
// caller can confirm the optimistic client entry.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	var zero models.Message
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := validation.ValidateSend(req.Sender, req.Receiver, req.Content, req.MediaURL); err != nil {
		return zero, err
	}
	if err := validation.ValidateContentType(req.ContentType, req.MediaURL); err != nil {
		return zero, err
	}

	conv, _, err := store.FindOrCreateConversation(req.Sender, req.Receiver, utils.GenConversationID())
	if err != nil {
		return zero, err
	}

	ct := req.ContentType
	if ct == "" {
		ct = models.ContentText
		if req.MediaURL != "" {
			ct = media.KindFromFilename(req.MediaURL)
		}
	}

	status := models.StatusSent
	if s.Hub.Connected(req.Receiver) {
		status = models.StatusDelivered
	}

	msg := models.Message{
		ID:           utils.GenMessageID(),
		ClientID:     req.ClientID,
		Conversation: conv.ID,
		Sender:       req.Sender,
		Receiver:     req.Receiver,
		Content:      req.Content,
		MediaURL:     req.MediaURL,
		ContentType:  ct,
		Status:       status,
		CreatedAt:    time.Now().UTC().UnixNano(),
	}
	if err := store.SaveMessage(msg); err != nil {
		return zero, err
	}
	telemetry.MessagesCreated.WithLabelValues(string(status)).Inc()
	logger.Info("message_sent", "conversation", conv.ID, "id", msg.ID, "status", string(status))

	ev := models.Event{Kind: models.EventMessageNew, Conversation: conv.ID, Message: &msg}
	s.Hub.Publish(req.Receiver, ev)
	// other devices of the sender see the message too
	s.Hub.Publish(req.Sender, ev)
	return msg, nil
}

// FetchConversations lists a user's conversations, most recent first.
func (s *Service) FetchConversations(ctx context.Context, uid string) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store.ListConversations(uid)
}

// FetchMessages returns the full history of a conversation in send order.
// Only participants may read it.
func (s *Service) FetchMessages(ctx context.Context, uid, convID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conv, err := store.GetConversation(convID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(uid) {
		return nil, ErrNotParticipant
	}
	return store.ListMessages(convID)
}

// MarkRead advances the listed messages to read on behalf of the receiver
// and notifies senders. Messages already read, sent by uid, or outside the
// conversation are skipped, so retries and duplicates are harmless. The
// messages that actually changed are returned.
func (s *Service) MarkRead(ctx context.Context, uid, convID string, ids []string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conv, err := store.GetConversation(convID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(uid) {
		return nil, ErrNotParticipant
	}

	var changed []models.Message
	skip := errors.New("skip")
	for _, id := range ids {
		m, err := store.UpdateMessage(id, func(msg *models.Message) error {
			if msg.Conversation != convID || msg.Receiver != uid {
				return skip
			}
			if !msg.Status.Advances(models.StatusRead) {
				return skip
			}
			msg.Status = models.StatusRead
			return nil
		})
		if err != nil {
			if errors.Is(err, skip) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return changed, err
		}
		changed = append(changed, m)
		s.publishStatus(m)
	}
	if len(changed) > 0 {
		logger.Info("messages_marked_read", "conversation", convID, "count", len(changed))
	}
	return changed, nil
}

// DeliverPending flips every "sent" message addressed to uid to
// "delivered" and notifies the senders. Called when uid comes online so
// messages sent while they were away pick up their second tick.
func (s *Service) DeliverPending(ctx context.Context, uid string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	convs, err := store.ListConversations(uid)
	if err != nil {
		return 0, err
	}
	skip := errors.New("skip")
	count := 0
	for _, conv := range convs {
		msgs, err := store.ListMessages(conv.ID)
		if err != nil {
			return count, err
		}
		for _, m := range msgs {
			if m.Receiver != uid || m.Status != models.StatusSent {
				continue
			}
			updated, err := store.UpdateMessage(m.ID, func(msg *models.Message) error {
				if msg.Receiver != uid || msg.Status != models.StatusSent {
					return skip
				}
				msg.Status = models.StatusDelivered
				return nil
			})
			if err != nil {
				if errors.Is(err, skip) || errors.Is(err, store.ErrNotFound) {
					continue
				}
				return count, err
			}
			count++
			s.publishStatus(updated)
			// the connecting user's own devices need the tick as well
			s.Hub.Publish(uid, statusEvent(updated))
		}
	}
	if count > 0 {
		logger.Info("pending_messages_delivered", "user", uid, "count", count)
	}
	return count, nil
}

// AddReaction applies uid's emoji to a message, replacing any previous one
// from the same user, and fans out the full reaction list.
func (s *Service) AddReaction(ctx context.Context, uid, messageID, emoji string) (models.Message, error) {
	var zero models.Message
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := validation.ValidateEmoji(emoji); err != nil {
		return zero, err
	}
	noop := errors.New("noop")
	m, err := store.UpdateMessage(messageID, func(msg *models.Message) error {
		if msg.Sender != uid && msg.Receiver != uid {
			return ErrNotParticipant
		}
		if !msg.SetReaction(uid, emoji) {
			return noop
		}
		return nil
	})
	if err != nil && !errors.Is(err, noop) {
		return zero, err
	}
	if err == nil {
		s.publishReaction(m)
	}
	return m, nil
}

// RemoveReaction clears uid's reaction from a message. Removing a reaction
// that does not exist is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, uid, messageID string) (models.Message, error) {
	var zero models.Message
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	noop := errors.New("noop")
	m, err := store.UpdateMessage(messageID, func(msg *models.Message) error {
		if msg.Sender != uid && msg.Receiver != uid {
			return ErrNotParticipant
		}
		if !msg.ClearReaction(uid) {
			return noop
		}
		return nil
	})
	if err != nil && !errors.Is(err, noop) {
		return zero, err
	}
	if err == nil {
		s.publishReaction(m)
	}
	return m, nil
}

// EditMessage replaces the content of uid's own message and fans out the
// edit. Delivery state and reactions are untouched.
func (s *Service) EditMessage(ctx context.Context, uid, messageID, content string) (models.Message, error) {
	var zero models.Message
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if strings.TrimSpace(content) == "" {
		return zero, validation.ErrEmptyContent
	}
	if err := validation.ValidateContent(content); err != nil {
		return zero, err
	}
	m, err := store.UpdateMessage(messageID, func(msg *models.Message) error {
		if msg.Sender != uid {
			return ErrNotSender
		}
		msg.Content = content
		msg.Edited = true
		msg.EditedAt = time.Now().UTC().UnixNano()
		return nil
	})
	if err != nil {
		return zero, err
	}
	ev := models.Event{
		Kind:         models.EventMessageEdited,
		Conversation: m.Conversation,
		Edit:         &models.EditChange{MessageID: m.ID, Content: m.Content, EditedAt: m.EditedAt},
	}
	s.Hub.Publish(m.Receiver, ev)
	s.Hub.Publish(m.Sender, ev)
	logger.Info("message_edited", "conversation", m.Conversation, "id", m.ID)
	return m, nil
}

// DeleteMessage removes uid's own message outright and fans out the
// deletion. Deleting an already-deleted message returns ErrNotFound.
func (s *Service) DeleteMessage(ctx context.Context, uid, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m.Sender != uid {
		return ErrNotSender
	}
	if _, err := store.DeleteMessage(messageID); err != nil {
		return err
	}
	ev := models.Event{
		Kind:         models.EventMessageDeleted,
		Conversation: m.Conversation,
		Deleted:      &models.DeletedChange{MessageID: m.ID},
	}
	s.Hub.Publish(m.Receiver, ev)
	s.Hub.Publish(m.Sender, ev)
	return nil
}

// UserStatus reports whether a user is online and, when offline, the time
// their last connection closed.
func (s *Service) UserStatus(uid string) models.PresenceChange {
	online, lastSeen := s.Presence.Status(uid)
	return models.PresenceChange{User: uid, Online: online, LastSeen: lastSeen}
}

// TypingStart records uid composing in a conversation and notifies the
// other participant on a fresh start. Refreshes are silent.
func (s *Service) TypingStart(uid, convID string) error {
	conv, err := store.GetConversation(convID)
	if err != nil {
		return err
	}
	if !conv.Has(uid) {
		return ErrNotParticipant
	}
	if s.Typing.Start(convID, uid) {
		s.publishTyping(conv.Other(uid), models.TypingChange{Conversation: convID, User: uid, Typing: true})
	}
	return nil
}

// TypingStop clears uid's composing state and notifies the other
// participant when a signal was actually live.
func (s *Service) TypingStop(uid, convID string) error {
	conv, err := store.GetConversation(convID)
	if err != nil {
		return err
	}
	if !conv.Has(uid) {
		return ErrNotParticipant
	}
	if s.Typing.Stop(convID, uid) {
		s.publishTyping(conv.Other(uid), models.TypingChange{Conversation: convID, User: uid, Typing: false})
	}
	return nil
}

// HandleConnect runs the connect-time bookkeeping for a user's new
// connection: presence transition broadcast and the delivery sweep.
func (s *Service) HandleConnect(ctx context.Context, uid string) {
	if s.Presence.Connect(uid) {
		s.Hub.Broadcast(models.Event{
			Kind:     models.EventPresence,
			Presence: &models.PresenceChange{User: uid, Online: true},
		})
		logger.Info("user_online", "user", uid)
	}
	if _, err := s.DeliverPending(ctx, uid); err != nil {
		logger.Error("delivery_sweep_failed", "user", uid, "error", err)
	}
}

// HandleDisconnect runs the disconnect-time bookkeeping: when the user's
// last connection closes, clear their typing signals and broadcast the
// offline transition with last_seen.
func (s *Service) HandleDisconnect(uid string) {
	if !s.Presence.Disconnect(uid) {
		return
	}
	for _, ch := range s.Typing.ClearUser(uid) {
		conv, err := store.GetConversation(ch.Conversation)
		if err != nil {
			continue
		}
		s.publishTyping(conv.Other(uid), ch)
	}
	_, lastSeen := s.Presence.Status(uid)
	s.Hub.Broadcast(models.Event{
		Kind:     models.EventPresence,
		Presence: &models.PresenceChange{User: uid, Online: false, LastSeen: lastSeen},
	})
	logger.Info("user_offline", "user", uid)
}

// ExpireTyping sweeps typing signals older than the window and emits
// synthetic stop events. Returns how many signals expired.
func (s *Service) ExpireTyping(window time.Duration) int {
	expired := s.Typing.ExpireBefore(time.Now().Add(-window))
	for _, ch := range expired {
		conv, err := store.GetConversation(ch.Conversation)
		if err != nil {
			continue
		}
		s.publishTyping(conv.Other(ch.User), ch)
	}
	return len(expired)
}

func statusEvent(m models.Message) models.Event {
	return models.Event{
		Kind:         models.EventMessageStatus,
		Conversation: m.Conversation,
		Status:       &models.StatusChange{MessageID: m.ID, Status: m.Status},
	}
}

func (s *Service) publishStatus(m models.Message) {
	s.Hub.Publish(m.Sender, statusEvent(m))
}

func (s *Service) publishReaction(m models.Message) {
	ev := models.Event{
		Kind:         models.EventMessageReaction,
		Conversation: m.Conversation,
		Reaction:     &models.ReactionChange{MessageID: m.ID, Reactions: m.Reactions},
	}
	s.Hub.Publish(m.Sender, ev)
	s.Hub.Publish(m.Receiver, ev)
}

func (s *Service) publishTyping(to string, ch models.TypingChange) {
	c := ch
	s.Hub.Publish(to, models.Event{Kind: models.EventTyping, Conversation: ch.Conversation, Typing: &c})
}
