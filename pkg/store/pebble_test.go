package store

import (
	"errors"
	"testing"
	"time"

	"pairchat/pkg/models"
	"pairchat/pkg/utils"
)

func openTestDB(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func newTestMessage(conv, sender, receiver, content string) models.Message {
	return models.Message{
		ID:           utils.GenMessageID(),
		Conversation: conv,
		Sender:       sender,
		Receiver:     receiver,
		Content:      content,
		ContentType:  models.ContentText,
		Status:       models.StatusSent,
		CreatedAt:    time.Now().UTC().UnixNano(),
	}
}

func TestFindOrCreateConversationIsPairStable(t *testing.T) {
	openTestDB(t)

	c1, created, err := FindOrCreateConversation("bob", "alice", utils.GenConversationID())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if !created {
		t.Fatalf("expected first lookup to create")
	}
	if c1.Participants[0] != "alice" || c1.Participants[1] != "bob" {
		t.Fatalf("participants not canonical: %v", c1.Participants)
	}

	c2, created, err := FindOrCreateConversation("alice", "bob", utils.GenConversationID())
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if created {
		t.Fatalf("reversed pair created a second conversation")
	}
	if c2.ID != c1.ID {
		t.Fatalf("pair resolved to different conversations: %s vs %s", c1.ID, c2.ID)
	}
}

func TestSaveAndListMessagesInOrder(t *testing.T) {
	openTestDB(t)

	conv, _, err := FindOrCreateConversation("alice", "bob", utils.GenConversationID())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		m := newTestMessage(conv.ID, "alice", "bob", "hello")
		m.CreatedAt = time.Now().UTC().UnixNano() + int64(i)
		if err := SaveMessage(m); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}

	got, err := ListMessages(conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Fatalf("message %d out of order: got %s want %s", i, m.ID, ids[i])
		}
	}

	cv, err := GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if cv.LastMessage == nil || cv.LastMessage.ID != ids[len(ids)-1] {
		t.Fatalf("conversation preview not refreshed")
	}
}

func TestUpdateMessageMutatesInPlace(t *testing.T) {
	openTestDB(t)

	conv, _, _ := FindOrCreateConversation("alice", "bob", utils.GenConversationID())
	m := newTestMessage(conv.ID, "alice", "bob", "hello")
	if err := SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}

	updated, err := UpdateMessage(m.ID, func(msg *models.Message) error {
		msg.Status = models.StatusDelivered
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != models.StatusDelivered {
		t.Fatalf("status not updated: %s", updated.Status)
	}

	got, err := GetMessage(m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusDelivered {
		t.Fatalf("persisted status = %s, want delivered", got.Status)
	}

	cv, _ := GetConversation(conv.ID)
	if cv.LastMessage == nil || cv.LastMessage.Status != models.StatusDelivered {
		t.Fatalf("preview not refreshed after update")
	}
}

func TestUpdateMessageMutateErrorLeavesRecord(t *testing.T) {
	openTestDB(t)

	conv, _, _ := FindOrCreateConversation("alice", "bob", utils.GenConversationID())
	m := newTestMessage(conv.ID, "alice", "bob", "hello")
	if err := SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}

	sentinel := errors.New("nope")
	if _, err := UpdateMessage(m.ID, func(msg *models.Message) error {
		msg.Content = "mutated"
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	got, _ := GetMessage(m.ID)
	if got.Content != "hello" {
		t.Fatalf("failed mutation was persisted: %q", got.Content)
	}
}

func TestDeleteMessageFallsBackPreview(t *testing.T) {
	openTestDB(t)

	conv, _, _ := FindOrCreateConversation("alice", "bob", utils.GenConversationID())
	first := newTestMessage(conv.ID, "alice", "bob", "first")
	second := newTestMessage(conv.ID, "bob", "alice", "second")
	second.CreatedAt = first.CreatedAt + 1
	if err := SaveMessage(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := SaveMessage(second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	if _, err := DeleteMessage(second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetMessage(second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted message still readable, err=%v", err)
	}

	msgs, err := ListMessages(conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != first.ID {
		t.Fatalf("unexpected remaining messages: %v", msgs)
	}

	cv, _ := GetConversation(conv.ID)
	if cv.LastMessage == nil || cv.LastMessage.ID != first.ID {
		t.Fatalf("preview did not fall back to prior message")
	}
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	openTestDB(t)

	c1, _, _ := FindOrCreateConversation("alice", "bob", utils.GenConversationID())
	c2, _, _ := FindOrCreateConversation("alice", "carol", utils.GenConversationID())

	m := newTestMessage(c1.ID, "alice", "bob", "bump")
	m.CreatedAt = time.Now().UTC().UnixNano()
	if err := SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}

	convs, err := ListConversations("alice")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != c1.ID {
		t.Fatalf("expected bumped conversation first, got %s", convs[0].ID)
	}

	bobConvs, err := ListConversations("bob")
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(bobConvs) != 1 || bobConvs[0].ID != c1.ID {
		t.Fatalf("bob should only see his pair conversation")
	}
	if len(bobConvs) == 1 && bobConvs[0].Has("carol") {
		t.Fatalf("bob sees a conversation he is not part of")
	}
	_ = c2
}
