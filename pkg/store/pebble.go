package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"pairchat/pkg/logger"
	"pairchat/pkg/models"
)

// ErrNotFound is returned when a message or conversation does not exist.
var ErrNotFound = errors.New("store: not found")

var (
	db     *pebble.DB
	dbPath string

	// mu serializes read-modify-write cycles so per-message status and
	// reaction updates are atomic with respect to each other.
	mu sync.Mutex
)

// Key layout:
//
//	msg:<id>                          -> message JSON (current version)
//	conv:<convID>:msg:<pad(ts)>-<id>  -> message id (send-order index)
//	conv:<convID>:meta                -> conversation JSON
//	pair:<a>:<b>                      -> conversation id (participants sorted)
//	user:<uid>:conv:<convID>          -> conversation id (per-user listing)
func msgKey(id string) []byte { return []byte("msg:" + id) }

func orderKey(m *models.Message) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%s", m.Conversation, m.CreatedAt, m.ID))
}

func convMetaKey(id string) []byte { return []byte("conv:" + id + ":meta") }

func pairKey(a, b string) []byte {
	x, y := models.PairKey(a, b)
	return []byte("pair:" + x + ":" + y)
}

func userConvKey(uid, convID string) []byte {
	return []byte("user:" + uid + ":conv:" + convID)
}

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpen() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

func getJSON(key []byte, v interface{}) error {
	raw, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(raw, v)
}

func setJSON(key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return db.Set(key, b, pebble.Sync)
}

// SaveMessage persists a new message: the primary record, the conversation
// order entry and a refreshed conversation preview. CreatedAt must already
// be assigned; the order key is derived from it and never changes.
func SaveMessage(m models.Message) error {
	if db == nil {
		return notOpen()
	}
	mu.Lock()
	defer mu.Unlock()

	if err := setJSON(msgKey(m.ID), m); err != nil {
		logger.Error("save_message_failed", "conversation", m.Conversation, "id", m.ID, "error", err)
		return err
	}
	if err := db.Set(orderKey(&m), []byte(m.ID), pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "conversation", m.Conversation, "id", m.ID, "error", err)
		return err
	}
	if err := touchConversation(m.Conversation, &m); err != nil {
		return err
	}
	logger.Debug("message_saved", "conversation", m.Conversation, "id", m.ID)
	return nil
}

// GetMessage returns the current version of a message by id.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpen()
	}
	if err := getJSON(msgKey(id), &m); err != nil {
		return m, err
	}
	return m, nil
}

// UpdateMessage applies mutate to the stored message under the store lock
// and persists the result. The conversation preview is refreshed when the
// mutated message is the conversation's most recent one.
func UpdateMessage(id string, mutate func(*models.Message) error) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpen()
	}
	mu.Lock()
	defer mu.Unlock()

	if err := getJSON(msgKey(id), &m); err != nil {
		return m, err
	}
	if err := mutate(&m); err != nil {
		return m, err
	}
	if err := setJSON(msgKey(id), m); err != nil {
		logger.Error("update_message_failed", "id", id, "error", err)
		return m, err
	}

	var conv models.Conversation
	if err := getJSON(convMetaKey(m.Conversation), &conv); err == nil {
		if conv.LastMessage != nil && conv.LastMessage.ID == m.ID {
			cp := m
			conv.LastMessage = &cp
			conv.UpdatedAt = time.Now().UTC().UnixNano()
			if err := setJSON(convMetaKey(conv.ID), conv); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

// DeleteMessage removes a message outright: primary record and order entry.
// The conversation preview falls back to the next most recent message.
func DeleteMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpen()
	}
	mu.Lock()
	defer mu.Unlock()

	if err := getJSON(msgKey(id), &m); err != nil {
		return m, err
	}
	if err := db.Delete(msgKey(id), pebble.Sync); err != nil {
		logger.Error("delete_message_failed", "id", id, "error", err)
		return m, err
	}
	if err := db.Delete(orderKey(&m), pebble.Sync); err != nil {
		return m, err
	}

	var conv models.Conversation
	if err := getJSON(convMetaKey(m.Conversation), &conv); err == nil {
		if conv.LastMessage != nil && conv.LastMessage.ID == m.ID {
			conv.LastMessage = nil
			if last, err := latestMessage(conv.ID); err == nil {
				conv.LastMessage = last
			}
			conv.UpdatedAt = time.Now().UTC().UnixNano()
			if err := setJSON(convMetaKey(conv.ID), conv); err != nil {
				return m, err
			}
		}
	}
	logger.Info("message_deleted", "conversation", m.Conversation, "id", id)
	return m, nil
}

// ListMessages returns all messages of a conversation in send order.
func ListMessages(convID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("conv:" + convID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		id := string(iter.Value())
		var m models.Message
		if err := getJSON(msgKey(id), &m); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // order entry outlived a concurrent delete
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// latestMessage returns the most recent message of a conversation, or
// ErrNotFound when the conversation is empty. Caller holds mu.
func latestMessage(convID string) (*models.Message, error) {
	prefix := []byte("conv:" + convID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var lastID string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		lastID = string(iter.Value())
	}
	if lastID == "" {
		return nil, ErrNotFound
	}
	var m models.Message
	if err := getJSON(msgKey(lastID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// touchConversation refreshes the conversation preview. Caller holds mu.
func touchConversation(convID string, last *models.Message) error {
	var conv models.Conversation
	if err := getJSON(convMetaKey(convID), &conv); err != nil {
		return err
	}
	cp := *last
	conv.LastMessage = &cp
	conv.UpdatedAt = time.Now().UTC().UnixNano()
	return setJSON(convMetaKey(convID), conv)
}

// FindOrCreateConversation resolves the single conversation for an
// unordered participant pair, creating it (and both per-user index
// entries) on first use.
func FindOrCreateConversation(a, b, newID string) (models.Conversation, bool, error) {
	var conv models.Conversation
	if db == nil {
		return conv, false, notOpen()
	}
	mu.Lock()
	defer mu.Unlock()

	raw, closer, err := db.Get(pairKey(a, b))
	if err == nil {
		id := string(raw)
		closer.Close()
		if gerr := getJSON(convMetaKey(id), &conv); gerr != nil {
			return conv, false, gerr
		}
		return conv, false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return conv, false, err
	}

	x, y := models.PairKey(a, b)
	now := time.Now().UTC().UnixNano()
	conv = models.Conversation{
		ID:           newID,
		Participants: [2]string{x, y},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := setJSON(convMetaKey(conv.ID), conv); err != nil {
		logger.Error("save_conversation_failed", "id", conv.ID, "error", err)
		return conv, false, err
	}
	if err := db.Set(pairKey(a, b), []byte(conv.ID), pebble.Sync); err != nil {
		return conv, false, err
	}
	for _, uid := range conv.Participants {
		if err := db.Set(userConvKey(uid, conv.ID), []byte(conv.ID), pebble.Sync); err != nil {
			return conv, false, err
		}
	}
	logger.Info("conversation_created", "id", conv.ID, "participants", x+","+y)
	return conv, true, nil
}

// GetConversation returns conversation metadata by id.
func GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	if db == nil {
		return conv, notOpen()
	}
	if err := getJSON(convMetaKey(id), &conv); err != nil {
		return conv, err
	}
	return conv, nil
}

// ListConversations returns all conversations a user participates in,
// most recently active first.
func ListConversations(uid string) ([]models.Conversation, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("user:" + uid + ":conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var conv models.Conversation
		if err := getJSON(convMetaKey(string(iter.Value())), &conv); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}
