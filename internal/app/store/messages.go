package store

import (
	"sort"
	"sync"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
)

// MessageStore is the in-memory ledger of messages per room. Each room's list
// stays sorted by creation time and deduplicated by message id no matter how
// optimistic inserts, history pages and live broadcasts interleave. All
// mutation is atomic per room; readers get copies.
type MessageStore struct {
	mu    sync.RWMutex
	rooms map[string][]chat.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{rooms: make(map[string][]chat.Message)}
}

// Patch carries the fields Reconcile may change on an existing message.
// Zero values leave the corresponding field untouched.
type Patch struct {
	Status    chat.MessageStatus
	Content   string
	CreatedAt time.Time
}

// UpsertHistory merges a page of messages fetched from history. An already
// known id is only replaced while its local copy is still pending or failed:
// history replays never downgrade a confirmed message.
func (s *MessageStore) UpsertHistory(roomID string, page []chat.Message) {
	if len(page) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.rooms[roomID]
	for _, msg := range page {
		if msg.ID == "" {
			continue
		}
		msg.RoomID = roomID
		if msg.Status == "" {
			msg.Status = chat.StatusSent
		}
		if i, ok := indexOf(list, msg.ID); ok {
			if list[i].Status == chat.StatusPending || list[i].Status == chat.StatusFailed {
				list[i] = msg
			}
			continue
		}
		list = append(list, msg)
	}
	sortMessages(list)
	s.rooms[roomID] = list
}

// InsertOptimistic adds a locally sent message with pending status. It is
// idempotent on id to guard against re-submission races.
func (s *MessageStore) InsertOptimistic(msg chat.Message) bool {
	if msg.ID == "" || msg.RoomID == "" {
		return false
	}
	msg.Status = chat.StatusPending
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.rooms[msg.RoomID]
	if _, ok := indexOf(list, msg.ID); ok {
		return false
	}
	list = append(list, msg)
	sortMessages(list)
	s.rooms[msg.RoomID] = list
	return true
}

// Reconcile patches a message in place (pending -> sent on ack, pending ->
// failed on transport error). The room stays sorted even when the server
// assigns a different timestamp.
func (s *MessageStore) Reconcile(roomID, id string, patch Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.rooms[roomID]
	i, ok := indexOf(list, id)
	if !ok {
		return false
	}
	if patch.Status != "" {
		list[i].Status = patch.Status
	}
	if patch.Content != "" {
		list[i].Content = patch.Content
	}
	if !patch.CreatedAt.IsZero() {
		list[i].CreatedAt = patch.CreatedAt
		sortMessages(list)
	}
	return true
}

// ByRoom returns the room's ordered messages; empty slice for unseen rooms.
func (s *MessageStore) ByRoom(roomID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.rooms[roomID]
	out := make([]chat.Message, len(list))
	copy(out, list)
	return out
}

// Len reports how many messages the room holds.
func (s *MessageStore) Len(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

// Oldest returns the earliest message of the room, used to derive the
// backward-pagination cursor.
func (s *MessageStore) Oldest(roomID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.rooms[roomID]
	if len(list) == 0 {
		return chat.Message{}, false
	}
	return list[0], true
}

// Latest returns the most recent message of the room.
func (s *MessageStore) Latest(roomID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.rooms[roomID]
	if len(list) == 0 {
		return chat.Message{}, false
	}
	return list[len(list)-1], true
}

// Get looks up one message by id.
func (s *MessageStore) Get(roomID, id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.rooms[roomID]
	if i, ok := indexOf(list, id); ok {
		return list[i], true
	}
	return chat.Message{}, false
}

func indexOf(list []chat.Message, id string) (int, bool) {
	for i := range list {
		if list[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func sortMessages(list []chat.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Before(list[j])
	})
}
