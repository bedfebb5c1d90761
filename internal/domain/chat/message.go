package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks delivery of an optimistically inserted message.
type MessageStatus string

const (
	StatusPending MessageStatus = "PENDING"
	StatusSent    MessageStatus = "SENT"
	StatusFailed  MessageStatus = "FAILED"
)

// Message is one entry of a room's chronological ledger. Content is either
// plain text or an encoded structured payload (see payload.go). ID is the
// dedup key across optimistic inserts, history pages and live broadcasts.
type Message struct {
	ID        string
	RoomID    string
	SenderID  int64
	Content   string
	CreatedAt time.Time
	Status    MessageStatus
}

// NewOutgoing builds an optimistic message with a client-generated id.
func NewOutgoing(roomID string, senderID int64, content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   strings.TrimSpace(content),
		CreatedAt: at.UTC(),
		Status:    StatusPending,
	}
}

// OwnedBy reports whether the message was sent by the given user.
func (m Message) OwnedBy(userID int64) bool {
	return m.SenderID == userID
}

// Before orders messages by creation time, breaking ties by id so the order
// is total and stable across merges.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
