package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/history"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
)

// HistoryStore reads and archives room messages in Scylla. It backs the
// chat history loader: pages are returned newest first within the room
// partition and the loader re-sorts them through the message store.
type HistoryStore struct {
	session *gocql.Session
	log     *slog.Logger
}

func NewHistoryStore(session *gocql.Session, log *slog.Logger) *HistoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryStore{session: session, log: log}
}

// OlderMessages returns the next page before the cursor; a zero cursor asks
// for the newest page.
func (s *HistoryStore) OlderMessages(ctx context.Context, roomID string, before history.Cursor, limit int) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errors.New("scylla: session not initialized")
	}
	if limit <= 0 || limit > 200 {
		limit = 30
	}

	var iter *gocql.Iter
	if before.CreatedAt.IsZero() {
		iter = s.session.
			Query(`SELECT message_id, sender_id, content, created_at FROM room_messages WHERE room_id = ? LIMIT ?`,
				roomID, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	} else {
		iter = s.session.
			Query(`SELECT message_id, sender_id, content, created_at FROM room_messages WHERE room_id = ? AND created_at < ? LIMIT ?`,
				roomID, before.CreatedAt.UTC(), limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	}

	page := make([]chat.Message, 0, limit)
	var (
		messageID string
		senderID  int64
		content   string
		createdAt time.Time
	)
	for iter.Scan(&messageID, &senderID, &content, &createdAt) {
		page = append(page, chat.Message{
			ID:        messageID,
			RoomID:    roomID,
			SenderID:  senderID,
			Content:   content,
			CreatedAt: createdAt.UTC(),
			Status:    chat.StatusSent,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scylla: list room %s: %w", roomID, err)
	}
	return page, nil
}

// Archive writes a confirmed message into the room partition. Inserts are
// idempotent on (room, created_at, message id), so a live echo and a later
// backfill of the same message collapse to one row.
func (s *HistoryStore) Archive(ctx context.Context, msg chat.Message) error {
	if s.session == nil {
		return errors.New("scylla: session not initialized")
	}
	if msg.ID == "" || msg.RoomID == "" {
		return errors.New("scylla: message id and room id required")
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.session.
		Query(`INSERT INTO room_messages (room_id, created_at, message_id, sender_id, content) VALUES (?, ?, ?, ?, ?)`,
			msg.RoomID, at.UTC(), msg.ID, msg.SenderID, msg.Content).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return fmt.Errorf("scylla: archive message %s: %w", msg.ID, err)
	}
	return nil
}

var _ history.Source = (*HistoryStore)(nil)
var _ session.Archiver = (*HistoryStore)(nil)
