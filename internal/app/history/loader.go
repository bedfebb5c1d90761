package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/store"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
)

// Cursor points just before the oldest message known locally. A zero cursor
// asks the source for the newest page.
type Cursor struct {
	MessageID string
	CreatedAt time.Time
}

// Source fetches pages of older messages, newest first or oldest first; the
// loader re-sorts through the store either way.
type Source interface {
	OlderMessages(ctx context.Context, roomID string, before Cursor, limit int) ([]chat.Message, error)
}

// Loader pulls successive older pages of one room into the message store.
// Concurrent fetches are coalesced (a call while one is in flight is ignored),
// and a failed fetch leaves pagination state untouched so the caller can
// simply retry.
type Loader struct {
	store    *store.MessageStore
	source   Source
	roomID   string
	pageSize int

	mu           sync.Mutex
	fetching     bool
	hasMore      bool
	bootstrapped bool
	received     map[string]struct{}
}

func NewLoader(s *store.MessageStore, source Source, roomID string, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = 30
	}
	return &Loader{
		store:    s,
		source:   source,
		roomID:   roomID,
		pageSize: pageSize,
		hasMore:  true,
		received: make(map[string]struct{}),
	}
}

// Bootstrap runs the initial fetch for a freshly opened room. A revisited
// room whose messages are already in the store skips the network entirely;
// only explicit FetchOlder calls load more after that.
func (l *Loader) Bootstrap(ctx context.Context) error {
	l.mu.Lock()
	if l.bootstrapped {
		l.mu.Unlock()
		return nil
	}
	l.bootstrapped = true
	if l.store.Len(l.roomID) > 0 {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.FetchOlder(ctx)
}

// FetchOlder requests the next older page using a cursor derived from the
// oldest known message and merges it into the store. Calls made while a fetch
// is in flight return immediately without queueing.
func (l *Loader) FetchOlder(ctx context.Context) error {
	l.mu.Lock()
	if l.fetching {
		l.mu.Unlock()
		return nil
	}
	if !l.hasMore {
		l.mu.Unlock()
		return nil
	}
	l.fetching = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.fetching = false
		l.mu.Unlock()
	}()

	var cursor Cursor
	if oldest, ok := l.store.Oldest(l.roomID); ok {
		cursor = Cursor{MessageID: oldest.ID, CreatedAt: oldest.CreatedAt}
	}
	page, err := l.source.OlderMessages(ctx, l.roomID, cursor, l.pageSize)
	if err != nil {
		return fmt.Errorf("history: fetch room %s: %w", l.roomID, err)
	}

	fresh := make([]chat.Message, 0, len(page))
	l.mu.Lock()
	for _, msg := range page {
		if _, seen := l.received[msg.ID]; seen {
			continue
		}
		l.received[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	l.hasMore = len(page) >= l.pageSize
	l.mu.Unlock()

	l.store.UpsertHistory(l.roomID, fresh)
	return nil
}

// MarkReceived records ids delivered over the live channel so a later history
// page containing the same messages is not re-merged.
func (l *Loader) MarkReceived(id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	l.received[id] = struct{}{}
	l.mu.Unlock()
}

// HasMore reports whether older history may still exist.
func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// IsFetching reports whether a page request is in flight.
func (l *Loader) IsFetching() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetching
}
