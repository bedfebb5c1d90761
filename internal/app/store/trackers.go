package store

import (
	"context"
	"sync"
	"time"
)

// ReadTracker caches the per-room "last read" timestamp of the peer, fed by
// inbound read-receipt events. Missing entries mean "unread"; lookups never
// fail. Timestamps only move forward to guard against out-of-order delivery.
type ReadTracker struct {
	mu    sync.RWMutex
	marks map[readKey]time.Time
}

type readKey struct {
	roomID string
	peerID int64
}

func NewReadTracker() *ReadTracker {
	return &ReadTracker{marks: make(map[readKey]time.Time)}
}

// SetPeerLastReadAt stores the marker when it advances; older timestamps are
// ignored and reported as not applied.
func (t *ReadTracker) SetPeerLastReadAt(_ context.Context, roomID string, peerID int64, at time.Time) (bool, error) {
	if at.IsZero() {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := readKey{roomID: roomID, peerID: peerID}
	if current, ok := t.marks[key]; ok && !at.After(current) {
		return false, nil
	}
	t.marks[key] = at.UTC()
	return true, nil
}

// PeerLastReadAt returns the stored marker, reporting ok=false when the peer
// has no known read position.
func (t *ReadTracker) PeerLastReadAt(_ context.Context, roomID string, peerID int64) (time.Time, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.marks[readKey{roomID: roomID, peerID: peerID}]
	return at, ok, nil
}

// PresenceTracker keeps advisory online flags per user. It never blocks
// sending; unknown users read as offline.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[int64]bool
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[int64]bool)}
}

func (t *PresenceTracker) SetOnline(_ context.Context, userID int64, online bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
	return nil
}

func (t *PresenceTracker) IsOnline(_ context.Context, userID int64) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID], nil
}
