package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/store"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
)

type fakeSource struct {
	mu      sync.Mutex
	pages   [][]chat.Message
	cursors []Cursor
	err     error
	block   chan struct{}
	calls   int
}

func (f *fakeSource) OlderMessages(_ context.Context, _ string, before Cursor, _ int) ([]chat.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cursors = append(f.cursors, before)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func hmsg(id string, created time.Time) chat.Message {
	return chat.Message{ID: id, RoomID: "room-1", SenderID: 2, Content: id, CreatedAt: created, Status: chat.StatusSent}
}

func base(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-02-01T09:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestFetchOlderMergesSorted(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	// live message already present, newer than everything in history
	s.UpsertHistory("room-1", []chat.Message{hmsg("live", b.Add(time.Hour))})

	src := &fakeSource{pages: [][]chat.Message{{
		hmsg("h2", b.Add(2*time.Minute)),
		hmsg("h1", b.Add(time.Minute)),
	}}}
	l := NewLoader(s, src, "room-1", 2)

	if err := l.FetchOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	list := s.ByRoom("room-1")
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i].Before(list[j]) }) {
		t.Fatal("merged room not sorted")
	}
	if list[0].ID != "h1" || list[2].ID != "live" {
		t.Fatalf("order wrong: %s .. %s", list[0].ID, list[2].ID)
	}
}

func TestFetchOlderUsesOldestAsCursor(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	s.UpsertHistory("room-1", []chat.Message{hmsg("oldest", b)})

	src := &fakeSource{pages: [][]chat.Message{{hmsg("h0", b.Add(-time.Minute))}}}
	l := NewLoader(s, src, "room-1", 2)
	if err := l.FetchOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := src.cursors[0]; got.MessageID != "oldest" || !got.CreatedAt.Equal(b) {
		t.Fatalf("cursor = %+v", got)
	}
}

func TestHasMoreTracksShortPage(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	src := &fakeSource{pages: [][]chat.Message{
		{hmsg("h2", b.Add(time.Minute)), hmsg("h1", b)},
		{hmsg("h0", b.Add(-time.Minute))}, // short page, history exhausted
	}}
	l := NewLoader(s, src, "room-1", 2)
	ctx := context.Background()

	l.FetchOlder(ctx)
	if !l.HasMore() {
		t.Fatal("full page should keep hasMore")
	}
	l.FetchOlder(ctx)
	if l.HasMore() {
		t.Fatal("short page should clear hasMore")
	}
	// exhausted loader never calls the source again
	l.FetchOlder(ctx)
	if src.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", src.callCount())
	}
}

func TestFetchErrorLeavesStateRetryable(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	src := &fakeSource{err: errors.New("boom")}
	l := NewLoader(s, src, "room-1", 2)

	if err := l.FetchOlder(context.Background()); err == nil {
		t.Fatal("fetch error swallowed")
	}
	if !l.HasMore() {
		t.Fatal("error must not clear hasMore")
	}
	if l.IsFetching() {
		t.Fatal("fetching flag stuck after error")
	}

	src.err = nil
	src.pages = [][]chat.Message{{hmsg("h1", b)}}
	if err := l.FetchOlder(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s.Len("room-1") != 1 {
		t.Fatal("retry did not merge")
	}
}

func TestBootstrapSkipsWhenStorePopulated(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	s.UpsertHistory("room-1", []chat.Message{hmsg("cached", b)})
	src := &fakeSource{}
	l := NewLoader(s, src, "room-1", 2)

	if err := l.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.callCount() != 0 {
		t.Fatal("bootstrap hit the source despite cached messages")
	}
	// second bootstrap is a no-op even on an empty store
	if err := l.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.callCount() != 0 {
		t.Fatal("re-bootstrap hit the source")
	}
}

func TestBootstrapFetchesEmptyRoom(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	src := &fakeSource{pages: [][]chat.Message{{hmsg("h1", b)}}}
	l := NewLoader(s, src, "room-1", 2)
	if err := l.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Len("room-1") != 1 {
		t.Fatal("bootstrap did not load the first page")
	}
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	src := &fakeSource{
		pages: [][]chat.Message{{hmsg("h1", b)}},
		block: make(chan struct{}),
	}
	l := NewLoader(s, src, "room-1", 2)

	done := make(chan error, 1)
	go func() { done <- l.FetchOlder(context.Background()) }()

	// wait for the first fetch to be in flight
	for !l.IsFetching() {
		time.Sleep(time.Millisecond)
	}
	if err := l.FetchOlder(context.Background()); err != nil {
		t.Fatalf("coalesced call errored: %v", err)
	}

	close(src.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if src.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", src.callCount())
	}
}

func TestLivePrefetchedIDsNotRemerged(t *testing.T) {
	b := base(t)
	s := store.NewMessageStore()
	live := hmsg("m-live", b.Add(time.Minute))
	s.InsertOptimistic(live)
	src := &fakeSource{pages: [][]chat.Message{{live, hmsg("h1", b)}}}
	l := NewLoader(s, src, "room-1", 2)
	l.MarkReceived("m-live")

	if err := l.FetchOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("room-1", "m-live")
	if got.Status != chat.StatusPending {
		t.Fatalf("live copy overwritten by filtered history page: %s", got.Status)
	}
	if s.Len("room-1") != 2 {
		t.Fatalf("len = %d, want 2", s.Len("room-1"))
	}
}
