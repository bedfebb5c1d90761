package store

import (
	"sort"
	"testing"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func msg(id string, created time.Time) chat.Message {
	return chat.Message{ID: id, RoomID: "room-1", SenderID: 1, Content: id, CreatedAt: created, Status: chat.StatusSent}
}

func TestDedupAcrossOptimisticAndHistory(t *testing.T) {
	s := NewMessageStore()
	t1 := at(t, "2026-02-01T10:00:00Z")

	optimistic := chat.Message{ID: "m1", RoomID: "room-1", SenderID: 1, Content: "hi", CreatedAt: t1}
	if !s.InsertOptimistic(optimistic) {
		t.Fatal("first insert rejected")
	}
	if s.InsertOptimistic(optimistic) {
		t.Fatal("duplicate optimistic insert accepted")
	}

	// ack, then a history page echoing the same id
	s.Reconcile("room-1", "m1", Patch{Status: chat.StatusSent})
	s.UpsertHistory("room-1", []chat.Message{msg("m1", t1)})

	list := s.ByRoom("room-1")
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].Status != chat.StatusSent {
		t.Fatalf("status = %s, want SENT", list[0].Status)
	}
}

func TestHistoryReplacesPendingCopy(t *testing.T) {
	s := NewMessageStore()
	t1 := at(t, "2026-02-01T10:00:00Z")
	s.InsertOptimistic(chat.Message{ID: "m1", RoomID: "room-1", SenderID: 1, Content: "draft", CreatedAt: t1})

	server := msg("m1", t1.Add(time.Second))
	server.Content = "draft"
	s.UpsertHistory("room-1", []chat.Message{server})

	got, ok := s.Get("room-1", "m1")
	if !ok {
		t.Fatal("message lost")
	}
	if got.Status != chat.StatusSent {
		t.Fatalf("pending copy not replaced: %s", got.Status)
	}
	if !got.CreatedAt.Equal(t1.Add(time.Second)) {
		t.Fatalf("server timestamp not adopted: %v", got.CreatedAt)
	}
}

func TestOrderingUnderArbitraryInterleaving(t *testing.T) {
	s := NewMessageStore()
	base := at(t, "2026-02-01T12:00:00Z")

	s.InsertOptimistic(chat.Message{ID: "live-1", RoomID: "room-1", CreatedAt: base.Add(30 * time.Second)})
	s.UpsertHistory("room-1", []chat.Message{
		msg("h3", base.Add(20*time.Second)),
		msg("h1", base),
	})
	s.InsertOptimistic(chat.Message{ID: "live-2", RoomID: "room-1", CreatedAt: base.Add(40 * time.Second)})
	s.UpsertHistory("room-1", []chat.Message{
		msg("h2", base.Add(10*time.Second)),
	})

	list := s.ByRoom("room-1")
	if len(list) != 5 {
		t.Fatalf("len = %d, want 5", len(list))
	}
	if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i].Before(list[j]) }) {
		t.Fatalf("room not sorted: %+v", ids(list))
	}
	want := []string{"h1", "h2", "h3", "live-1", "live-2"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(list), want)
		}
	}
}

func TestReconcileResortsOnTimestampChange(t *testing.T) {
	s := NewMessageStore()
	base := at(t, "2026-02-01T12:00:00Z")
	s.UpsertHistory("room-1", []chat.Message{msg("a", base), msg("b", base.Add(time.Minute))})

	// server assigns "a" a later timestamp than "b"
	s.Reconcile("room-1", "a", Patch{CreatedAt: base.Add(2 * time.Minute)})
	list := s.ByRoom("room-1")
	if list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("order = %v, want [b a]", ids(list))
	}
}

func TestReconcileUnknownIDIsNoop(t *testing.T) {
	s := NewMessageStore()
	if s.Reconcile("room-1", "ghost", Patch{Status: chat.StatusSent}) {
		t.Fatal("reconcile of unknown id reported success")
	}
}

func TestByRoomReturnsCopy(t *testing.T) {
	s := NewMessageStore()
	s.UpsertHistory("room-1", []chat.Message{msg("a", at(t, "2026-02-01T12:00:00Z"))})
	list := s.ByRoom("room-1")
	list[0].Content = "mutated"
	if got, _ := s.Get("room-1", "a"); got.Content == "mutated" {
		t.Fatal("ByRoom leaked internal storage")
	}
}

func TestUnseenRoomIsEmpty(t *testing.T) {
	s := NewMessageStore()
	if got := s.ByRoom("nope"); len(got) != 0 {
		t.Fatalf("unseen room returned %d messages", len(got))
	}
	if _, ok := s.Oldest("nope"); ok {
		t.Fatal("oldest of unseen room")
	}
	if _, ok := s.Latest("nope"); ok {
		t.Fatal("latest of unseen room")
	}
}

func ids(list []chat.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}
