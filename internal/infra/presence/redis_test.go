package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisTracker(rdb, time.Minute), mr
}

func TestReadMarkerMonotonicAcrossInstances(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()
	t1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	applied, err := tracker.SetPeerLastReadAt(ctx, "room-1", 7, t1)
	if err != nil || !applied {
		t.Fatalf("first set: applied=%v err=%v", applied, err)
	}
	if applied, _ = tracker.SetPeerLastReadAt(ctx, "room-1", 7, t1.Add(-time.Second)); applied {
		t.Fatal("stale marker applied")
	}
	if applied, _ = tracker.SetPeerLastReadAt(ctx, "room-1", 7, t1); applied {
		t.Fatal("equal marker applied")
	}
	if applied, _ = tracker.SetPeerLastReadAt(ctx, "room-1", 7, t1.Add(time.Second)); !applied {
		t.Fatal("newer marker rejected")
	}

	got, ok, err := tracker.PeerLastReadAt(ctx, "room-1", 7)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.Equal(t1.Add(time.Second)) {
		t.Fatalf("marker = %v", got)
	}
}

func TestReadMarkerMissing(t *testing.T) {
	tracker, _ := newTracker(t)
	if _, ok, err := tracker.PeerLastReadAt(context.Background(), "room-1", 7); ok || err != nil {
		t.Fatalf("missing marker: ok=%v err=%v", ok, err)
	}
}

func TestOnlineFlagExpires(t *testing.T) {
	tracker, mr := newTracker(t)
	ctx := context.Background()

	if err := tracker.SetOnline(ctx, 42, true); err != nil {
		t.Fatal(err)
	}
	online, err := tracker.IsOnline(ctx, 42)
	if err != nil || !online {
		t.Fatalf("online=%v err=%v", online, err)
	}

	// no heartbeat within the TTL
	mr.FastForward(2 * time.Minute)
	if online, _ = tracker.IsOnline(ctx, 42); online {
		t.Fatal("online flag survived the TTL")
	}
}

func TestOfflineClearsFlag(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()
	tracker.SetOnline(ctx, 42, true)
	if err := tracker.SetOnline(ctx, 42, false); err != nil {
		t.Fatal(err)
	}
	if online, _ := tracker.IsOnline(ctx, 42); online {
		t.Fatal("offline not applied")
	}
}
