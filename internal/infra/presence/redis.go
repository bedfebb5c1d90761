package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOnlineTTL bounds how long a user stays online without a heartbeat.
const DefaultOnlineTTL = 90 * time.Second

// setIfNewer writes the read marker only when it advances, so receipts
// arriving out of order across instances cannot move it backwards.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisTracker backs read markers and presence with Redis so every instance
// serving the same room sees the same state. It satisfies the session's
// ReadMarks and Presence ports.
type RedisTracker struct {
	rdb       *redis.Client
	onlineTTL time.Duration
}

func NewRedisTracker(rdb *redis.Client, onlineTTL time.Duration) *RedisTracker {
	if onlineTTL <= 0 {
		onlineTTL = DefaultOnlineTTL
	}
	return &RedisTracker{rdb: rdb, onlineTTL: onlineTTL}
}

func readKey(roomID string, peerID int64) string {
	return fmt.Sprintf("chat:read:%s:%d", roomID, peerID)
}

func onlineKey(userID int64) string {
	return fmt.Sprintf("chat:online:%d", userID)
}

func (t *RedisTracker) SetPeerLastReadAt(ctx context.Context, roomID string, peerID int64, at time.Time) (bool, error) {
	if at.IsZero() {
		return false, nil
	}
	res, err := setIfNewer.Run(ctx, t.rdb, []string{readKey(roomID, peerID)}, at.UnixNano()).Int()
	if err != nil {
		return false, fmt.Errorf("presence: set read marker: %w", err)
	}
	return res == 1, nil
}

func (t *RedisTracker) PeerLastReadAt(ctx context.Context, roomID string, peerID int64) (time.Time, bool, error) {
	raw, err := t.rdb.Get(ctx, readKey(roomID, peerID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: get read marker: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: corrupt read marker %q: %w", raw, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (t *RedisTracker) SetOnline(ctx context.Context, userID int64, online bool) error {
	if !online {
		if err := t.rdb.Del(ctx, onlineKey(userID)).Err(); err != nil {
			return fmt.Errorf("presence: clear online: %w", err)
		}
		return nil
	}
	if err := t.rdb.Set(ctx, onlineKey(userID), "1", t.onlineTTL).Err(); err != nil {
		return fmt.Errorf("presence: set online: %w", err)
	}
	return nil
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := t.rdb.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence: check online: %w", err)
	}
	return n > 0, nil
}
