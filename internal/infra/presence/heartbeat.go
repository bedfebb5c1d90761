package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
)

// Heartbeat refreshes the online flag of every user with a live session so
// the Redis TTL never lapses while they are connected. The interval must stay
// well under the tracker's TTL.
type Heartbeat struct {
	Tracker  session.Presence
	Sessions *session.Manager
	Interval time.Duration
	Logger   *slog.Logger
}

func (h Heartbeat) Run(ctx context.Context) error {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultOnlineTTL / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h Heartbeat) beat(ctx context.Context) {
	if h.Tracker == nil || h.Sessions == nil {
		return
	}
	seen := make(map[int64]struct{})
	for _, s := range h.Sessions.All() {
		id := s.UserID()
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		if err := h.Tracker.SetOnline(ctx, id, true); err != nil && h.Logger != nil {
			h.Logger.Warn("presence refresh failed", "error", err, "user_id", id)
		}
	}
}
