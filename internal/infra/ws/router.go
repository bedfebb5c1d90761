package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/broker/kafka"
)

// Router fans inbound realtime and broker events out to the live sessions of
// the affected room. It implements both the ws Sink and the Kafka room update
// handler so either source converges through the same code path.
type Router struct {
	sessions *session.Manager
	log      *slog.Logger

	// OnDisconnect is invoked once when the realtime connection drops, so the
	// owner can schedule a reconnect.
	OnDisconnect func(err error)
}

func NewRouter(sessions *session.Manager, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{sessions: sessions, log: log.With("component", "router")}
}

func (r *Router) InboundMessage(roomID string, msg chat.Message) {
	for _, s := range r.sessions.ByRoom(roomID) {
		s.HandleInboundMessage(msg)
	}
}

func (r *Router) PartnerTyping(roomID string, _ int64, typing bool) {
	for _, s := range r.sessions.ByRoom(roomID) {
		s.HandlePartnerTyping(typing)
	}
}

func (r *Router) Presence(userID int64, online bool) {
	for _, s := range r.sessions.All() {
		s.HandlePresence(context.Background(), userID, online)
	}
}

func (r *Router) ReadReceipt(roomID string, readerID int64, messageID string, at time.Time) {
	for _, s := range r.sessions.ByRoom(roomID) {
		s.HandleReadReceipt(context.Background(), readerID, messageID, at)
	}
}

func (r *Router) RoomUpdated(roomID string, info chat.WorkflowInfo) {
	for _, s := range r.sessions.ByRoom(roomID) {
		snap := s.Snapshot()
		snap.Workflow = info
		s.HandleRoomRefresh(context.Background(), snap)
	}
}

func (r *Router) Disconnected(err error) {
	if err != nil {
		r.log.Warn("realtime connection lost", "error", err)
	}
	if r.OnDisconnect != nil {
		r.OnDisconnect(err)
	}
}

// HandleRoomUpdate satisfies the Kafka consumer contract for cross-process
// workflow updates.
func (r *Router) HandleRoomUpdate(_ context.Context, event kafka.RoomUpdateEvent) error {
	r.RoomUpdated(event.RoomID, chat.WorkflowInfo{
		ID:                 event.WorkflowID,
		Status:             event.Status,
		StatusBeforeCancel: event.StatusBeforeCancel,
	})
	return nil
}
