package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/history"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/store"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/workflow"
)

var (
	ErrNotAvailable   = errors.New("session: you are not available right now")
	ErrSubmitInFlight = errors.New("session: a message submission is already in flight")
	ErrEmptyMessage   = errors.New("session: message body is empty")
	ErrNotRetryable   = errors.New("session: message is not in a failed state")
	ErrClosed         = errors.New("session: room is closed")
)

// DefaultReadDebounce spaces out read-receipt resends triggered by refocus
// and visibility events.
const DefaultReadDebounce = 120 * time.Millisecond

// DefaultTypingIdle is how long after the last keystroke the typing-stop
// signal goes out.
const DefaultTypingIdle = 3 * time.Second

// Params wires one chat room session together.
type Params struct {
	RoomID   string
	UserID   int64
	PeerID   int64
	Employer bool
	WalletID string

	Snapshot chat.RoomSnapshot

	Store     *store.MessageStore
	Reads     ReadMarks
	Presence  Presence
	Loader    *history.Loader
	Transport Transport
	Machine   *workflow.Machine
	API       WorkflowAPI
	Wallet    Wallet
	Events    EventPublisher
	Rooms     RoomRepository
	Archive   Archiver
	Logger    *slog.Logger

	ReadDebounce time.Duration
	TypingIdle   time.Duration

	// Available reports whether the current user accepts work and messages.
	// A nil hook means always available.
	Available func() bool
	// Visible reports whether the client surface is focused and visible;
	// read receipts are suppressed while backgrounded. Nil means visible.
	Visible func() bool
	// OnReviewPrompt fires after an employer approves delivered work.
	OnReviewPrompt func()
}

// Session orchestrates one chat room: it owns message submission, read
// receipts, presence bookkeeping, history bootstrap and the workflow state
// machine, and is the single writer for the room's message list.
type Session struct {
	roomID   string
	userID   int64
	peerID   int64
	employer bool
	walletID string

	store     *store.MessageStore
	reads     ReadMarks
	presence  Presence
	loader    *history.Loader
	transport Transport
	machine   *workflow.Machine
	api       WorkflowAPI
	wallet    Wallet
	events    EventPublisher
	rooms     RoomRepository
	archive   Archiver
	log       *slog.Logger

	readDebounce time.Duration
	typingIdle   time.Duration
	available    func() bool
	visible      func() bool
	reviewPrompt func()

	mu            sync.Mutex
	snapshot      chat.RoomSnapshot
	submitting    bool
	closed        bool
	partnerTyping bool
	typingOut     bool
	sentReads     map[string]struct{}
	seqNumber     int
	billingID     string
	readTimer     *time.Timer
	typingTimer   *time.Timer
}

// New validates wiring and builds a session.
func New(p Params) (*Session, error) {
	if p.RoomID == "" {
		return nil, errors.New("session: room id required")
	}
	if p.UserID == 0 {
		return nil, errors.New("session: user id required")
	}
	if p.Store == nil || p.Transport == nil || p.Machine == nil {
		return nil, errors.New("session: store, transport and machine are required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.ReadDebounce <= 0 {
		p.ReadDebounce = DefaultReadDebounce
	}
	if p.TypingIdle <= 0 {
		p.TypingIdle = DefaultTypingIdle
	}
	return &Session{
		roomID:       p.RoomID,
		userID:       p.UserID,
		peerID:       p.PeerID,
		employer:     p.Employer,
		walletID:     p.WalletID,
		snapshot:     p.Snapshot,
		store:        p.Store,
		reads:        p.Reads,
		presence:     p.Presence,
		loader:       p.Loader,
		transport:    p.Transport,
		machine:      p.Machine,
		api:          p.API,
		wallet:       p.Wallet,
		events:       p.Events,
		rooms:        p.Rooms,
		archive:      p.Archive,
		log:          p.Logger.With("room_id", p.RoomID, "user_id", p.UserID),
		readDebounce: p.ReadDebounce,
		typingIdle:   p.TypingIdle,
		available:    p.Available,
		visible:      p.Visible,
		reviewPrompt: p.OnReviewPrompt,
		sentReads:    make(map[string]struct{}),
	}, nil
}

// Enter announces the room, seeds the peer read marker from persistence,
// bootstraps history and marks the latest message read.
func (s *Session) Enter(ctx context.Context) error {
	if err := s.transport.Join(ctx, s.roomID); err != nil {
		return fmt.Errorf("session: join room: %w", err)
	}
	if s.rooms != nil && s.reads != nil {
		if at, err := s.rooms.ReadMarker(ctx, s.roomID, s.peerID); err == nil && !at.IsZero() {
			_, _ = s.reads.SetPeerLastReadAt(ctx, s.roomID, s.peerID, at)
		}
	}
	if s.loader != nil {
		if err := s.loader.Bootstrap(ctx); err != nil {
			s.log.Warn("history bootstrap failed", "error", err)
		}
	}
	s.SendLatestRead(ctx)
	return nil
}

// Leave announces departure and persists the room snapshot. Pending timers
// are stopped so no callback fires after the room is closed.
func (s *Session) Leave(ctx context.Context) error {
	s.stopTimers()
	s.persistSnapshot(ctx)
	if err := s.transport.Leave(ctx, s.roomID); err != nil {
		return fmt.Errorf("session: leave room: %w", err)
	}
	return nil
}

// Close tears the session down without announcing anything.
func (s *Session) Close() {
	s.stopTimers()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// SendText gates, optimistically inserts and transmits a plain text message.
// The returned message stays pending until the server echo acknowledges it;
// a transport failure marks it failed and the error is surfaced for a retry
// affordance.
func (s *Session) SendText(ctx context.Context, body string) (chat.Message, error) {
	if err := s.ensureCanSend(); err != nil {
		return chat.Message{}, err
	}
	msg := chat.NewOutgoing(s.roomID, s.userID, body, time.Now())
	if msg.Content == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	if err := s.beginSubmit(); err != nil {
		return chat.Message{}, err
	}
	defer s.endSubmit()

	s.store.InsertOptimistic(msg)
	if s.loader != nil {
		s.loader.MarkReceived(msg.ID)
	}
	if err := s.transport.SendMessage(ctx, s.roomID, OutboundMessage{ID: msg.ID, SenderID: s.userID, Body: msg.Content}); err != nil {
		s.store.Reconcile(s.roomID, msg.ID, store.Patch{Status: chat.StatusFailed})
		return msg, fmt.Errorf("session: send message: %w", err)
	}
	return msg, nil
}

// Retry re-transmits a message previously marked failed.
func (s *Session) Retry(ctx context.Context, messageID string) error {
	msg, ok := s.store.Get(s.roomID, messageID)
	if !ok || msg.Status != chat.StatusFailed {
		return ErrNotRetryable
	}
	s.store.Reconcile(s.roomID, messageID, store.Patch{Status: chat.StatusPending})
	if err := s.transport.SendMessage(ctx, s.roomID, OutboundMessage{ID: msg.ID, SenderID: s.userID, Body: msg.Content}); err != nil {
		s.store.Reconcile(s.roomID, messageID, store.Patch{Status: chat.StatusFailed})
		return fmt.Errorf("session: retry message: %w", err)
	}
	return nil
}

// SendLatestRead marks the newest message read for the peer's benefit. It is
// skipped when the surface is hidden, when the last message is the user's
// own, and when a receipt for that exact id already went out this session.
func (s *Session) SendLatestRead(ctx context.Context) {
	if s.visible != nil && !s.visible() {
		return
	}
	latest, ok := s.store.Latest(s.roomID)
	if !ok || latest.OwnedBy(s.userID) {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, sent := s.sentReads[latest.ID]; sent {
		s.mu.Unlock()
		return
	}
	s.sentReads[latest.ID] = struct{}{}
	s.mu.Unlock()

	if err := s.transport.SendReadReceipt(ctx, s.roomID, latest.ID); err != nil {
		s.log.Warn("read receipt send failed", "error", err, "message_id", latest.ID)
		s.mu.Lock()
		delete(s.sentReads, latest.ID)
		s.mu.Unlock()
		return
	}
	if s.rooms != nil {
		if err := s.rooms.SaveReadMarker(ctx, s.roomID, s.userID, latest.CreatedAt); err != nil {
			s.log.Warn("read marker persist failed", "error", err)
		}
	}
}

// NotifyRefocus re-attempts the latest read receipt after focus, visibility,
// pageshow or online events. Calls are debounced; the pending timer is
// cancelled on teardown.
func (s *Session) NotifyRefocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.readTimer != nil {
		s.readTimer.Stop()
	}
	s.readTimer = time.AfterFunc(s.readDebounce, func() {
		s.SendLatestRead(context.Background())
	})
}

// NotifyTyping signals the peer that the user is typing and schedules the
// stop signal after an idle interval.
func (s *Session) NotifyTyping(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	first := !s.typingOut
	s.typingOut = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingIdle, func() {
		s.mu.Lock()
		s.typingOut = false
		s.mu.Unlock()
		if err := s.transport.SendTyping(context.Background(), s.roomID, false); err != nil {
			s.log.Warn("typing stop send failed", "error", err)
		}
	})
	s.mu.Unlock()
	if first {
		if err := s.transport.SendTyping(ctx, s.roomID, true); err != nil {
			s.log.Warn("typing send failed", "error", err)
		}
	}
}

// HandleInboundMessage reconciles a live broadcast into the store: a known id
// flips to sent (the ack path for optimistic sends), an unknown one is merged
// like a history entry. Confirmed messages go to the archive; peer messages
// trigger a read-receipt attempt.
func (s *Session) HandleInboundMessage(msg chat.Message) {
	if msg.ID == "" {
		return
	}
	msg.RoomID = s.roomID
	msg.Status = chat.StatusSent
	if prior, known := s.store.Get(s.roomID, msg.ID); known {
		if msg.Content == "" {
			msg.Content = prior.Content
		}
		if msg.SenderID == 0 {
			msg.SenderID = prior.SenderID
		}
		s.store.Reconcile(s.roomID, msg.ID, store.Patch{
			Status:    chat.StatusSent,
			CreatedAt: msg.CreatedAt,
		})
	} else {
		s.store.UpsertHistory(s.roomID, []chat.Message{msg})
	}
	if s.loader != nil {
		s.loader.MarkReceived(msg.ID)
	}
	if s.archive != nil {
		if err := s.archive.Archive(context.Background(), msg); err != nil {
			s.log.Warn("message archive failed", "error", err, "message_id", msg.ID)
		}
	}
	if !msg.OwnedBy(s.userID) {
		s.NotifyRefocus()
	}
}

// HandleRoomRefresh applies a server room snapshot: room metadata is adopted
// as-is, workflow status goes through the machine's grace-window
// reconciliation.
func (s *Session) HandleRoomRefresh(ctx context.Context, snap chat.RoomSnapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	status, ok := workflow.FromAPIStatus(snap.Workflow.Status)
	if !ok {
		s.log.Warn("unknown workflow status in snapshot", "status", snap.Workflow.Status)
		return
	}
	var before workflow.Status
	if snap.Workflow.StatusBeforeCancel != "" {
		before, _ = workflow.FromAPIStatus(snap.Workflow.StatusBeforeCancel)
	}
	if !s.machine.Reconcile(status, before) {
		s.log.Debug("snapshot ignored inside grace window", "remote", status)
	}
	s.persistSnapshot(ctx)
}

// HandlePartnerTyping records the peer's typing indicator.
func (s *Session) HandlePartnerTyping(typing bool) {
	s.mu.Lock()
	s.partnerTyping = typing
	s.mu.Unlock()
}

// HandlePresence records an online/offline event for any user.
func (s *Session) HandlePresence(ctx context.Context, userID int64, online bool) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOnline(ctx, userID, online); err != nil {
		s.log.Warn("presence update failed", "error", err, "peer_id", userID)
	}
}

// HandleReadReceipt advances the peer's read marker. The timestamp falls back
// to the referenced message's creation time when the event carries none.
func (s *Session) HandleReadReceipt(ctx context.Context, readerID int64, messageID string, at time.Time) {
	if s.reads == nil || readerID == s.userID {
		return
	}
	if at.IsZero() {
		if msg, ok := s.store.Get(s.roomID, messageID); ok {
			at = msg.CreatedAt
		}
	}
	if at.IsZero() {
		return
	}
	if _, err := s.reads.SetPeerLastReadAt(ctx, s.roomID, readerID, at); err != nil {
		s.log.Warn("read marker update failed", "error", err, "peer_id", readerID)
	}
}

// Messages returns the room's ordered history.
func (s *Session) Messages() []chat.Message {
	return s.store.ByRoom(s.roomID)
}

// PartnerTyping reports the peer's current typing state.
func (s *Session) PartnerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partnerTyping
}

// ReadByPeer reports whether the peer has read the given message.
func (s *Session) ReadByPeer(ctx context.Context, msg chat.Message) bool {
	if s.reads == nil {
		return false
	}
	at, ok, err := s.reads.PeerLastReadAt(ctx, s.roomID, s.peerID)
	if err != nil || !ok {
		return false
	}
	return !msg.CreatedAt.After(at)
}

// PeerOnline reports the peer's advisory presence flag.
func (s *Session) PeerOnline(ctx context.Context) bool {
	if s.presence == nil {
		return false
	}
	online, err := s.presence.IsOnline(ctx, s.peerID)
	if err != nil {
		return false
	}
	return online
}

// RoomID returns the room this session serves.
func (s *Session) RoomID() string {
	return s.roomID
}

// UserID returns the user this session belongs to.
func (s *Session) UserID() int64 {
	return s.userID
}

// Workflow exposes the room's state machine for rendering.
func (s *Session) Workflow() *workflow.Machine {
	return s.machine
}

// Snapshot returns the latest known room snapshot.
func (s *Session) Snapshot() chat.RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// History exposes the loader for explicit older-page fetches.
func (s *Session) History() *history.Loader {
	return s.loader
}

func (s *Session) ensureCanSend() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	// Partner unavailability never blocks sending; only the current user's
	// own availability gates the input.
	if s.available != nil && !s.available() {
		return ErrNotAvailable
	}
	return nil
}

func (s *Session) beginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return ErrSubmitInFlight
	}
	s.submitting = true
	return nil
}

func (s *Session) endSubmit() {
	s.mu.Lock()
	s.submitting = false
	s.mu.Unlock()
}

func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readTimer != nil {
		s.readTimer.Stop()
		s.readTimer = nil
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

func (s *Session) persistSnapshot(ctx context.Context) {
	if s.rooms == nil {
		return
	}
	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()
	record := RoomSnapshotRecord{
		RoomID:             s.roomID,
		PostID:             snap.Room.Post.ID,
		PostName:           snap.Room.Post.Name,
		PostBudget:         snap.Room.Post.Budget,
		CurrentCommentID:   snap.Room.CurrentCommentID,
		WorkflowID:         snap.Workflow.ID,
		EmployerID:         s.employerID(),
		FreelancerID:       s.freelancerID(),
		Status:             snap.Workflow.Status,
		StatusBeforeCancel: snap.Workflow.StatusBeforeCancel,
		UpdatedAt:          time.Now().UTC(),
	}
	if s.employer {
		record.EmployerWalletID = s.walletID
	}
	if err := s.rooms.SaveSnapshot(ctx, record); err != nil {
		s.log.Warn("room snapshot persist failed", "error", err)
	}
}

func (s *Session) employerID() int64 {
	if s.employer {
		return s.userID
	}
	return s.peerID
}

func (s *Session) freelancerID() int64 {
	if s.employer {
		return s.peerID
	}
	return s.userID
}
