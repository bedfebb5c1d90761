package session

import (
	"context"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/events"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/money"
)

// OutboundMessage is what the realtime channel needs to deliver a chat
// message to the peer.
type OutboundMessage struct {
	ID       string
	SenderID int64
	Body     string
	Secure   bool
}

// RoomUpdate is the partial room state broadcast after a workflow action so
// peers converge without refetching.
type RoomUpdate struct {
	WorkflowID         string
	Status             string
	StatusBeforeCancel string
}

// Transport abstracts the realtime channel. Send errors must surface to the
// caller so the message store can mark the message failed; implementations do
// not retry silently (a silent retry risks duplicate sends).
type Transport interface {
	Join(ctx context.Context, roomID string) error
	Leave(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID string, msg OutboundMessage) error
	SendTyping(ctx context.Context, roomID string, typing bool) error
	SendReadReceipt(ctx context.Context, roomID, messageID string) error
	SendRoomUpdate(ctx context.Context, roomID string, update RoomUpdate) error
}

// ReadMarks is the per-room peer read-position cache.
type ReadMarks interface {
	SetPeerLastReadAt(ctx context.Context, roomID string, peerID int64, at time.Time) (bool, error)
	PeerLastReadAt(ctx context.Context, roomID string, peerID int64) (time.Time, bool, error)
}

// Archiver persists confirmed messages into durable history. Writes must be
// idempotent per message id: a live echo and a later backfill of the same
// message may both be archived.
type Archiver interface {
	Archive(ctx context.Context, msg chat.Message) error
}

// Presence exposes advisory online flags.
type Presence interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Wallet reports the employer's spendable balance, checked before a
// quotation can be approved.
type Wallet interface {
	AvailableBalance(ctx context.Context) (money.Money, error)
}

// EventPublisher forwards workflow domain events to the broker. Implementations
// must tolerate being handed events they do not know.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event events.DomainEvent) error
}

// RoomRepository persists room snapshots and own read markers so a session
// can be rebuilt after a restart. All methods are best-effort from the
// session's point of view.
type RoomRepository interface {
	SaveSnapshot(ctx context.Context, snapshot RoomSnapshotRecord) error
	Snapshot(ctx context.Context, roomID string) (RoomSnapshotRecord, error)
	SaveReadMarker(ctx context.Context, roomID string, userID int64, at time.Time) error
	ReadMarker(ctx context.Context, roomID string, userID int64) (time.Time, error)
}

// RoomSnapshotRecord is the persisted shape of a room snapshot. The
// participant fields are written when the marketplace provisions the room and
// identify who is on each side of the conversation.
type RoomSnapshotRecord struct {
	RoomID             string
	PostID             int64
	PostName           string
	PostBudget         int64
	CurrentCommentID   int64
	EmployerID         int64
	FreelancerID       int64
	EmployerWalletID   string
	WorkflowID         string
	Status             string
	StatusBeforeCancel string
	UpdatedAt          time.Time
}

// Forms and responses of the marketplace workflow API.

type CreateInvoiceForm struct {
	EmployerID   int64    `json:"employerId"`
	PostID       int64    `json:"postId"`
	CommentID    int64    `json:"commentId,omitempty"`
	SeqNumber    int      `json:"seqNumber"`
	Amount       int64    `json:"amount"`
	Proposal     string   `json:"proposal"`
	ProjectName  string   `json:"projectName,omitempty"`
	WorkingDays  int      `json:"workingDays,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
	StartingDay  string   `json:"startingDay,omitempty"`
	DeliveryDay  string   `json:"deliveryDay,omitempty"`
	RoomID       string   `json:"roomId"`
	WorkflowID   string   `json:"workFlowId"`
}

type CreateInvoiceResponse struct {
	BillingID string `json:"billingId"`
	SeqNumber int    `json:"seqNumber"`
	Success   bool   `json:"success"`
}

type StartWorkflowForm struct {
	RoomID       string `json:"roomId"`
	PostID       int64  `json:"postId"`
	EmployerID   int64  `json:"employerId"`
	FreelancerID int64  `json:"freelancerId"`
}

// OperationResponse is shared by every workflow mutation endpoint.
type OperationResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	Success    bool   `json:"success"`
}

type ApproveQuotationForm struct {
	SeqNumber  int    `json:"seqNumber"`
	BillingID  string `json:"billingId"`
	WalletID   string `json:"walletId"`
	WorkflowID string `json:"workflowId"`
}

type SubmitStartWorkForm struct {
	SeqNumber       int    `json:"seqNumber"`
	WorkflowID      string `json:"workflowId"`
	WorkDescription string `json:"workDescription,omitempty"`
	DeliverableURL  string `json:"deliverableUrl,omitempty"`
}

type RequestRevisionForm struct {
	SeqNumber  int    `json:"seqNumber"`
	WorkflowID string `json:"workflowId"`
	Reason     string `json:"reason"`
}

type ApproveWorkForm struct {
	SeqNumber  int    `json:"seqNumber"`
	WorkflowID string `json:"workflowId"`
}

type CancelJobForm struct {
	SeqNumber  int    `json:"seqNumber"`
	WorkflowID string `json:"workflowId"`
	Reason     string `json:"reason,omitempty"`
}

type SubmitUserReviewForm struct {
	RevieweeID int64  `json:"revieweeId"`
	WorkflowID string `json:"workflowId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
}

type SubmitUserReviewResponse struct {
	ReviewID string `json:"reviewId"`
	Success  bool   `json:"success"`
}

// WorkflowAPI is the remote backend consumed by workflow actions. Transport
// and auth live behind the implementation; callers only see request and
// response shapes.
type WorkflowAPI interface {
	CreateInvoice(ctx context.Context, form CreateInvoiceForm) (CreateInvoiceResponse, error)
	StartWorkflow(ctx context.Context, form StartWorkflowForm) (OperationResponse, error)
	ApproveQuotation(ctx context.Context, form ApproveQuotationForm) (OperationResponse, error)
	SubmitStartWork(ctx context.Context, form SubmitStartWorkForm) (OperationResponse, error)
	SubmitWork(ctx context.Context, form SubmitStartWorkForm) (OperationResponse, error)
	RequestRevision(ctx context.Context, form RequestRevisionForm) (OperationResponse, error)
	ApproveWork(ctx context.Context, form ApproveWorkForm) (OperationResponse, error)
	CancelJob(ctx context.Context, form CancelJobForm) (OperationResponse, error)
	SubmitUserReview(ctx context.Context, form SubmitUserReviewForm) (SubmitUserReviewResponse, error)
}
