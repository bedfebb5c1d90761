package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/store"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/money"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/workflow"
)

var (
	ErrAPIRequired         = errors.New("session: workflow api is not configured")
	ErrInsufficientBalance = errors.New("session: insufficient balance to approve this quotation")
	ErrWalletRequired      = errors.New("session: no balance source to approve against")
	ErrQuoteMissing        = errors.New("session: no quotation found in this room")
	ErrDeliverableRequired = errors.New("session: a delivery file or link is required")
	ErrReasonRequired      = errors.New("session: a reason is required")
	ErrInvalidRating       = errors.New("session: rating must be between 1 and 5")
)

// QuoteForm is the freelancer's proposed price and schedule.
type QuoteForm struct {
	Amount       int64
	Currency     string
	Proposal     string
	ProjectName  string
	WorkingDays  int
	Deliverables []string
	StartingDay  string
	DeliveryDay  string
}

// DeliveryForm carries a work submission.
type DeliveryForm struct {
	WorkDescription string
	DeliverableURL  string
	FileName        string
	FileSize        int64
}

// Actions drives the hiring workflow for one session. Every action follows
// the same discipline: all guards run before the API call, and only a
// successful call moves the state machine, emits the structured chat message
// and broadcasts the room update. A failed call leaves no partial effects.
type Actions struct {
	s *Session
}

// Actions returns the workflow action surface of the session.
func (s *Session) Actions() *Actions {
	return &Actions{s: s}
}

// StartHiring moves Idle -> Started and documents it in chat.
func (a *Actions) StartHiring(ctx context.Context) error {
	if err := a.guard(workflow.StatusStarted); err != nil {
		return err
	}
	snap := a.s.Snapshot()
	form := StartWorkflowForm{
		RoomID: a.s.roomID,
		PostID: snap.Room.Post.ID,
	}
	if a.s.employer {
		form.EmployerID = a.s.userID
		form.FreelancerID = a.s.peerID
	} else {
		form.EmployerID = a.s.peerID
		form.FreelancerID = a.s.userID
	}
	resp, err := a.s.api.StartWorkflow(ctx, form)
	if err != nil {
		return fmt.Errorf("session: start workflow: %w", err)
	}
	a.adoptWorkflowID(resp.WorkflowID)
	return a.commit(ctx, workflow.StatusStarted, chat.EmployerStarted{
		PostID:   snap.Room.Post.ID,
		PostName: snap.Room.Post.Name,
	})
}

// SubmitQuotation creates the invoice and moves Started -> QuoteProposed.
func (a *Actions) SubmitQuotation(ctx context.Context, form QuoteForm) error {
	if err := a.guard(workflow.StatusQuoteProposed); err != nil {
		return err
	}
	if form.Amount <= 0 {
		return errors.New("session: quotation amount must be positive")
	}
	snap := a.s.Snapshot()
	resp, err := a.s.api.CreateInvoice(ctx, CreateInvoiceForm{
		EmployerID:   a.s.peerID,
		PostID:       snap.Room.Post.ID,
		CommentID:    snap.Room.CurrentCommentID,
		SeqNumber:    a.s.nextSeq(),
		Amount:       form.Amount,
		Proposal:     form.Proposal,
		ProjectName:  form.ProjectName,
		WorkingDays:  form.WorkingDays,
		Deliverables: form.Deliverables,
		StartingDay:  form.StartingDay,
		DeliveryDay:  form.DeliveryDay,
		RoomID:       a.s.roomID,
		WorkflowID:   a.workflowID(),
	})
	if err != nil {
		return fmt.Errorf("session: create invoice: %w", err)
	}
	a.s.mu.Lock()
	a.s.billingID = resp.BillingID
	if resp.SeqNumber > 0 {
		a.s.seqNumber = resp.SeqNumber
	}
	a.s.mu.Unlock()
	return a.commit(ctx, workflow.StatusQuoteProposed, chat.ProposedQuote{
		Amount:       form.Amount,
		Currency:     form.Currency,
		Proposal:     form.Proposal,
		ProjectName:  form.ProjectName,
		WorkingDays:  form.WorkingDays,
		Deliverables: form.Deliverables,
		StartingDay:  form.StartingDay,
		DeliveryDay:  form.DeliveryDay,
	})
}

// ApproveQuotation checks the wallet balance against the latest quote before
// touching the API, then moves QuoteProposed -> QuoteApproved.
func (a *Actions) ApproveQuotation(ctx context.Context) error {
	if err := a.guard(workflow.StatusQuoteApproved); err != nil {
		return err
	}
	quote, ok := a.latestQuote()
	if !ok {
		return ErrQuoteMissing
	}
	// The balance guard fails closed: no wallet source means no approval.
	if a.s.wallet == nil {
		return ErrWalletRequired
	}
	balance, err := a.s.wallet.AvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("session: wallet balance: %w", err)
	}
	price := money.Money{Amount: quote.Amount, Currency: balance.Currency}
	if quote.Currency != "" {
		price.Currency = strings.ToUpper(quote.Currency)
	}
	covered, err := balance.Covers(price)
	if err != nil {
		return fmt.Errorf("session: wallet balance: %w", err)
	}
	if !covered {
		return ErrInsufficientBalance
	}
	a.s.mu.Lock()
	seq, billing := a.s.seqNumber, a.s.billingID
	a.s.mu.Unlock()
	if _, err := a.s.api.ApproveQuotation(ctx, ApproveQuotationForm{
		SeqNumber:  seq,
		BillingID:  billing,
		WalletID:   a.s.walletID,
		WorkflowID: a.workflowID(),
	}); err != nil {
		return fmt.Errorf("session: approve quotation: %w", err)
	}
	return a.commit(ctx, workflow.StatusQuoteApproved, chat.EmployerAssigned{Amount: quote.Amount})
}

// StartWork moves QuoteApproved -> WorkInProgress.
func (a *Actions) StartWork(ctx context.Context, note string) error {
	if err := a.guard(workflow.StatusWorkInProgress); err != nil {
		return err
	}
	if _, err := a.s.api.SubmitStartWork(ctx, SubmitStartWorkForm{
		SeqNumber:       a.seq(),
		WorkflowID:      a.workflowID(),
		WorkDescription: note,
	}); err != nil {
		return fmt.Errorf("session: start work: %w", err)
	}
	return a.commit(ctx, workflow.StatusWorkInProgress, chat.StartWork{Note: note})
}

// SubmitDelivery moves WorkInProgress (or RevisionRequested, on a
// resubmission) -> DeliverySubmitted. A file or link must be attached.
func (a *Actions) SubmitDelivery(ctx context.Context, form DeliveryForm) error {
	if err := a.guard(workflow.StatusDeliverySubmitted); err != nil {
		return err
	}
	if strings.TrimSpace(form.DeliverableURL) == "" {
		return ErrDeliverableRequired
	}
	if _, err := a.s.api.SubmitWork(ctx, SubmitStartWorkForm{
		SeqNumber:       a.seq(),
		WorkflowID:      a.workflowID(),
		WorkDescription: form.WorkDescription,
		DeliverableURL:  form.DeliverableURL,
	}); err != nil {
		return fmt.Errorf("session: submit delivery: %w", err)
	}
	return a.commit(ctx, workflow.StatusDeliverySubmitted, chat.SubmitDelivery{
		WorkDescription: form.WorkDescription,
		DeliverableURL:  form.DeliverableURL,
		FileName:        form.FileName,
		FileSize:        form.FileSize,
	})
}

// RequestRevision moves DeliverySubmitted -> RevisionRequested with a reason.
func (a *Actions) RequestRevision(ctx context.Context, reason string) error {
	if err := a.guard(workflow.StatusRevisionRequested); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	if _, err := a.s.api.RequestRevision(ctx, RequestRevisionForm{
		SeqNumber:  a.seq(),
		WorkflowID: a.workflowID(),
		Reason:     reason,
	}); err != nil {
		return fmt.Errorf("session: request revision: %w", err)
	}
	return a.commit(ctx, workflow.StatusRevisionRequested, chat.RequestRevision{Reason: reason})
}

// ApproveWork moves DeliverySubmitted -> Completed, releasing payment, and
// prompts the employer for a review.
func (a *Actions) ApproveWork(ctx context.Context) error {
	if err := a.guard(workflow.StatusCompleted); err != nil {
		return err
	}
	if _, err := a.s.api.ApproveWork(ctx, ApproveWorkForm{
		SeqNumber:  a.seq(),
		WorkflowID: a.workflowID(),
	}); err != nil {
		return fmt.Errorf("session: approve work: %w", err)
	}
	var amount int64
	if quote, ok := a.latestQuote(); ok {
		amount = quote.Amount
	}
	if err := a.commit(ctx, workflow.StatusCompleted, chat.DeliveryAccepted{Amount: amount}); err != nil {
		return err
	}
	if a.s.employer && a.s.reviewPrompt != nil {
		a.s.reviewPrompt()
	}
	return nil
}

// CancelJob cancels from any non-terminal state, recording the prior stage.
func (a *Actions) CancelJob(ctx context.Context, reason string) error {
	if err := a.guard(workflow.StatusCancelled); err != nil {
		return err
	}
	prior := a.s.machine.State()
	if _, err := a.s.api.CancelJob(ctx, CancelJobForm{
		SeqNumber:  a.seq(),
		WorkflowID: a.workflowID(),
		Reason:     reason,
	}); err != nil {
		return fmt.Errorf("session: cancel job: %w", err)
	}
	priorAPI, _ := workflow.ToAPIStatus(prior)
	return a.commit(ctx, workflow.StatusCancelled, chat.CancelJob{
		Reason:      reason,
		PriorStatus: priorAPI,
	})
}

// SubmitReview posts the post-completion review and documents it in chat.
// The workflow state does not move.
func (a *Actions) SubmitReview(ctx context.Context, rating int, comment string) error {
	if err := a.s.ensureCanSend(); err != nil {
		return err
	}
	if a.s.api == nil {
		return ErrAPIRequired
	}
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	if _, err := a.s.api.SubmitUserReview(ctx, SubmitUserReviewForm{
		RevieweeID: a.s.peerID,
		WorkflowID: a.workflowID(),
		Rating:     rating,
		Comment:    comment,
	}); err != nil {
		return fmt.Errorf("session: submit review: %w", err)
	}
	a.emit(ctx, chat.ReviewSubmitted{Rating: rating, Comment: comment})
	return nil
}

// guard runs the shared preconditions: the user must be able to send and the
// machine must accept the transition, all before any network call.
func (a *Actions) guard(to workflow.Status) error {
	if err := a.s.ensureCanSend(); err != nil {
		return err
	}
	if a.s.api == nil {
		return ErrAPIRequired
	}
	if !a.s.machine.CanGoTo(to) {
		return fmt.Errorf("%w: %s -> %s", workflow.ErrInvalidTransition, a.s.machine.State(), to)
	}
	return nil
}

// commit applies the local transition, emits the structured message and
// broadcasts the room update. It only runs after a successful API call.
func (a *Actions) commit(ctx context.Context, to workflow.Status, payload chat.Payload) error {
	if err := a.s.machine.Go(to); err != nil {
		return err
	}
	a.emit(ctx, payload)
	a.publishEvents(ctx)
	a.broadcast(ctx)
	return nil
}

// emit inserts and transmits a structured workflow message. Transport
// failures leave the message in failed state for a retry; they do not undo
// the transition.
func (a *Actions) emit(ctx context.Context, payload chat.Payload) {
	content, err := chat.EncodePayload(payload)
	if err != nil {
		a.s.log.Error("payload encode failed", "error", err)
		return
	}
	msg := chat.NewOutgoing(a.s.roomID, a.s.userID, content, time.Now())
	a.s.store.InsertOptimistic(msg)
	if a.s.loader != nil {
		a.s.loader.MarkReceived(msg.ID)
	}
	if err := a.s.transport.SendMessage(ctx, a.s.roomID, OutboundMessage{
		ID:       msg.ID,
		SenderID: a.s.userID,
		Body:     content,
		Secure:   true,
	}); err != nil {
		a.s.log.Warn("workflow message send failed", "error", err, "kind", payload.Kind())
		a.s.store.Reconcile(a.s.roomID, msg.ID, store.Patch{Status: chat.StatusFailed})
	}
}

func (a *Actions) broadcast(ctx context.Context) {
	state := a.s.machine.State()
	update := RoomUpdate{WorkflowID: a.workflowID()}
	if api, ok := workflow.ToAPIStatus(state); ok {
		update.Status = api
	}
	if prior, ok := a.s.machine.StatusBeforeCancel(); ok {
		if api, ok := workflow.ToAPIStatus(prior); ok {
			update.StatusBeforeCancel = api
		}
	}
	a.s.mu.Lock()
	a.s.snapshot.Workflow.ID = update.WorkflowID
	a.s.snapshot.Workflow.Status = update.Status
	a.s.snapshot.Workflow.StatusBeforeCancel = update.StatusBeforeCancel
	a.s.mu.Unlock()
	if err := a.s.transport.SendRoomUpdate(ctx, a.s.roomID, update); err != nil {
		a.s.log.Warn("room update broadcast failed", "error", err)
	}
}

func (a *Actions) publishEvents(ctx context.Context) {
	if a.s.events == nil {
		a.s.machine.DrainEvents()
		return
	}
	for _, event := range a.s.machine.DrainEvents() {
		if err := a.s.events.PublishEvent(ctx, event); err != nil {
			a.s.log.Warn("event publish failed", "error", err, "event", event.EventName())
		}
	}
}

// latestQuote walks the room history backwards for the newest quotation.
func (a *Actions) latestQuote() (chat.ProposedQuote, bool) {
	messages := a.s.store.ByRoom(a.s.roomID)
	for i := len(messages) - 1; i >= 0; i-- {
		payload, ok, err := chat.DecodePayload(messages[i].Content)
		if err != nil || !ok {
			continue
		}
		if quote, ok := payload.(chat.ProposedQuote); ok {
			return quote, true
		}
	}
	return chat.ProposedQuote{}, false
}

func (a *Actions) workflowID() string {
	snap := a.s.Snapshot()
	if snap.Workflow.ID != "" {
		return snap.Workflow.ID
	}
	return a.s.machine.ID()
}

func (a *Actions) adoptWorkflowID(id string) {
	if id == "" {
		return
	}
	a.s.mu.Lock()
	a.s.snapshot.Workflow.ID = id
	a.s.mu.Unlock()
}

func (a *Actions) seq() int {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.seqNumber
}

func (s *Session) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqNumber++
	return s.seqNumber
}
