package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/money"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/workflow"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	err   error

	invoiceResp CreateInvoiceResponse
	lastInvoice CreateInvoiceForm
	lastApprove ApproveQuotationForm
	lastCancel  CancelJobForm
	lastReview  SubmitUserReviewForm
}

func (f *fakeAPI) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) CreateInvoice(_ context.Context, form CreateInvoiceForm) (CreateInvoiceResponse, error) {
	if err := f.record("CreateInvoice"); err != nil {
		return CreateInvoiceResponse{}, err
	}
	f.mu.Lock()
	f.lastInvoice = form
	resp := f.invoiceResp
	f.mu.Unlock()
	if resp.BillingID == "" {
		resp = CreateInvoiceResponse{BillingID: "bill-1", SeqNumber: form.SeqNumber, Success: true}
	}
	return resp, nil
}

func (f *fakeAPI) StartWorkflow(_ context.Context, _ StartWorkflowForm) (OperationResponse, error) {
	if err := f.record("StartWorkflow"); err != nil {
		return OperationResponse{}, err
	}
	return OperationResponse{WorkflowID: "wf-api", Status: "started", Success: true}, nil
}

func (f *fakeAPI) ApproveQuotation(_ context.Context, form ApproveQuotationForm) (OperationResponse, error) {
	if err := f.record("ApproveQuotation"); err != nil {
		return OperationResponse{}, err
	}
	f.mu.Lock()
	f.lastApprove = form
	f.mu.Unlock()
	return OperationResponse{Status: "assigned", Success: true}, nil
}

func (f *fakeAPI) SubmitStartWork(_ context.Context, _ SubmitStartWorkForm) (OperationResponse, error) {
	if err := f.record("SubmitStartWork"); err != nil {
		return OperationResponse{}, err
	}
	return OperationResponse{Status: "working", Success: true}, nil
}

func (f *fakeAPI) SubmitWork(_ context.Context, _ SubmitStartWorkForm) (OperationResponse, error) {
	if err := f.record("SubmitWork"); err != nil {
		return OperationResponse{}, err
	}
	return OperationResponse{Status: "delivered", Success: true}, nil
}

func (f *fakeAPI) RequestRevision(_ context.Context, _ RequestRevisionForm) (OperationResponse, error) {
	if err := f.record("RequestRevision"); err != nil {
		return OperationResponse{}, err
	}
	return OperationResponse{Status: "revision", Success: true}, nil
}

func (f *fakeAPI) ApproveWork(_ context.Context, _ ApproveWorkForm) (OperationResponse, error) {
	if err := f.record("ApproveWork"); err != nil {
		return OperationResponse{}, err
	}
	return OperationResponse{Status: "completed", Success: true}, nil
}

func (f *fakeAPI) CancelJob(_ context.Context, form CancelJobForm) (OperationResponse, error) {
	if err := f.record("CancelJob"); err != nil {
		return OperationResponse{}, err
	}
	f.mu.Lock()
	f.lastCancel = form
	f.mu.Unlock()
	return OperationResponse{Status: "cancelled", Success: true}, nil
}

func (f *fakeAPI) SubmitUserReview(_ context.Context, form SubmitUserReviewForm) (SubmitUserReviewResponse, error) {
	if err := f.record("SubmitUserReview"); err != nil {
		return SubmitUserReviewResponse{}, err
	}
	f.mu.Lock()
	f.lastReview = form
	f.mu.Unlock()
	return SubmitUserReviewResponse{ReviewID: "rev-1", Success: true}, nil
}

type fakeWallet struct {
	balance money.Money
	err     error
}

func (f *fakeWallet) AvailableBalance(_ context.Context) (money.Money, error) {
	return f.balance, f.err
}

type actionFixture struct {
	*fixture
	api       *fakeAPI
	wallet    *fakeWallet
	publisher *fakePublisher
}

func newActionFixture(t *testing.T, initial workflow.Status, mutate func(*Params)) *actionFixture {
	t.Helper()
	api := &fakeAPI{}
	wallet := &fakeWallet{balance: money.Must(100_000, "THB")}
	publisher := &fakePublisher{}
	f := newFixture(t, func(p *Params) {
		p.API = api
		p.Wallet = wallet
		p.Events = publisher
		p.Employer = true
		p.WalletID = "wal-1"
		p.Machine = workflow.NewMachine("wf-1", initial, workflow.DefaultGraceWindow)
		if mutate != nil {
			mutate(p)
		}
	})
	f.machine = f.session.machine
	return &actionFixture{fixture: f, api: api, wallet: wallet, publisher: publisher}
}

// seedQuote plants a quotation message the way a freelancer's SubmitQuotation
// would have left it in the room.
func (f *actionFixture) seedQuote(t *testing.T, amount int64) {
	t.Helper()
	content, err := chat.EncodePayload(chat.ProposedQuote{Amount: amount, Currency: "THB", Proposal: "logo set"})
	if err != nil {
		t.Fatal(err)
	}
	msg := chat.NewOutgoing(testRoom, peerID, content, time.Now())
	msg.Status = chat.StatusSent
	f.store.UpsertHistory(testRoom, []chat.Message{msg})
}

// lastPayload decodes the newest structured message in the room.
func (f *actionFixture) lastPayload(t *testing.T) chat.Payload {
	t.Helper()
	messages := f.store.ByRoom(testRoom)
	if len(messages) == 0 {
		t.Fatal("no messages in room")
	}
	payload, ok, err := chat.DecodePayload(messages[len(messages)-1].Content)
	if err != nil || !ok {
		t.Fatalf("last message is not a structured payload: ok=%v err=%v", ok, err)
	}
	return payload
}

func TestStartHiringMovesMachineAndDocumentsChat(t *testing.T) {
	f := newActionFixture(t, workflow.StatusIdle, nil)
	if err := f.session.Actions().StartHiring(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusStarted {
		t.Fatalf("state = %s, want STARTED", got)
	}
	payload, ok := f.lastPayload(t).(chat.EmployerStarted)
	if !ok {
		t.Fatalf("payload = %T, want EmployerStarted", f.lastPayload(t))
	}
	if payload.PostID != 99 || payload.PostName != "Logo design" {
		t.Fatalf("payload = %+v", payload)
	}
	if f.session.Snapshot().Workflow.ID != "wf-api" {
		t.Fatal("workflow id from API not adopted")
	}
	updates := f.transport.sentUpdates()
	if len(updates) != 1 || updates[0].Status != "started" {
		t.Fatalf("room updates = %+v", updates)
	}
	if len(f.publisher.published()) != 1 {
		t.Fatal("transition event not published")
	}
}

func TestActionFailureLeavesNoPartialEffects(t *testing.T) {
	f := newActionFixture(t, workflow.StatusIdle, nil)
	f.api.err = errors.New("backend down")

	err := f.session.Actions().StartHiring(context.Background())
	if err == nil {
		t.Fatal("API failure swallowed")
	}
	if got := f.machine.State(); got != workflow.StatusIdle {
		t.Fatalf("failed action moved the machine to %s", got)
	}
	if f.store.Len(testRoom) != 0 {
		t.Fatal("failed action emitted a chat message")
	}
	if len(f.transport.sentUpdates()) != 0 {
		t.Fatal("failed action broadcast a room update")
	}
	if len(f.publisher.published()) != 0 {
		t.Fatal("failed action published an event")
	}
}

func TestGuardRejectsBeforeAPICall(t *testing.T) {
	f := newActionFixture(t, workflow.StatusStarted, nil)
	err := f.session.Actions().StartHiring(context.Background())
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if f.api.callCount() != 0 {
		t.Fatal("guard failure still hit the API")
	}
}

func TestGuardRespectsAvailabilityBeforeAPICall(t *testing.T) {
	f := newActionFixture(t, workflow.StatusIdle, func(p *Params) {
		p.Available = func() bool { return false }
	})
	err := f.session.Actions().StartHiring(context.Background())
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v, want ErrNotAvailable", err)
	}
	if f.api.callCount() != 0 {
		t.Fatal("unavailable user still hit the API")
	}
}

func TestSubmitQuotationStoresBillingAndEmitsQuote(t *testing.T) {
	f := newActionFixture(t, workflow.StatusStarted, nil)
	f.api.invoiceResp = CreateInvoiceResponse{BillingID: "bill-77", SeqNumber: 3, Success: true}

	err := f.session.Actions().SubmitQuotation(context.Background(), QuoteForm{
		Amount:      25_000,
		Currency:    "THB",
		Proposal:    "three logo concepts",
		WorkingDays: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusQuoteProposed {
		t.Fatalf("state = %s, want QUOTE_PROPOSED", got)
	}
	quote, ok := f.lastPayload(t).(chat.ProposedQuote)
	if !ok || quote.Amount != 25_000 || quote.WorkingDays != 7 {
		t.Fatalf("quote payload = %+v ok=%v", quote, ok)
	}

	// the stored billing id and sequence travel with the approval
	f.seedQuote(t, 25_000)
	if err := f.session.Actions().ApproveQuotation(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.api.lastApprove.BillingID != "bill-77" || f.api.lastApprove.SeqNumber != 3 {
		t.Fatalf("approve form = %+v", f.api.lastApprove)
	}
	if f.api.lastApprove.WalletID != "wal-1" {
		t.Fatalf("wallet id missing from approval: %+v", f.api.lastApprove)
	}
}

func TestSubmitQuotationRejectsNonPositiveAmount(t *testing.T) {
	f := newActionFixture(t, workflow.StatusStarted, nil)
	if err := f.session.Actions().SubmitQuotation(context.Background(), QuoteForm{Amount: 0}); err == nil {
		t.Fatal("zero amount accepted")
	}
	if f.api.callCount() != 0 {
		t.Fatal("invalid quotation hit the API")
	}
}

func TestApproveQuotationInsufficientBalance(t *testing.T) {
	f := newActionFixture(t, workflow.StatusQuoteProposed, nil)
	f.seedQuote(t, 25_000)
	f.wallet.balance = money.Must(24_999, "THB")

	err := f.session.Actions().ApproveQuotation(context.Background())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// the balance check runs before the API call, so nothing moved
	if f.api.callCount() != 0 {
		t.Fatal("insufficient balance still hit the API")
	}
	if got := f.machine.State(); got != workflow.StatusQuoteProposed {
		t.Fatalf("state = %s, want QUOTE_PROPOSED", got)
	}
	if len(f.transport.sentUpdates()) != 0 {
		t.Fatal("rejected approval broadcast an update")
	}
}

func TestApproveQuotationExactBalanceSucceeds(t *testing.T) {
	f := newActionFixture(t, workflow.StatusQuoteProposed, nil)
	f.seedQuote(t, 25_000)
	f.wallet.balance = money.Must(25_000, "THB")

	if err := f.session.Actions().ApproveQuotation(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusQuoteApproved {
		t.Fatalf("state = %s, want QUOTE_APPROVED", got)
	}
	assigned, ok := f.lastPayload(t).(chat.EmployerAssigned)
	if !ok || assigned.Amount != 25_000 {
		t.Fatalf("payload = %+v ok=%v", assigned, ok)
	}
}

func TestApproveQuotationWithoutWalletFailsClosed(t *testing.T) {
	f := newActionFixture(t, workflow.StatusQuoteProposed, func(p *Params) {
		p.Wallet = nil
	})
	f.seedQuote(t, 25_000)

	err := f.session.Actions().ApproveQuotation(context.Background())
	if !errors.Is(err, ErrWalletRequired) {
		t.Fatalf("err = %v, want ErrWalletRequired", err)
	}
	if f.api.callCount() != 0 {
		t.Fatal("approval without a balance source still hit the API")
	}
	if got := f.machine.State(); got != workflow.StatusQuoteProposed {
		t.Fatalf("state = %s, want QUOTE_PROPOSED", got)
	}
}

func TestApproveQuotationWithoutQuote(t *testing.T) {
	f := newActionFixture(t, workflow.StatusQuoteProposed, nil)
	if err := f.session.Actions().ApproveQuotation(context.Background()); !errors.Is(err, ErrQuoteMissing) {
		t.Fatalf("err = %v, want ErrQuoteMissing", err)
	}
}

func TestApproveQuotationUsesLatestQuote(t *testing.T) {
	f := newActionFixture(t, workflow.StatusQuoteProposed, nil)
	f.seedQuote(t, 10_000)
	f.seedQuote(t, 40_000) // renegotiated upward
	f.wallet.balance = money.Must(20_000, "THB")

	if err := f.session.Actions().ApproveQuotation(context.Background()); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("stale cheaper quote used for the balance check: %v", err)
	}
}

func TestSubmitDeliveryRequiresDeliverable(t *testing.T) {
	f := newActionFixture(t, workflow.StatusWorkInProgress, nil)
	err := f.session.Actions().SubmitDelivery(context.Background(), DeliveryForm{WorkDescription: "done"})
	if !errors.Is(err, ErrDeliverableRequired) {
		t.Fatalf("err = %v, want ErrDeliverableRequired", err)
	}
	if f.api.callCount() != 0 {
		t.Fatal("missing deliverable still hit the API")
	}
}

func TestRevisionLoopAllowsResubmission(t *testing.T) {
	f := newActionFixture(t, workflow.StatusDeliverySubmitted, nil)
	ctx := context.Background()

	if err := f.session.Actions().RequestRevision(ctx, "logo colors are off"); err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusRevisionRequested {
		t.Fatalf("state = %s, want REVISION_REQUESTED", got)
	}
	revision, _ := f.lastPayload(t).(chat.RequestRevision)
	if revision.Reason != "logo colors are off" {
		t.Fatalf("payload = %+v", revision)
	}

	err := f.session.Actions().SubmitDelivery(ctx, DeliveryForm{
		WorkDescription: "fixed palette",
		DeliverableURL:  "https://files.example.com/logo-v2.zip",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusDeliverySubmitted {
		t.Fatalf("state = %s, want DELIVERY_SUBMITTED", got)
	}
}

func TestRequestRevisionRequiresReason(t *testing.T) {
	f := newActionFixture(t, workflow.StatusDeliverySubmitted, nil)
	if err := f.session.Actions().RequestRevision(context.Background(), "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("err = %v, want ErrReasonRequired", err)
	}
}

func TestApproveWorkPromptsEmployerReview(t *testing.T) {
	prompted := false
	f := newActionFixture(t, workflow.StatusDeliverySubmitted, func(p *Params) {
		p.OnReviewPrompt = func() { prompted = true }
	})
	f.seedQuote(t, 25_000)

	if err := f.session.Actions().ApproveWork(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusCompleted {
		t.Fatalf("state = %s, want COMPLETED", got)
	}
	accepted, _ := f.lastPayload(t).(chat.DeliveryAccepted)
	if accepted.Amount != 25_000 {
		t.Fatalf("accepted payload = %+v", accepted)
	}
	if !prompted {
		t.Fatal("employer review prompt did not fire")
	}
}

func TestApproveWorkSkipsPromptForFreelancer(t *testing.T) {
	prompted := false
	f := newActionFixture(t, workflow.StatusDeliverySubmitted, func(p *Params) {
		p.Employer = false
		p.OnReviewPrompt = func() { prompted = true }
	})
	if err := f.session.Actions().ApproveWork(context.Background()); err != nil {
		t.Fatal(err)
	}
	if prompted {
		t.Fatal("review prompt fired for the freelancer side")
	}
}

func TestCancelJobRecordsPriorStage(t *testing.T) {
	f := newActionFixture(t, workflow.StatusWorkInProgress, nil)
	if err := f.session.Actions().CancelJob(context.Background(), "scope changed"); err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusCancelled {
		t.Fatalf("state = %s, want CANCELLED", got)
	}
	prior, ok := f.machine.StatusBeforeCancel()
	if !ok || prior != workflow.StatusWorkInProgress {
		t.Fatalf("prior = %s ok=%v, want WORK_IN_PROGRESS", prior, ok)
	}
	cancel, _ := f.lastPayload(t).(chat.CancelJob)
	if cancel.PriorStatus != "working" || cancel.Reason != "scope changed" {
		t.Fatalf("cancel payload = %+v", cancel)
	}
	updates := f.transport.sentUpdates()
	if len(updates) != 1 || updates[0].Status != "cancelled" || updates[0].StatusBeforeCancel != "working" {
		t.Fatalf("room updates = %+v", updates)
	}
}

func TestCancelJobRejectedWhenCompleted(t *testing.T) {
	f := newActionFixture(t, workflow.StatusCompleted, nil)
	err := f.session.Actions().CancelJob(context.Background(), "too late")
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if f.api.callCount() != 0 {
		t.Fatal("terminal cancel still hit the API")
	}
}

func TestSubmitReviewDoesNotMoveWorkflow(t *testing.T) {
	f := newActionFixture(t, workflow.StatusCompleted, nil)
	if err := f.session.Actions().SubmitReview(context.Background(), 5, "great work"); err != nil {
		t.Fatal(err)
	}
	if got := f.machine.State(); got != workflow.StatusCompleted {
		t.Fatalf("review moved the machine to %s", got)
	}
	review, _ := f.lastPayload(t).(chat.ReviewSubmitted)
	if review.Rating != 5 || review.Comment != "great work" {
		t.Fatalf("review payload = %+v", review)
	}
	if f.api.lastReview.RevieweeID != peerID {
		t.Fatalf("review form = %+v", f.api.lastReview)
	}
}

func TestSubmitReviewValidatesRating(t *testing.T) {
	f := newActionFixture(t, workflow.StatusCompleted, nil)
	for _, rating := range []int{0, -1, 6} {
		if err := f.session.Actions().SubmitReview(context.Background(), rating, ""); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("rating %d: err = %v, want ErrInvalidRating", rating, err)
		}
	}
	if f.api.callCount() != 0 {
		t.Fatal("invalid rating hit the API")
	}
}

func TestWorkflowMessageSendFailureKeepsTransition(t *testing.T) {
	f := newActionFixture(t, workflow.StatusIdle, nil)
	f.transport.sendErr = errors.New("socket closed")

	if err := f.session.Actions().StartHiring(context.Background()); err != nil {
		t.Fatal(err)
	}
	// the transition stands; the chat message is left failed for a retry
	if got := f.machine.State(); got != workflow.StatusStarted {
		t.Fatalf("state = %s, want STARTED", got)
	}
	messages := f.store.ByRoom(testRoom)
	if len(messages) != 1 || messages[0].Status != chat.StatusFailed {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestHappyPathEndToEnd(t *testing.T) {
	f := newActionFixture(t, workflow.StatusIdle, nil)
	ctx := context.Background()
	a := f.session.Actions()

	steps := []struct {
		run  func() error
		want workflow.Status
	}{
		{func() error { return a.StartHiring(ctx) }, workflow.StatusStarted},
		{func() error { return a.SubmitQuotation(ctx, QuoteForm{Amount: 25_000, Currency: "THB"}) }, workflow.StatusQuoteProposed},
		{func() error { return a.ApproveQuotation(ctx) }, workflow.StatusQuoteApproved},
		{func() error { return a.StartWork(ctx, "kicking off") }, workflow.StatusWorkInProgress},
		{func() error {
			return a.SubmitDelivery(ctx, DeliveryForm{DeliverableURL: "https://files.example.com/final.zip"})
		}, workflow.StatusDeliverySubmitted},
		{func() error { return a.ApproveWork(ctx) }, workflow.StatusCompleted},
	}
	for i, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := f.machine.State(); got != step.want {
			t.Fatalf("step %d: state = %s, want %s", i, got, step.want)
		}
	}

	if got := len(f.publisher.published()); got != len(steps) {
		t.Fatalf("published %d events, want %d", got, len(steps))
	}
	kinds := []chat.PayloadKind{
		chat.KindEmployerStarted,
		chat.KindProposedQuote,
		chat.KindEmployerAssigned,
		chat.KindStartWork,
		chat.KindSubmitDelivery,
		chat.KindDeliveryAccepted,
	}
	messages := f.store.ByRoom(testRoom)
	if len(messages) != len(kinds) {
		t.Fatalf("room has %d messages, want %d", len(messages), len(kinds))
	}
	for i, msg := range messages {
		payload, ok, err := chat.DecodePayload(msg.Content)
		if err != nil || !ok {
			t.Fatalf("message %d not structured: %v", i, err)
		}
		if payload.Kind() != kinds[i] {
			t.Fatalf("message %d kind = %s, want %s", i, payload.Kind(), kinds[i])
		}
	}
}
