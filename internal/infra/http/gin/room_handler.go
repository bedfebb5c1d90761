package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/dto"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/workflow"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/api"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/storage/s3"
)

// RoomHandler serves the chat room surface: history, sending, read state and
// the hiring workflow actions.
type RoomHandler struct {
	Sessions *session.Manager
	Uploads  s3.Uploader
	Logger   *slog.Logger
}

// Enter opens (or resumes) the caller's session for a room.
func (h RoomHandler) Enter(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	s, err := h.Sessions.Get(c.Param("id"), p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.Enter(c.Request.Context()); err != nil {
		h.logError(c, "enter room failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not join the room"})
		return
	}
	c.JSON(http.StatusOK, h.roomState(c, s))
}

// Leave announces departure and evicts the session.
func (h RoomHandler) Leave(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	roomID := c.Param("id")
	s, found := h.Sessions.Peek(roomID, p.ID)
	if !found {
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.Leave(c.Request.Context()); err != nil {
		h.logError(c, "leave room failed", err)
	}
	h.Sessions.Remove(roomID, p.ID)
	c.Status(http.StatusNoContent)
}

// State returns the room header with workflow progress.
func (h RoomHandler) State(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.roomState(c, s))
}

// Messages returns the room history with per-message peer read flags.
func (h RoomHandler) Messages(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	messages := s.Messages()
	list := dto.ChatMessageList{Items: make([]dto.ChatMessage, 0, len(messages))}
	for _, msg := range messages {
		list.Items = append(list.Items, dto.ChatMessage{
			ID:         msg.ID,
			RoomID:     msg.RoomID,
			SenderID:   msg.SenderID,
			Content:    msg.Content,
			CreatedAt:  msg.CreatedAt,
			Status:     string(msg.Status),
			ReadByPeer: s.ReadByPeer(c.Request.Context(), msg),
		})
	}
	if loader := s.History(); loader != nil {
		list.HasMore = loader.HasMore()
		list.IsFetching = loader.IsFetching()
	}
	c.JSON(http.StatusOK, list)
}

// FetchOlder pulls the next older history page into the room.
func (h RoomHandler) FetchOlder(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	loader := s.History()
	if loader == nil {
		c.JSON(http.StatusOK, gin.H{"has_more": false})
		return
	}
	if err := loader.FetchOlder(c.Request.Context()); err != nil {
		h.logError(c, "history fetch failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not load older messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_more": loader.HasMore()})
}

// Send posts a plain text message.
func (h RoomHandler) Send(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	msg, err := s.SendText(c.Request.Context(), req.Content)
	if err != nil {
		h.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ChatMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Status:    string(msg.Status),
	})
}

// Retry re-transmits a failed message.
func (h RoomHandler) Retry(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	if err := s.Retry(c.Request.Context(), c.Param("messageId")); err != nil {
		h.respondSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// MarkRead sends a read receipt for the newest message.
func (h RoomHandler) MarkRead(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	s.SendLatestRead(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Refocus schedules a debounced read-receipt retry after the client surface
// regains focus or connectivity.
func (h RoomHandler) Refocus(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	s.NotifyRefocus()
	c.Status(http.StatusNoContent)
}

// Typing forwards a typing indicator to the peer.
func (h RoomHandler) Typing(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	s.NotifyTyping(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// StartHiring begins the workflow for the room.
func (h RoomHandler) StartHiring(c *gin.Context) {
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.StartHiring(c.Request.Context())
	})
}

// SubmitQuotation posts the freelancer's quote.
func (h RoomHandler) SubmitQuotation(c *gin.Context) {
	var req dto.QuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.SubmitQuotation(c.Request.Context(), session.QuoteForm{
			Amount:       req.Amount,
			Currency:     req.Currency,
			Proposal:     req.Proposal,
			ProjectName:  req.ProjectName,
			WorkingDays:  req.WorkingDays,
			Deliverables: req.Deliverables,
			StartingDay:  req.StartingDay,
			DeliveryDay:  req.DeliveryDay,
		})
	})
}

// ApproveQuotation accepts the latest quote after the balance check.
func (h RoomHandler) ApproveQuotation(c *gin.Context) {
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.ApproveQuotation(c.Request.Context())
	})
}

// StartWork marks the job as underway.
func (h RoomHandler) StartWork(c *gin.Context) {
	var req dto.NoteRequest
	_ = c.ShouldBindJSON(&req)
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.StartWork(c.Request.Context(), req.Note)
	})
}

// SubmitDelivery posts finished work.
func (h RoomHandler) SubmitDelivery(c *gin.Context) {
	var req dto.DeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery payload"})
		return
	}
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.SubmitDelivery(c.Request.Context(), session.DeliveryForm{
			WorkDescription: req.WorkDescription,
			DeliverableURL:  req.DeliverableURL,
			FileName:        req.FileName,
			FileSize:        req.FileSize,
		})
	})
}

// RequestRevision asks for changes on the submitted delivery.
func (h RoomHandler) RequestRevision(c *gin.Context) {
	var req dto.ReasonRequest
	_ = c.ShouldBindJSON(&req)
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.RequestRevision(c.Request.Context(), req.Reason)
	})
}

// ApproveWork accepts the delivery and completes the job.
func (h RoomHandler) ApproveWork(c *gin.Context) {
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.ApproveWork(c.Request.Context())
	})
}

// Cancel aborts the job from any non-terminal stage.
func (h RoomHandler) Cancel(c *gin.Context) {
	var req dto.ReasonRequest
	_ = c.ShouldBindJSON(&req)
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.CancelJob(c.Request.Context(), req.Reason)
	})
}

// SubmitReview posts the post-completion review.
func (h RoomHandler) SubmitReview(c *gin.Context) {
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating is required"})
		return
	}
	h.runAction(c, func(a *session.Actions, _ *gin.Context) error {
		return a.SubmitReview(c.Request.Context(), req.Rating, req.Comment)
	})
}

// UploadDeliverable stores a work file and returns its shareable URL for the
// delivery form.
func (h RoomHandler) UploadDeliverable(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	if h.Uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "file storage unavailable"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	workflowID := s.Snapshot().Workflow.ID
	if workflowID == "" {
		workflowID = s.Workflow().ID()
	}
	deliverable, err := h.Uploads.UploadDeliverable(
		c.Request.Context(),
		workflowID,
		header.Filename,
		file,
		header.Size,
		header.Header.Get("Content-Type"),
	)
	if err != nil {
		h.logError(c, "deliverable upload failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not store the file"})
		return
	}
	c.JSON(http.StatusCreated, dto.DeliverableResponse{
		URL:      deliverable.URL,
		FileName: deliverable.FileName,
		Size:     deliverable.Size,
	})
}

func (h RoomHandler) runAction(c *gin.Context, run func(*session.Actions, *gin.Context) error) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	if err := run(s.Actions(), c); err != nil {
		h.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.roomState(c, s))
}

func (h RoomHandler) liveSession(c *gin.Context) (*session.Session, bool) {
	p, ok := requireUser(c)
	if !ok {
		return nil, false
	}
	s, found := h.Sessions.Peek(c.Param("id"), p.ID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not entered"})
		return nil, false
	}
	return s, true
}

func (h RoomHandler) roomState(c *gin.Context, s *session.Session) dto.RoomState {
	snap := s.Snapshot()
	machine := s.Workflow()
	state := dto.RoomState{
		RoomID:        s.RoomID(),
		PostID:        snap.Room.Post.ID,
		PostName:      snap.Room.Post.Name,
		PostBudget:    snap.Room.Post.Budget,
		WorkflowID:    snap.Workflow.ID,
		Status:        string(machine.State()),
		StepIndex:     machine.StepIndex(),
		PartnerTyping: s.PartnerTyping(),
		PartnerOnline: s.PeerOnline(c.Request.Context()),
	}
	if prior, ok := machine.StatusBeforeCancel(); ok {
		state.StatusBeforeCancel = string(prior)
	}
	return state
}

func (h RoomHandler) respondSessionError(c *gin.Context, err error) {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, session.ErrNotAvailable):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInsufficientBalance),
		errors.Is(err, session.ErrWalletRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrDeliverableRequired),
		errors.Is(err, session.ErrReasonRequired),
		errors.Is(err, session.ErrInvalidRating):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrSubmitInFlight),
		errors.Is(err, session.ErrNotRetryable),
		errors.Is(err, session.ErrQuoteMissing),
		errors.Is(err, workflow.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.As(err, &statusErr):
		h.logError(c, "backend rejected action", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "marketplace backend rejected the request"})
	default:
		h.logError(c, "action failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h RoomHandler) logError(c *gin.Context, msg string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Error(msg, "error", err, "path", c.FullPath(), "request_id", c.GetString("request_id"))
}
