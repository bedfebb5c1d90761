package dto

import "time"

// ChatMessage is one entry of a room's message list.
type ChatMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   int64     `json:"sender_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Status     string    `json:"status"`
	ReadByPeer bool      `json:"read_by_peer"`
}

// ChatMessageList carries the room history plus pagination state.
type ChatMessageList struct {
	Items      []ChatMessage `json:"items"`
	HasMore    bool          `json:"has_more"`
	IsFetching bool          `json:"is_fetching"`
}

// SendMessageRequest posts a plain text message.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// RoomState is the rendered room header: post info plus workflow progress.
type RoomState struct {
	RoomID             string `json:"room_id"`
	PostID             int64  `json:"post_id"`
	PostName           string `json:"post_name"`
	PostBudget         int64  `json:"post_budget"`
	WorkflowID         string `json:"workflow_id,omitempty"`
	Status             string `json:"status"`
	StepIndex          int    `json:"step_index"`
	StatusBeforeCancel string `json:"status_before_cancel,omitempty"`
	PartnerTyping      bool   `json:"partner_typing"`
	PartnerOnline      bool   `json:"partner_online"`
}

// QuotationRequest is the freelancer's quote submission.
type QuotationRequest struct {
	Amount       int64    `json:"amount" binding:"required"`
	Currency     string   `json:"currency"`
	Proposal     string   `json:"proposal"`
	ProjectName  string   `json:"project_name"`
	WorkingDays  int      `json:"working_days"`
	Deliverables []string `json:"deliverables"`
	StartingDay  string   `json:"starting_day"`
	DeliveryDay  string   `json:"delivery_day"`
}

// DeliveryRequest submits finished work.
type DeliveryRequest struct {
	WorkDescription string `json:"work_description"`
	DeliverableURL  string `json:"deliverable_url"`
	FileName        string `json:"file_name"`
	FileSize        int64  `json:"file_size"`
}

// ReasonRequest carries a revision or cancellation reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ReviewRequest posts a post-completion review.
type ReviewRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
}

// NoteRequest carries an optional free-text note.
type NoteRequest struct {
	Note string `json:"note"`
}

// DeliverableResponse describes an uploaded deliverable file.
type DeliverableResponse struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
}
