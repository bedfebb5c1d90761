package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPayload = errors.New("chat: unknown payload type")

// PayloadKind tags the structured messages that document workflow milestones
// inside chat history. The strings are a durable wire format: historical
// messages must keep rendering, so kinds are never renamed.
type PayloadKind string

const (
	KindProposedQuote    PayloadKind = "proposed-quote"
	KindEmployerStarted  PayloadKind = "employer-started"
	KindEmployerAssigned PayloadKind = "employer-assigned"
	KindStartWork        PayloadKind = "start-work"
	KindSubmitDelivery   PayloadKind = "submit-delivery"
	KindRequestRevision  PayloadKind = "request-revision"
	KindDeliveryAccepted PayloadKind = "delivery-accepted"
	KindCancelJob        PayloadKind = "cancel-job"
	KindReviewSubmitted  PayloadKind = "review-submitted"
	KindFile             PayloadKind = "file"
)

// Payload is the tagged union behind structured message content.
type Payload interface {
	Kind() PayloadKind
}

type ProposedQuote struct {
	Amount       int64    `json:"amount"`
	Currency     string   `json:"currency,omitempty"`
	Proposal     string   `json:"proposal"`
	ProjectName  string   `json:"projectName,omitempty"`
	WorkingDays  int      `json:"workingDays,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
	StartingDay  string   `json:"startingDay,omitempty"`
	DeliveryDay  string   `json:"deliveryDay,omitempty"`
}

func (ProposedQuote) Kind() PayloadKind { return KindProposedQuote }

type EmployerStarted struct {
	PostID   int64  `json:"postId"`
	PostName string `json:"postName,omitempty"`
}

func (EmployerStarted) Kind() PayloadKind { return KindEmployerStarted }

type EmployerAssigned struct {
	Amount int64 `json:"amount"`
}

func (EmployerAssigned) Kind() PayloadKind { return KindEmployerAssigned }

type StartWork struct {
	Note string `json:"note,omitempty"`
}

func (StartWork) Kind() PayloadKind { return KindStartWork }

type SubmitDelivery struct {
	WorkDescription string `json:"workDescription,omitempty"`
	DeliverableURL  string `json:"deliverableUrl"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
}

func (SubmitDelivery) Kind() PayloadKind { return KindSubmitDelivery }

type RequestRevision struct {
	Reason string `json:"reason"`
}

func (RequestRevision) Kind() PayloadKind { return KindRequestRevision }

type DeliveryAccepted struct {
	Amount int64 `json:"amount,omitempty"`
}

func (DeliveryAccepted) Kind() PayloadKind { return KindDeliveryAccepted }

type CancelJob struct {
	Reason      string `json:"reason,omitempty"`
	PriorStatus string `json:"priorStatus,omitempty"`
}

func (CancelJob) Kind() PayloadKind { return KindCancelJob }

type ReviewSubmitted struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func (ReviewSubmitted) Kind() PayloadKind { return KindReviewSubmitted }

type FileAttachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

func (FileAttachment) Kind() PayloadKind { return KindFile }

type envelope struct {
	Type PayloadKind `json:"type"`
}

// EncodePayload serializes a payload into message content, tagging it with
// its kind.
func EncodePayload(p Payload) (string, error) {
	if p == nil {
		return "", ErrUnknownPayload
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("chat: encode payload: %w", err)
	}
	// splice the tag in front of the struct fields
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &merged); err != nil {
		return "", fmt.Errorf("chat: encode payload: %w", err)
	}
	tag, _ := json.Marshal(p.Kind())
	merged["type"] = tag
	out, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("chat: encode payload: %w", err)
	}
	return string(out), nil
}

// DecodePayload parses structured content. It returns (nil, false, nil) for
// plain text so callers can fall through to the default bubble, and an error
// only for content that carries a tag but fails to parse.
func DecodePayload(content string) (Payload, bool, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return nil, false, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil || env.Type == "" {
		return nil, false, nil
	}
	var (
		p   Payload
		err error
	)
	switch env.Type {
	case KindProposedQuote:
		p, err = decodeAs[ProposedQuote](content)
	case KindEmployerStarted:
		p, err = decodeAs[EmployerStarted](content)
	case KindEmployerAssigned:
		p, err = decodeAs[EmployerAssigned](content)
	case KindStartWork:
		p, err = decodeAs[StartWork](content)
	case KindSubmitDelivery:
		p, err = decodeAs[SubmitDelivery](content)
	case KindRequestRevision:
		p, err = decodeAs[RequestRevision](content)
	case KindDeliveryAccepted:
		p, err = decodeAs[DeliveryAccepted](content)
	case KindCancelJob:
		p, err = decodeAs[CancelJob](content)
	case KindReviewSubmitted:
		p, err = decodeAs[ReviewSubmitted](content)
	case KindFile:
		p, err = decodeAs[FileAttachment](content)
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownPayload, env.Type)
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func decodeAs[T Payload](content string) (Payload, error) {
	var v T
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("chat: decode payload: %w", err)
	}
	return v, nil
}
