package workflow

import (
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/events"
)

type HiringStarted struct {
	WorkflowID string
	At         time.Time
}

func (e HiringStarted) EventName() string     { return "workflow.started" }
func (e HiringStarted) AggregateID() string   { return e.WorkflowID }
func (e HiringStarted) OccurredAt() time.Time { return e.At }

type QuoteProposed struct {
	WorkflowID string
	At         time.Time
}

func (e QuoteProposed) EventName() string     { return "workflow.quote_proposed" }
func (e QuoteProposed) AggregateID() string   { return e.WorkflowID }
func (e QuoteProposed) OccurredAt() time.Time { return e.At }

type QuoteApproved struct {
	WorkflowID string
	At         time.Time
}

func (e QuoteApproved) EventName() string     { return "workflow.quote_approved" }
func (e QuoteApproved) AggregateID() string   { return e.WorkflowID }
func (e QuoteApproved) OccurredAt() time.Time { return e.At }

type WorkStarted struct {
	WorkflowID string
	At         time.Time
}

func (e WorkStarted) EventName() string     { return "workflow.work_started" }
func (e WorkStarted) AggregateID() string   { return e.WorkflowID }
func (e WorkStarted) OccurredAt() time.Time { return e.At }

type DeliverySubmitted struct {
	WorkflowID string
	Resubmit   bool
	At         time.Time
}

func (e DeliverySubmitted) EventName() string     { return "workflow.delivery_submitted" }
func (e DeliverySubmitted) AggregateID() string   { return e.WorkflowID }
func (e DeliverySubmitted) OccurredAt() time.Time { return e.At }

type RevisionRequested struct {
	WorkflowID string
	At         time.Time
}

func (e RevisionRequested) EventName() string     { return "workflow.revision_requested" }
func (e RevisionRequested) AggregateID() string   { return e.WorkflowID }
func (e RevisionRequested) OccurredAt() time.Time { return e.At }

type WorkCompleted struct {
	WorkflowID string
	At         time.Time
}

func (e WorkCompleted) EventName() string     { return "workflow.completed" }
func (e WorkCompleted) AggregateID() string   { return e.WorkflowID }
func (e WorkCompleted) OccurredAt() time.Time { return e.At }

type JobCancelled struct {
	WorkflowID string
	Prior      Status
	At         time.Time
}

func (e JobCancelled) EventName() string     { return "workflow.cancelled" }
func (e JobCancelled) AggregateID() string   { return e.WorkflowID }
func (e JobCancelled) OccurredAt() time.Time { return e.At }

func eventFor(id string, from, to Status, at time.Time) events.DomainEvent {
	switch to {
	case StatusStarted:
		return HiringStarted{WorkflowID: id, At: at}
	case StatusQuoteProposed:
		return QuoteProposed{WorkflowID: id, At: at}
	case StatusQuoteApproved:
		return QuoteApproved{WorkflowID: id, At: at}
	case StatusWorkInProgress:
		return WorkStarted{WorkflowID: id, At: at}
	case StatusDeliverySubmitted:
		return DeliverySubmitted{WorkflowID: id, Resubmit: from == StatusRevisionRequested, At: at}
	case StatusRevisionRequested:
		return RevisionRequested{WorkflowID: id, At: at}
	case StatusCompleted:
		return WorkCompleted{WorkflowID: id, At: at}
	case StatusCancelled:
		return JobCancelled{WorkflowID: id, Prior: from, At: at}
	}
	return nil
}
