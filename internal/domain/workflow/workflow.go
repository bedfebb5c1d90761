package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/events"
)

var (
	ErrInvalidTransition = errors.New("workflow: invalid state transition")
	ErrUnknownStatus     = errors.New("workflow: unknown status")
)

// Status is the UI-side hiring stage vocabulary.
type Status string

const (
	StatusIdle              Status = "IDLE"
	StatusStarted           Status = "STARTED"
	StatusQuoteProposed     Status = "QUOTE_PROPOSED"
	StatusQuoteApproved     Status = "QUOTE_APPROVED"
	StatusWorkInProgress    Status = "WORK_IN_PROGRESS"
	StatusDeliverySubmitted Status = "DELIVERY_SUBMITTED"
	StatusRevisionRequested Status = "REVISION_REQUESTED"
	StatusCompleted         Status = "COMPLETED"
	// StatusCancelled sits outside the canonical order and is reachable from
	// any non-terminal state.
	StatusCancelled Status = "CANCELLED"
)

// order is the canonical progression used for step rendering and validation.
var order = []Status{
	StatusIdle,
	StatusStarted,
	StatusQuoteProposed,
	StatusQuoteApproved,
	StatusWorkInProgress,
	StatusDeliverySubmitted,
	StatusRevisionRequested,
	StatusCompleted,
}

// transitions holds the allowed next states per state. Cancellation is handled
// separately in CanGo so the table stays readable.
var transitions = map[Status][]Status{
	StatusIdle:              {StatusStarted},
	StatusStarted:           {StatusQuoteProposed},
	StatusQuoteProposed:     {StatusQuoteApproved},
	StatusQuoteApproved:     {StatusWorkInProgress},
	StatusWorkInProgress:    {StatusDeliverySubmitted},
	StatusDeliverySubmitted: {StatusRevisionRequested, StatusCompleted},
	StatusRevisionRequested: {StatusWorkInProgress, StatusDeliverySubmitted},
}

// StepIndex returns the position of s in the canonical order, or -1 for
// Cancelled and unknown values.
func StepIndex(s Status) int {
	for i, v := range order {
		if v == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Known reports whether s belongs to the status vocabulary.
func Known(s Status) bool {
	return s == StatusCancelled || StepIndex(s) >= 0
}

// CanGo validates a transition between two states.
func CanGo(from, to Status) bool {
	if to == StatusCancelled {
		return !IsTerminal(from) && Known(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DefaultGraceWindow bounds how long a local transition outranks a stale
// server snapshot before the server wins again.
const DefaultGraceWindow = 3 * time.Second

// Machine tracks the hiring workflow for one chat room. The server stays the
// source of truth: Reconcile overwrites local state except inside the grace
// window following a client-initiated transition.
type Machine struct {
	mu sync.Mutex

	id                 string
	state              Status
	statusBeforeCancel Status

	lastLocal   Status
	lastLocalAt time.Time

	grace time.Duration
	now   func() time.Time

	events.EventRecorder
}

// NewMachine builds a machine for the given workflow id starting at initial.
// A zero grace duration falls back to DefaultGraceWindow.
func NewMachine(id string, initial Status, grace time.Duration) *Machine {
	if !Known(initial) {
		initial = StatusIdle
	}
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Machine{
		id:    id,
		state: initial,
		grace: grace,
		now:   time.Now,
	}
}

// WithClock overrides the machine's time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Machine) ID() string {
	return m.id
}

func (m *Machine) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StepIndex reports the canonical-order index of the current state.
func (m *Machine) StepIndex() int {
	return StepIndex(m.State())
}

// StatusBeforeCancel returns the state recorded on cancellation; ok is false
// unless the machine is currently cancelled.
func (m *Machine) StatusBeforeCancel() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatusCancelled {
		return "", false
	}
	return m.statusBeforeCancel, true
}

// HasStarted reports whether the hiring process is underway, used to gate UI
// affordances like the start button.
func (m *Machine) HasStarted() bool {
	s := m.State()
	return s != StatusIdle && s != StatusCompleted && s != StatusCancelled
}

// CanGoTo checks the transition from the current state without applying it.
func (m *Machine) CanGoTo(to Status) bool {
	return CanGo(m.State(), to)
}

// Go applies a client-initiated transition. The transition is rejected as a
// no-op when the guard fails. On success the move is timestamped so that
// Reconcile honours local authority for the grace window, and a domain event
// is recorded for the outer layer to publish.
func (m *Machine) Go(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanGo(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	from := m.state
	at := m.now().UTC()
	if to == StatusCancelled {
		m.statusBeforeCancel = from
	} else {
		m.statusBeforeCancel = ""
	}
	m.state = to
	m.lastLocal = to
	m.lastLocalAt = at
	m.Record(eventFor(m.id, from, to, at))
	return nil
}

// DrainEvents returns the events recorded by transitions and clears the
// buffer. It shadows the embedded recorder's method so drains synchronize
// with concurrent transitions.
func (m *Machine) DrainEvents() []events.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EventRecorder.DrainEvents()
}

// Reconcile overwrites local state with the server-reported status. It returns
// false when the snapshot was ignored: either the status is unknown, or a
// client-initiated transition happened within the grace window and the
// snapshot still reports something else (the server broadcast has not caught
// up yet).
func (m *Machine) Reconcile(remote Status, before Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !Known(remote) {
		return false
	}
	if remote == m.state {
		// Converged; refresh the cancel context in case the server knows more.
		if remote == StatusCancelled && before != "" {
			m.statusBeforeCancel = before
		}
		return true
	}
	if !m.lastLocalAt.IsZero() && m.now().Sub(m.lastLocalAt) < m.grace {
		return false
	}
	m.state = remote
	if remote == StatusCancelled {
		if before == "" {
			before = m.statusBeforeCancel
		}
		m.statusBeforeCancel = before
	} else {
		m.statusBeforeCancel = ""
	}
	return true
}
