package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestCanGoTable(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusStarted, true},
		{StatusStarted, StatusQuoteProposed, true},
		{StatusQuoteProposed, StatusQuoteApproved, true},
		{StatusQuoteApproved, StatusWorkInProgress, true},
		{StatusWorkInProgress, StatusDeliverySubmitted, true},
		{StatusDeliverySubmitted, StatusRevisionRequested, true},
		{StatusDeliverySubmitted, StatusCompleted, true},
		{StatusRevisionRequested, StatusWorkInProgress, true},
		{StatusRevisionRequested, StatusDeliverySubmitted, true},
		{StatusIdle, StatusQuoteProposed, false},
		{StatusStarted, StatusQuoteApproved, false},
		{StatusQuoteProposed, StatusWorkInProgress, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusIdle, StatusCancelled, true},
		{StatusWorkInProgress, StatusCancelled, true},
		{StatusCancelled, StatusStarted, false},
		{StatusCompleted, StatusStarted, false},
	}
	for _, tc := range cases {
		if got := CanGo(tc.from, tc.to); got != tc.want {
			t.Errorf("CanGo(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStepIndexFollowsCanonicalOrder(t *testing.T) {
	m := NewMachine("wf-1", StatusIdle, 0)
	steps := []Status{
		StatusStarted,
		StatusQuoteProposed,
		StatusQuoteApproved,
		StatusWorkInProgress,
		StatusDeliverySubmitted,
		StatusCompleted,
	}
	for _, next := range steps {
		if err := m.Go(next); err != nil {
			t.Fatalf("Go(%s): %v", next, err)
		}
		if m.StepIndex() != StepIndex(next) {
			t.Fatalf("step index after %s = %d, want %d", next, m.StepIndex(), StepIndex(next))
		}
	}
}

func TestGoRejectsInvalidTransition(t *testing.T) {
	m := NewMachine("wf-1", StatusIdle, 0)
	err := m.Go(StatusQuoteApproved)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.State() != StatusIdle {
		t.Fatalf("state changed on rejected transition: %s", m.State())
	}
}

func TestCancelRecordsPriorState(t *testing.T) {
	m := NewMachine("wf-1", StatusWorkInProgress, 0)
	if err := m.Go(StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	prior, ok := m.StatusBeforeCancel()
	if !ok || prior != StatusWorkInProgress {
		t.Fatalf("statusBeforeCancel = %q, %v; want WORK_IN_PROGRESS, true", prior, ok)
	}
}

func TestStatusBeforeCancelOnlyWhileCancelled(t *testing.T) {
	m := NewMachine("wf-1", StatusStarted, 0)
	if _, ok := m.StatusBeforeCancel(); ok {
		t.Fatal("statusBeforeCancel set outside cancelled state")
	}
}

func TestHasStarted(t *testing.T) {
	cases := map[Status]bool{
		StatusIdle:           false,
		StatusStarted:        true,
		StatusWorkInProgress: true,
		StatusCompleted:      false,
		StatusCancelled:      false,
	}
	for initial, want := range cases {
		m := NewMachine("wf-1", initial, 0)
		if got := m.HasStarted(); got != want {
			t.Errorf("HasStarted from %s = %v, want %v", initial, got, want)
		}
	}
}

func TestReconcileGraceWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	m := NewMachine("wf-1", StatusIdle, 2*time.Second).WithClock(clock)

	if err := m.Go(StatusStarted); err != nil {
		t.Fatalf("Go: %v", err)
	}

	// A stale snapshot inside the grace window must not revert local state.
	now = now.Add(500 * time.Millisecond)
	if m.Reconcile(StatusIdle, "") {
		t.Fatal("stale snapshot applied inside grace window")
	}
	if m.State() != StatusStarted {
		t.Fatalf("state reverted: %s", m.State())
	}

	// Past the window the server wins again.
	now = now.Add(2 * time.Second)
	if !m.Reconcile(StatusIdle, "") {
		t.Fatal("snapshot rejected after grace window")
	}
	if m.State() != StatusIdle {
		t.Fatalf("state = %s, want IDLE", m.State())
	}
}

func TestReconcileAtExactBoundaryAppliesRemote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	m := NewMachine("wf-1", StatusIdle, 2*time.Second).WithClock(clock)
	if err := m.Go(StatusStarted); err != nil {
		t.Fatalf("Go: %v", err)
	}
	now = now.Add(2 * time.Second)
	if !m.Reconcile(StatusIdle, "") {
		t.Fatal("snapshot at the window boundary should apply")
	}
}

func TestReconcileCancelledCarriesPriorState(t *testing.T) {
	m := NewMachine("wf-1", StatusWorkInProgress, time.Nanosecond)
	if !m.Reconcile(StatusCancelled, StatusQuoteApproved) {
		t.Fatal("reconcile rejected")
	}
	prior, ok := m.StatusBeforeCancel()
	if !ok || prior != StatusQuoteApproved {
		t.Fatalf("statusBeforeCancel = %q, %v", prior, ok)
	}
}

func TestReconcileIgnoresUnknownStatus(t *testing.T) {
	m := NewMachine("wf-1", StatusStarted, time.Nanosecond)
	if m.Reconcile(Status("BOGUS"), "") {
		t.Fatal("unknown status applied")
	}
	if m.State() != StatusStarted {
		t.Fatalf("state = %s", m.State())
	}
}

func TestGoRecordsDomainEvents(t *testing.T) {
	m := NewMachine("wf-9", StatusDeliverySubmitted, 0)
	if err := m.Go(StatusCompleted); err != nil {
		t.Fatalf("Go: %v", err)
	}
	events := m.DrainEvents()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].EventName() != "workflow.completed" {
		t.Fatalf("event = %s", events[0].EventName())
	}
	if events[0].AggregateID() != "wf-9" {
		t.Fatalf("aggregate = %s", events[0].AggregateID())
	}
	if len(m.DrainEvents()) != 0 {
		t.Fatal("events not cleared after drain")
	}
}

func TestDrainEventsSafeDuringTransitions(t *testing.T) {
	m := NewMachine("wf-10", StatusIdle, time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, to := range order[1:] {
			_ = m.Go(to)
		}
	}()

	var drained int
	for {
		drained += len(m.DrainEvents())
		select {
		case <-done:
			drained += len(m.DrainEvents())
			if drained != len(order)-1 {
				t.Fatalf("drained %d events, want %d", drained, len(order)-1)
			}
			return
		default:
		}
	}
}

func TestAPIStatusMappingRoundTrips(t *testing.T) {
	for _, s := range append(append([]Status{}, order...), StatusCancelled) {
		api, ok := ToAPIStatus(s)
		if !ok {
			t.Fatalf("no api status for %s", s)
		}
		back, ok := FromAPIStatus(api)
		if !ok || back != s {
			t.Fatalf("round trip %s -> %s -> %s", s, api, back)
		}
	}
	if _, ok := FromAPIStatus("nonsense"); ok {
		t.Fatal("unknown api status accepted")
	}
}
