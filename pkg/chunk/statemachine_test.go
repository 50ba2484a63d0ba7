package chunk

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	for _, from := range Statuses {
		for _, to := range Statuses {
			sm := NewStateMachine(from, 3, "stmt")
			err := sm.Transition(to)

			want := from == to || slices.Contains(transitions[from], to)
			if want && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", from, to, err)
				continue
			}
			if !want {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Errorf("%s -> %s: expected TransitionError, got %v", from, to, err)
					continue
				}
				if sm.Current() != from {
					t.Errorf("%s -> %s: status changed to %s after rejected transition", from, to, sm.Current())
				}
				continue
			}
			if sm.Current() != to {
				t.Errorf("%s -> %s: status is %s", from, to, sm.Current())
			}
		}
	}
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	for _, s := range Statuses {
		sm := NewStateMachine(s, 0, "stmt")
		if err := sm.Transition(s); err != nil {
			t.Errorf("%s -> %s: %v", s, s, err)
		}
	}
}

func TestReleasedIsTerminal(t *testing.T) {
	sm := NewStateMachine(StatusReleased, 0, "stmt")
	for _, s := range Statuses {
		if s == StatusReleased {
			continue
		}
		if sm.IsValidTransition(s) {
			t.Errorf("released chunk may move to %s", s)
		}
	}
	if len(sm.ValidTargets()) != 0 {
		t.Errorf("expected no targets, got %v", sm.ValidTargets())
	}
}

func TestEveryStatusMayRelease(t *testing.T) {
	for _, s := range Statuses {
		if s == StatusDownloadInProgress || s == StatusReleased {
			continue
		}
		if !NewStateMachine(s, 0, "stmt").IsValidTransition(StatusReleased) {
			t.Errorf("%s cannot be released", s)
		}
	}
}

func TestDownloadInProgressUnreachable(t *testing.T) {
	for from, targets := range transitions {
		if slices.Contains(targets, StatusDownloadInProgress) {
			t.Errorf("%s leads to %s", from, StatusDownloadInProgress)
		}
	}
	if len(transitions[StatusDownloadInProgress]) != 0 {
		t.Errorf("%s has outgoing transitions", StatusDownloadInProgress)
	}
}

func TestRetryCycle(t *testing.T) {
	sm := NewStateMachine(StatusURLFetched, 0, "stmt")
	path := []Status{StatusDownloadFailed, StatusDownloadRetry, StatusURLFetched, StatusDownloadSucceeded}
	for _, s := range path {
		if err := sm.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
}

func TestTransitionErrorMessage(t *testing.T) {
	sm := NewStateMachine(StatusPending, 7, "01ef-stmt")
	err := sm.Transition(StatusProcessingSucceeded)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "invalid state transition for chunk [7] and statement [01ef-stmt]: PENDING -> PROCESSING_SUCCEEDED"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
	if CodeOf(err) != CodeInvalidStateTransition {
		t.Errorf("code = %q", CodeOf(err))
	}
}

func TestValidTargetsIsCopy(t *testing.T) {
	sm := NewStateMachine(StatusURLFetched, 0, "stmt")
	targets := sm.ValidTargets()
	targets[0] = StatusPending
	if transitions[StatusURLFetched][0] == StatusPending {
		t.Fatal("ValidTargets exposed the transition table")
	}
}

func TestConcurrentTransitions(t *testing.T) {
	// Exactly one of the competing transitions out of URL_FETCHED wins.
	for range 50 {
		sm := NewStateMachine(StatusURLFetched, 0, "stmt")
		targets := []Status{StatusDownloadSucceeded, StatusDownloadFailed, StatusCancelled}

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for _, target := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if sm.Transition(target) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	}
}
