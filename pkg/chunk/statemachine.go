package chunk

import "sync"

// StateMachine guards the status of a single chunk. All methods are safe for
// concurrent use; a successful Transition is visible to every call that starts
// after it returns.
type StateMachine struct {
	index       int64
	statementID string

	mu      sync.Mutex
	current Status
}

// NewStateMachine returns a state machine starting in initial. The index and
// statement ID only appear in transition errors.
func NewStateMachine(initial Status, index int64, statementID string) *StateMachine {
	return &StateMachine{
		index:       index,
		statementID: statementID,
		current:     initial,
	}
}

// Transition moves to target. Requesting the current status is a no-op.
// A transition missing from the table returns a *TransitionError and leaves
// the status unchanged.
func (m *StateMachine) Transition(target Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if target == m.current {
		return nil
	}
	if !canTransition(m.current, target) {
		return &TransitionError{
			StatementID: m.statementID,
			Index:       m.index,
			From:        m.current,
			To:          target,
		}
	}
	m.current = target
	return nil
}

// IsValidTransition reports whether target is in the valid set of the
// current status. It never mutates.
func (m *StateMachine) IsValidTransition(target Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return canTransition(m.current, target)
}

// ValidTargets returns a copy of the statuses reachable from the current one.
func (m *StateMachine) ValidTargets() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := transitions[m.current]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

// Current returns the current status.
func (m *StateMachine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
