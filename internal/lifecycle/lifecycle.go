// Package lifecycle owns the task run status and its one-directional
// transition rules. Expected terminal outcomes (stagnation, timeout,
// exhausted budget) are states, never errors.
package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// ErrIllegalTransition marks a transition the state machine forbids.
// Hitting it is a programming error in the caller, not a run outcome.
var ErrIllegalTransition = errors.New("illegal status transition")

// Machine tracks one run's status, timestamps, iteration count, and
// accumulated cost. Transitions are monotonic: pending → in_progress →
// exactly one of completed/failed/timeout.
type Machine struct {
	status      Status
	reason      string
	startedAt   time.Time
	completedAt time.Time
	iterations  int
	costUSD     float64

	now func() time.Time
}

// NewMachine returns a machine in the pending state.
func NewMachine() *Machine {
	return &Machine{status: StatusPending, now: time.Now}
}

// SetClock overrides the machine's clock. Tests only.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

func (m *Machine) Status() Status      { return m.status }
func (m *Machine) Reason() string      { return m.reason }
func (m *Machine) Iterations() int     { return m.iterations }
func (m *Machine) CostUSD() float64    { return m.costUSD }
func (m *Machine) StartedAt() time.Time { return m.startedAt }

// CompletedAt returns the completion timestamp; ok is false unless the
// machine is in a terminal state.
func (m *Machine) CompletedAt() (time.Time, bool) {
	return m.completedAt, m.status.Terminal()
}

// Start fires pending → in_progress and stamps the start time.
func (m *Machine) Start() error {
	if m.status != StatusPending {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, m.status, StatusInProgress)
	}
	m.status = StatusInProgress
	m.startedAt = m.now()
	return nil
}

// Complete fires in_progress → completed.
func (m *Machine) Complete(reason string) error {
	return m.finish(StatusCompleted, reason)
}

// Fail fires in_progress → failed (circuit breaker or unrecoverable
// process error).
func (m *Machine) Fail(reason string) error {
	return m.finish(StatusFailed, reason)
}

// Timeout fires in_progress → timeout (time budget or iteration limit
// exhausted).
func (m *Machine) Timeout(reason string) error {
	return m.finish(StatusTimeout, reason)
}

func (m *Machine) finish(to Status, reason string) error {
	if m.status != StatusInProgress {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, m.status, to)
	}
	m.status = to
	m.reason = reason
	m.completedAt = m.now()
	return nil
}

// Finalize forces a terminal state if the machine is somehow still
// in_progress when the loop exits, defaulting to timeout. Calling it on
// an already-terminal machine is a no-op.
func (m *Machine) Finalize(reason string) {
	if m.status == StatusInProgress {
		m.status = StatusTimeout
		m.reason = reason
		m.completedAt = m.now()
	}
}

// RecordIteration bumps the iteration count and accumulates the opaque
// cost metric supplied by an iteration result.
func (m *Machine) RecordIteration(costUSD float64) {
	m.iterations++
	m.costUSD += costUSD
}
