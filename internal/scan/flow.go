// Package scan drives the student-side verification flow: token scan, capture
// countdown, verdict. One flow exists per student per session.
package scan

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoCaptureWindow means a capture arrived with no open countdown: the
// student never scanned a token, or the window elapsed. The fix is always the
// same: scan the displayed token again.
var ErrNoCaptureWindow = errors.New("no open capture window, scan the class code first")

type State string

const (
	StateAwaitingToken  State = "awaiting_token"
	StateTokenValidated State = "token_validated"
	StateCapturingFace  State = "capturing_face"
	StateVerified       State = "verified"
	StateRejected       State = "rejected"
)

// flowTransitions is the authority on legal flow moves. Verified is terminal;
// a fresh attempt after it gets a new flow instance.
var flowTransitions = map[State]map[State]bool{
	StateAwaitingToken:  {StateTokenValidated: true},
	StateTokenValidated: {StateCapturingFace: true, StateAwaitingToken: true},
	StateCapturingFace:  {StateVerified: true, StateRejected: true, StateAwaitingToken: true},
	StateRejected:       {StateCapturingFace: true, StateAwaitingToken: true},
	StateVerified:       {},
}

// Snapshot is the externally visible view of a flow.
type Snapshot struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
	State     State     `json:"state"`
	Deadline  time.Time `json:"deadline"`         // capture countdown end, zero outside a window
	Reason    string    `json:"reason,omitempty"` // last rejection or timeout, for the student's screen
	Attempts  int       `json:"attempts"`
}

// Flow is one student's attempt sequence within a session. All fields are
// guarded by mu; the manager never touches them directly.
type Flow struct {
	mu        sync.Mutex
	sessionID uuid.UUID
	studentID uuid.UUID
	state     State
	deadline  time.Time
	timer     *time.Timer
	reason    string
	attempts  int
}

func newFlow(sessionID, studentID uuid.UUID) *Flow {
	return &Flow{
		sessionID: sessionID,
		studentID: studentID,
		state:     StateAwaitingToken,
	}
}

func (f *Flow) advance(to State) error {
	if !flowTransitions[f.state][to] {
		return fmt.Errorf("flow cannot move %s to %s", f.state, to)
	}
	f.state = to
	return nil
}

// rollBack returns the flow to AwaitingToken, closing any countdown. Reason
// is what the student sees next to the "scan again" prompt.
func (f *Flow) rollBack(reason string) {
	f.stopTimer()
	f.state = StateAwaitingToken
	f.deadline = time.Time{}
	f.reason = reason
}

func (f *Flow) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Flow) snapshot() Snapshot {
	return Snapshot{
		SessionID: f.sessionID,
		StudentID: f.studentID,
		State:     f.state,
		Deadline:  f.deadline,
		Reason:    f.reason,
		Attempts:  f.attempts,
	}
}

// State reads the flow state under its lock, for manager-side checks.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
