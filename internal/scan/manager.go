package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/session"
	"github.com/your-org/rollcall/internal/verify"
)

type Config struct {
	CaptureWindow time.Duration
	Now           func() time.Time // nil means time.Now
	OnTimeout     func(Snapshot)   // optional, called off the flow lock
}

type flowKey struct {
	sessionID uuid.UUID
	studentID uuid.UUID
}

// Manager owns every live flow. Lock order is manager then flow; the engine
// is always called under the flow lock, which serializes one student's
// attempts without stalling anyone else's.
type Manager struct {
	registry  *session.Registry
	engine    *verify.Engine
	window    time.Duration
	now       func() time.Time
	onTimeout func(Snapshot)

	mu    sync.Mutex
	flows map[flowKey]*Flow
}

func NewManager(registry *session.Registry, engine *verify.Engine, cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		registry:  registry,
		engine:    engine,
		window:    cfg.CaptureWindow,
		now:       now,
		onTimeout: cfg.OnTimeout,
		flows:     make(map[flowKey]*Flow),
	}
}

// SubmitToken validates a scanned token and opens the capture countdown.
// The token is consumed here and never re-checked: a rotation mid-window does
// not interrupt a student who already validated. Re-submitting restarts the
// window, and a student who already verified starts a fresh flow (the repeat
// verification stays idempotent at the mark level).
func (m *Manager) SubmitToken(studentID uuid.UUID, tokenValue string) (Snapshot, error) {
	sess, err := m.registry.ValidateToken(tokenValue)
	if err != nil {
		return Snapshot{StudentID: studentID, State: StateAwaitingToken}, err
	}

	key := flowKey{sessionID: sess.ID, studentID: studentID}

	m.mu.Lock()
	f, ok := m.flows[key]
	if !ok || f.State() == StateVerified {
		f = newFlow(sess.ID, studentID)
		m.flows[key] = f
	}
	m.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingToken {
		f.rollBack("")
	}
	if err := f.advance(StateTokenValidated); err != nil {
		return f.snapshot(), err
	}
	if err := f.advance(StateCapturingFace); err != nil {
		return f.snapshot(), err
	}
	f.reason = ""
	f.deadline = m.now().Add(m.window)
	f.timer = time.AfterFunc(m.window, func() { m.expireWindow(key) })

	slog.Debug("capture window opened",
		"session_id", sess.ID,
		"student_id", studentID,
		"deadline", f.deadline)

	return f.snapshot(), nil
}

// SubmitCapture runs the captured descriptor through the verification engine.
// Mismatch and out-of-range leave the window open for another try; a success
// is terminal for this flow.
func (m *Manager) SubmitCapture(ctx context.Context, sessionID, studentID uuid.UUID, captured models.FaceDescriptor, lat, lng *float64) (models.ProvisionalMark, Snapshot, error) {
	key := flowKey{sessionID: sessionID, studentID: studentID}

	m.mu.Lock()
	f, ok := m.flows[key]
	m.mu.Unlock()

	if !ok {
		snap := Snapshot{SessionID: sessionID, StudentID: studentID, State: StateAwaitingToken}
		return models.ProvisionalMark{}, snap, ErrNoCaptureWindow
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateCapturingFace, StateRejected:
	default:
		return models.ProvisionalMark{}, f.snapshot(), ErrNoCaptureWindow
	}

	if m.now().After(f.deadline) {
		f.rollBack("capture window elapsed")
		observability.CaptureTimeouts.Inc()
		return models.ProvisionalMark{}, f.snapshot(), ErrNoCaptureWindow
	}

	if f.state == StateRejected {
		if err := f.advance(StateCapturingFace); err != nil {
			return models.ProvisionalMark{}, f.snapshot(), err
		}
	}
	f.attempts++

	mark, err := m.engine.VerifyFace(ctx, f.sessionID, studentID, captured, lat, lng)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrFaceMismatch), errors.Is(err, models.ErrOutOfRange):
			// Retryable within the window.
			if terr := f.advance(StateRejected); terr != nil {
				return models.ProvisionalMark{}, f.snapshot(), terr
			}
			f.reason = err.Error()
		case errors.Is(err, models.ErrNotEnrolled):
			f.rollBack("enrollment required")
		case errors.Is(err, models.ErrSessionNotActive), errors.Is(err, models.ErrExpired):
			f.rollBack("session closed")
		}
		return models.ProvisionalMark{}, f.snapshot(), err
	}

	if terr := f.advance(StateVerified); terr != nil {
		return models.ProvisionalMark{}, f.snapshot(), terr
	}
	f.stopTimer()
	f.deadline = time.Time{}
	f.reason = ""

	slog.Info("student verified",
		"session_id", sessionID,
		"student_id", studentID,
		"distance", mark.Distance,
		"attempts", f.attempts)

	return mark, f.snapshot(), nil
}

// Cancel aborts a flow. A verified flow stays verified; cancel never removes
// a recorded mark.
func (m *Manager) Cancel(sessionID, studentID uuid.UUID) bool {
	key := flowKey{sessionID: sessionID, studentID: studentID}

	m.mu.Lock()
	f, ok := m.flows[key]
	if ok && f.State() != StateVerified {
		delete(m.flows, key)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if ok {
		f.mu.Lock()
		f.stopTimer()
		f.mu.Unlock()
	}
	return ok
}

// State returns the current snapshot of a student's flow.
func (m *Manager) State(sessionID, studentID uuid.UUID) (Snapshot, bool) {
	m.mu.Lock()
	f, ok := m.flows[flowKey{sessionID: sessionID, studentID: studentID}]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), true
}

// DropSession clears every flow for a closed session.
func (m *Manager) DropSession(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, f := range m.flows {
		if key.sessionID != sessionID {
			continue
		}
		f.mu.Lock()
		f.stopTimer()
		f.mu.Unlock()
		delete(m.flows, key)
	}
}

// expireWindow fires from the countdown timer. The deadline re-check makes a
// stale timer from a restarted window a no-op.
func (m *Manager) expireWindow(key flowKey) {
	m.mu.Lock()
	f, ok := m.flows[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	f.mu.Lock()
	if (f.state != StateCapturingFace && f.state != StateRejected) || m.now().Before(f.deadline) {
		f.mu.Unlock()
		return
	}
	f.rollBack("capture window elapsed")
	snap := f.snapshot()
	f.mu.Unlock()

	observability.CaptureTimeouts.Inc()
	slog.Debug("capture window elapsed",
		"session_id", key.sessionID,
		"student_id", key.studentID)

	if m.onTimeout != nil {
		m.onTimeout(snap)
	}
}
