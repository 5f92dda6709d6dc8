// Package session owns the lifecycle of attendance sessions: opening, token
// rotation, provisional marks, expiry and the final ledger write.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/reconcile"
	"github.com/your-org/rollcall/internal/roster"
)

type Config struct {
	TokenTTLSeconds int
	Grace           time.Duration    // how long terminal sessions stay in memory
	Now             func() time.Time // nil means time.Now
}

// sessionState pairs a session with its own lock so one class finalizing does
// not stall scans in another.
type sessionState struct {
	mu   sync.Mutex
	sess models.Session
}

// Registry is the in-memory authority for every live session. The maps are
// guarded by mu; each session record by its own lock. Lock order is always
// registry then session, never the reverse.
type Registry struct {
	directory roster.Directory
	ledger    roster.AttendanceLedger
	issuer    *TokenIssuer
	grace     time.Duration
	now       func() time.Time

	mu         sync.RWMutex
	sessions   map[uuid.UUID]*sessionState
	bySchedule map[uuid.UUID]uuid.UUID
	tokens     map[string]uuid.UUID // current token value -> session
}

func NewRegistry(cfg Config, directory roster.Directory, ledger roster.AttendanceLedger) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		directory:  directory,
		ledger:     ledger,
		issuer:     NewTokenIssuer(cfg.TokenTTLSeconds, now),
		grace:      cfg.Grace,
		now:        now,
		sessions:   make(map[uuid.UUID]*sessionState),
		bySchedule: make(map[uuid.UUID]uuid.UUID),
		tokens:     make(map[string]uuid.UUID),
	}
}

// effectiveStatus folds wall-clock expiry into the stored status, so a session
// past its deadline refuses work even before the janitor reaches it.
func (r *Registry) effectiveStatus(s models.Session, now time.Time) models.SessionStatus {
	if s.Status.Active() && now.After(s.ExpiresAt) {
		return models.SessionExpired
	}
	return s.Status
}

// Open creates a session for a schedule slot and mints its first token.
// A schedule can have at most one live session; opening over a lapsed one
// replaces it.
func (r *Registry) Open(scheduleID uuid.UUID, ttlSeconds int, fence *models.Geofence) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existingID, ok := r.bySchedule[scheduleID]; ok {
		if st, ok := r.sessions[existingID]; ok {
			st.mu.Lock()
			live := r.effectiveStatus(st.sess, now).Active()
			staleToken := st.sess.CurrentToken.Value
			st.mu.Unlock()
			if live {
				return models.Session{}, models.ErrConflict
			}
			delete(r.tokens, staleToken)
		}
		delete(r.bySchedule, scheduleID)
	}

	id := uuid.New()
	token, err := r.issuer.Mint(id)
	if err != nil {
		return models.Session{}, err
	}

	sess := models.Session{
		ID:           id,
		ScheduleID:   scheduleID,
		Status:       models.SessionOpen,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(ttlSeconds) * time.Second),
		Geofence:     fence,
		CurrentToken: token,
		Marks:        make(map[uuid.UUID]models.ProvisionalMark),
	}

	r.sessions[id] = &sessionState{sess: sess}
	r.bySchedule[scheduleID] = id
	r.tokens[token.Value] = id
	observability.SessionsOpen.Inc()

	slog.Info("session opened",
		"session_id", id,
		"schedule_id", scheduleID,
		"expires_at", sess.ExpiresAt,
		"geofenced", fence != nil)

	return sess.Clone(), nil
}

// Get returns a copy of the session. Expired sessions are reported as not
// found; finalized ones remain readable until the janitor sweeps them.
func (r *Registry) Get(sessionID uuid.UUID) (models.Session, error) {
	st, ok := r.state(sessionID)
	if !ok {
		return models.Session{}, models.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if r.effectiveStatus(st.sess, r.now()) == models.SessionExpired {
		return models.Session{}, models.ErrNotFound
	}
	return st.sess.Clone(), nil
}

// Peek returns the session with its effective status, including expired ones.
// The verification engine uses it to tell "gone" apart from "never existed".
func (r *Registry) Peek(sessionID uuid.UUID) (models.Session, bool) {
	st, ok := r.state(sessionID)
	if !ok {
		return models.Session{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.sess.Clone()
	out.Status = r.effectiveStatus(st.sess, r.now())
	return out, true
}

// Marks lists the provisional marks recorded so far.
func (r *Registry) Marks(sessionID uuid.UUID) ([]models.ProvisionalMark, error) {
	sess, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}
	marks := make([]models.ProvisionalMark, 0, len(sess.Marks))
	for _, m := range sess.Marks {
		marks = append(marks, m)
	}
	return marks, nil
}

// ValidateToken resolves a scanned token value. It never mutates anything, so
// any number of students can scan concurrently.
func (r *Registry) ValidateToken(value string) (models.Session, error) {
	r.mu.RLock()
	sessionID, ok := r.tokens[value]
	var st *sessionState
	if ok {
		st, ok = r.sessions[sessionID]
	}
	r.mu.RUnlock()

	if !ok {
		observability.TokenValidations.WithLabelValues("invalid").Inc()
		return models.Session{}, models.ErrInvalidToken
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.now()
	if !r.effectiveStatus(st.sess, now).Active() {
		observability.TokenValidations.WithLabelValues("expired").Inc()
		return models.Session{}, models.ErrExpired
	}
	if now.After(st.sess.CurrentToken.ExpiresAt()) {
		observability.TokenValidations.WithLabelValues("expired").Inc()
		return models.Session{}, models.ErrExpired
	}

	observability.TokenValidations.WithLabelValues("ok").Inc()
	return st.sess.Clone(), nil
}

// Rotate replaces the session token. The old value stops validating before
// this returns; in-flight scans that already validated are unaffected.
func (r *Registry) Rotate(sessionID uuid.UUID) (models.ClassToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok {
		return models.ClassToken{}, models.ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !r.effectiveStatus(st.sess, r.now()).Active() {
		return models.ClassToken{}, models.ErrSessionNotActive
	}

	token, err := r.issuer.Mint(sessionID)
	if err != nil {
		return models.ClassToken{}, err
	}

	delete(r.tokens, st.sess.CurrentToken.Value)
	r.tokens[token.Value] = sessionID
	st.sess.CurrentToken = token

	slog.Debug("token rotated", "session_id", sessionID)
	return token, nil
}

// UpsertMark records a successful verification. Re-verification overwrites the
// student's mark in place; the active check runs under the session lock so a
// mark can never land after finalize.
func (r *Registry) UpsertMark(sessionID uuid.UUID, mark models.ProvisionalMark) (models.ProvisionalMark, error) {
	st, ok := r.state(sessionID)
	if !ok {
		return models.ProvisionalMark{}, models.ErrSessionNotActive
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !r.effectiveStatus(st.sess, r.now()).Active() {
		return models.ProvisionalMark{}, models.ErrSessionNotActive
	}

	st.sess.Marks[mark.StudentID] = mark
	return mark, nil
}

// AttachPhoto stores the class photo key and moves the session to
// AwaitingPhoto. A retake while already awaiting simply replaces the key.
func (r *Registry) AttachPhoto(sessionID uuid.UUID, photoKey string) (models.Session, error) {
	st, ok := r.state(sessionID)
	if !ok {
		return models.Session{}, models.ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	status := r.effectiveStatus(st.sess, r.now())
	if !status.Active() {
		return models.Session{}, models.ErrSessionNotActive
	}
	if status == models.SessionOpen {
		if !st.sess.Status.CanTransition(models.SessionAwaitingPhoto) {
			return models.Session{}, models.ErrInvalidState
		}
		st.sess.Status = models.SessionAwaitingPhoto
	}
	st.sess.PhotoKey = photoKey

	slog.Info("class photo attached", "session_id", sessionID, "photo_key", photoKey)
	return st.sess.Clone(), nil
}

// Expire force-closes a session without recording attendance. Expiring an
// already expired session is a no-op; a finalized one cannot be expired.
func (r *Registry) Expire(sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok {
		return models.ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.sess.Status == models.SessionExpired:
		return nil
	case r.effectiveStatus(st.sess, r.now()) == models.SessionExpired:
		// Deadline already passed; make it official.
	case !st.sess.Status.CanTransition(models.SessionExpired):
		return models.ErrInvalidState
	}

	r.retire(st)
	st.sess.Status = models.SessionExpired

	slog.Info("session expired", "session_id", sessionID, "marks", len(st.sess.Marks))
	return nil
}

// Finalize merges the two verification channels against the roster, writes the
// ledger and closes the session. The merge and the ledger write happen under
// the session lock: nothing can slip a mark in between them, and a failed
// write leaves the session active for a retry. The ledger is idempotent on
// session ID, so a retry after a half-applied write is safe.
func (r *Registry) Finalize(ctx context.Context, sessionID uuid.UUID, photoMatches []models.PhotoMatchResult) ([]models.AttendanceEntry, error) {
	st, ok := r.state(sessionID)
	if !ok {
		return nil, models.ErrNotFound
	}

	st.mu.Lock()
	if !r.effectiveStatus(st.sess, r.now()).Active() {
		st.mu.Unlock()
		return nil, models.ErrInvalidState
	}
	scheduleID := st.sess.ScheduleID
	classDate := st.sess.CreatedAt
	st.mu.Unlock()

	// Roster fetch happens outside the lock; scans keep flowing meanwhile.
	eligible, err := r.directory.EligibleStudents(ctx, scheduleID, classDate)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}

	st.mu.Lock()

	if !r.effectiveStatus(st.sess, r.now()).Active() {
		st.mu.Unlock()
		return nil, models.ErrInvalidState
	}

	entries := reconcile.MergeRoster(eligible, st.sess.Marks, photoMatches)

	if err := r.ledger.RecordAttendance(ctx, sessionID, scheduleID, classDate, entries); err != nil {
		observability.LedgerWrites.WithLabelValues("error").Inc()
		st.mu.Unlock()
		return nil, fmt.Errorf("record attendance: %w", err)
	}
	observability.LedgerWrites.WithLabelValues("ok").Inc()

	tokenValue := st.sess.CurrentToken.Value
	st.sess.Status = models.SessionFinalized
	observability.SessionsOpen.Dec()
	st.mu.Unlock()

	// Index cleanup takes the registry lock, so it runs only after the
	// session lock is released. A lookup racing this window re-checks
	// status and sees Finalized.
	r.dropIndexes(tokenValue, scheduleID, sessionID)

	present := 0
	for _, e := range entries {
		if e.Status == models.AttendancePresent {
			present++
		}
	}
	slog.Info("session finalized",
		"session_id", sessionID,
		"schedule_id", scheduleID,
		"present", present,
		"absent", len(entries)-present)

	return entries, nil
}

// dropIndexes removes a closed session's token and schedule mappings. Stale
// entries are harmless in the meantime: lookups re-check status.
func (r *Registry) dropIndexes(tokenValue string, scheduleID, sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, tokenValue)
	if r.bySchedule[scheduleID] == sessionID {
		delete(r.bySchedule, scheduleID)
	}
}

// retire clears a session's index entries and open gauge. Caller holds both
// the registry and session locks.
func (r *Registry) retire(st *sessionState) {
	if st.sess.Status.Active() {
		observability.SessionsOpen.Dec()
	}
	delete(r.tokens, st.sess.CurrentToken.Value)
	if r.bySchedule[st.sess.ScheduleID] == st.sess.ID {
		delete(r.bySchedule, st.sess.ScheduleID)
	}
}

func (r *Registry) state(sessionID uuid.UUID) (*sessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	return st, ok
}

// Run drives lazy expiry and memory reclamation until the context ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep makes lazy expiries official and drops terminal sessions once their
// grace period lapses.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, st := range r.sessions {
		st.mu.Lock()
		if st.sess.Status.Active() && now.After(st.sess.ExpiresAt) {
			r.retire(st)
			st.sess.Status = models.SessionExpired
			slog.Info("session lapsed", "session_id", id, "marks", len(st.sess.Marks))
		}
		if !st.sess.Status.Active() && now.After(st.sess.ExpiresAt.Add(r.grace)) {
			delete(r.sessions, id)
		}
		st.mu.Unlock()
	}
}
