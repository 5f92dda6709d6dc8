package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/roster"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// failingLedger errors a configurable number of times before delegating.
type failingLedger struct {
	inner    *roster.MemLedger
	mu       sync.Mutex
	failures int
}

func (l *failingLedger) RecordAttendance(ctx context.Context, sessionID, scheduleID uuid.UUID, date time.Time, entries []models.AttendanceEntry) error {
	l.mu.Lock()
	fail := l.failures > 0
	if fail {
		l.failures--
	}
	l.mu.Unlock()
	if fail {
		return errors.New("ledger unavailable")
	}
	return l.inner.RecordAttendance(ctx, sessionID, scheduleID, date, entries)
}

type registryFixture struct {
	registry  *Registry
	clock     *fakeClock
	directory *roster.MemDirectory
	ledger    *roster.MemLedger
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	clock := newFakeClock()
	directory := roster.NewMemDirectory()
	ledger := roster.NewMemLedger()
	registry := NewRegistry(Config{
		TokenTTLSeconds: 90,
		Grace:           10 * time.Minute,
		Now:             clock.Now,
	}, directory, ledger)
	return &registryFixture{registry: registry, clock: clock, directory: directory, ledger: ledger}
}

func TestOpenAndGet(t *testing.T) {
	f := newRegistryFixture(t)
	scheduleID := uuid.New()

	sess, err := f.registry.Open(scheduleID, 3600, nil)
	require.NoError(t, err)
	assert.Equal(t, scheduleID, sess.ScheduleID)
	assert.Equal(t, models.SessionOpen, sess.Status)
	assert.Len(t, sess.CurrentToken.Value, 32)
	assert.Equal(t, sess.ID, sess.CurrentToken.SessionID)
	assert.Equal(t, f.clock.Now().Add(time.Hour), sess.ExpiresAt)

	got, err := f.registry.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestGetUnknownSession(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.registry.Get(uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOpenDuplicateScheduleConflicts(t *testing.T) {
	f := newRegistryFixture(t)
	scheduleID := uuid.New()

	_, err := f.registry.Open(scheduleID, 3600, nil)
	require.NoError(t, err)

	_, err = f.registry.Open(scheduleID, 3600, nil)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestOpenReplacesLapsedSession(t *testing.T) {
	f := newRegistryFixture(t)
	scheduleID := uuid.New()

	first, err := f.registry.Open(scheduleID, 60, nil)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)

	second, err := f.registry.Open(scheduleID, 3600, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = f.registry.ValidateToken(first.CurrentToken.Value)
	assert.ErrorIs(t, err, models.ErrInvalidToken, "replaced session's token is dropped")

	_, err = f.registry.ValidateToken(second.CurrentToken.Value)
	assert.NoError(t, err)
}

func TestValidateToken(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	got, err := f.registry.ValidateToken(sess.CurrentToken.Value)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = f.registry.ValidateToken("NOSUCHTOKEN")
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestValidateTokenAfterTTL(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	f.clock.Advance(91 * time.Second)

	_, err = f.registry.ValidateToken(sess.CurrentToken.Value)
	assert.ErrorIs(t, err, models.ErrExpired, "token outlived its ttl but the session is still open")

	// A rotation issues a fresh usable token.
	token, err := f.registry.Rotate(sess.ID)
	require.NoError(t, err)
	_, err = f.registry.ValidateToken(token.Value)
	assert.NoError(t, err)
}

func TestValidateTokenOnExpiredSession(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 60, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	_, err = f.registry.ValidateToken(sess.CurrentToken.Value)
	assert.ErrorIs(t, err, models.ErrExpired)
}

func TestRotateInvalidatesOldTokenImmediately(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)
	oldValue := sess.CurrentToken.Value

	token, err := f.registry.Rotate(sess.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldValue, token.Value)

	_, err = f.registry.ValidateToken(oldValue)
	assert.ErrorIs(t, err, models.ErrInvalidToken)

	got, err := f.registry.ValidateToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, token.Value, got.CurrentToken.Value)
}

func TestRotateUnderConcurrentValidation(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value := sess.CurrentToken.Value
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := f.registry.ValidateToken(value)
				if err != nil && !errors.Is(err, models.ErrInvalidToken) {
					t.Errorf("unexpected validation error: %v", err)
					return
				}
			}
		}()
	}

	var lastToken models.ClassToken
	for i := 0; i < 50; i++ {
		lastToken, err = f.registry.Rotate(sess.ID)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	_, err = f.registry.ValidateToken(sess.CurrentToken.Value)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	_, err = f.registry.ValidateToken(lastToken.Value)
	assert.NoError(t, err)
}

func TestUpsertMarkOverwrites(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)
	studentID := uuid.New()

	_, err = f.registry.UpsertMark(sess.ID, models.ProvisionalMark{StudentID: studentID, Distance: 0.9})
	require.NoError(t, err)
	_, err = f.registry.UpsertMark(sess.ID, models.ProvisionalMark{StudentID: studentID, Distance: 0.4})
	require.NoError(t, err)

	marks, err := f.registry.Marks(sess.ID)
	require.NoError(t, err)
	require.Len(t, marks, 1, "re-verification overwrites, never duplicates")
	assert.Equal(t, 0.4, marks[0].Distance)
}

func TestUpsertMarkConcurrent(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.registry.UpsertMark(sess.ID, models.ProvisionalMark{StudentID: uuid.New()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	marks, err := f.registry.Marks(sess.ID)
	require.NoError(t, err)
	assert.Len(t, marks, 32)
}

func TestUpsertMarkOnInactiveSession(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Expire(sess.ID))

	_, err = f.registry.UpsertMark(sess.ID, models.ProvisionalMark{StudentID: uuid.New()})
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}

func TestAttachPhoto(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	got, err := f.registry.AttachPhoto(sess.ID, "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.SessionAwaitingPhoto, got.Status)
	assert.Equal(t, "photos/a.jpg", got.PhotoKey)

	// Retake replaces the key without another transition.
	got, err = f.registry.AttachPhoto(sess.ID, "photos/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.SessionAwaitingPhoto, got.Status)
	assert.Equal(t, "photos/b.jpg", got.PhotoKey)
}

func TestAttachPhotoOnExpiredSession(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 60, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	_, err = f.registry.AttachPhoto(sess.ID, "photos/late.jpg")
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}

func TestExpireIsIdempotent(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	require.NoError(t, f.registry.Expire(sess.ID))
	require.NoError(t, f.registry.Expire(sess.ID))

	_, err = f.registry.Get(sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.registry.ValidateToken(sess.CurrentToken.Value)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestExpireFinalizedSession(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	_, err = f.registry.Finalize(context.Background(), sess.ID, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.Expire(sess.ID), models.ErrInvalidState)
}

func TestFinalizeMergesRosterAndWritesLedger(t *testing.T) {
	f := newRegistryFixture(t)
	scheduleID := uuid.New()
	present := uuid.New()
	absent := uuid.New()
	f.directory.SetRoster(scheduleID, []models.RosterStudent{
		{StudentID: present}, {StudentID: absent},
	})

	sess, err := f.registry.Open(scheduleID, 3600, nil)
	require.NoError(t, err)
	_, err = f.registry.UpsertMark(sess.ID, models.ProvisionalMark{StudentID: present, Distance: 0.5})
	require.NoError(t, err)

	entries, err := f.registry.Finalize(context.Background(), sess.ID, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byStudent := map[uuid.UUID]models.AttendanceEntry{}
	for _, e := range entries {
		byStudent[e.StudentID] = e
	}
	assert.Equal(t, models.AttendancePresent, byStudent[present].Status)
	assert.Equal(t, models.AttendanceAbsent, byStudent[absent].Status)

	rec, ok := f.ledger.Record(sess.ID)
	require.True(t, ok)
	assert.Equal(t, scheduleID, rec.ScheduleID)
	assert.Len(t, rec.Entries, 2)

	// Finalized sessions stay readable until the janitor drops them.
	got, err := f.registry.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFinalized, got.Status)

	// The schedule slot is free again.
	_, err = f.registry.Open(scheduleID, 3600, nil)
	assert.NoError(t, err)
}

func TestFinalizeTwice(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)

	_, err = f.registry.Finalize(context.Background(), sess.ID, nil)
	require.NoError(t, err)

	_, err = f.registry.Finalize(context.Background(), sess.ID, nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestFinalizeAfterExpire(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Expire(sess.ID))

	_, err = f.registry.Finalize(context.Background(), sess.ID, nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Equal(t, 0, f.ledger.Len())
}

func TestFinalizeLedgerFailureLeavesSessionRetryable(t *testing.T) {
	clock := newFakeClock()
	directory := roster.NewMemDirectory()
	mem := roster.NewMemLedger()
	ledger := &failingLedger{inner: mem, failures: 1}
	registry := NewRegistry(Config{TokenTTLSeconds: 90, Grace: time.Minute, Now: clock.Now}, directory, ledger)

	sess, err := registry.Open(uuid.New(), 3600, nil)
	require.NoError(t, err)
	studentID := uuid.New()
	_, err = registry.UpsertMark(sess.ID, models.ProvisionalMark{StudentID: studentID})
	require.NoError(t, err)

	_, err = registry.Finalize(context.Background(), sess.ID, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrInvalidState)

	got, err := registry.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionOpen, got.Status, "failed ledger write must not close the session")

	entries, err := registry.Finalize(context.Background(), sess.ID, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AttendancePresent, entries[0].Status)
	assert.Equal(t, 1, mem.Len())
}

func TestFinalizeIncludesPhotoMatches(t *testing.T) {
	f := newRegistryFixture(t)
	scheduleID := uuid.New()
	photoStudent := uuid.New()
	f.directory.SetRoster(scheduleID, []models.RosterStudent{{StudentID: photoStudent}})

	sess, err := f.registry.Open(scheduleID, 3600, nil)
	require.NoError(t, err)

	distance := 0.7
	entries, err := f.registry.Finalize(context.Background(), sess.ID, []models.PhotoMatchResult{
		{MatchedStudentID: &photoStudent, Distance: &distance},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AttendancePresent, entries[0].Status)
	require.NotNil(t, entries[0].PhotoDistance)
	assert.Equal(t, 0.7, *entries[0].PhotoDistance)
	assert.Nil(t, entries[0].ScanDistance)
}

func TestSweepExpiresAndReclaims(t *testing.T) {
	f := newRegistryFixture(t)
	sess, err := f.registry.Open(uuid.New(), 60, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.registry.sweep()

	got, ok := f.registry.Peek(sess.ID)
	require.True(t, ok, "inside grace the session is still inspectable")
	assert.Equal(t, models.SessionExpired, got.Status)

	f.clock.Advance(11 * time.Minute)
	f.registry.sweep()

	_, ok = f.registry.Peek(sess.ID)
	assert.False(t, ok, "past grace the session is gone")
}
