package verify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rollcall/internal/enroll"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/roster"
	"github.com/your-org/rollcall/internal/session"
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

type engineFixture struct {
	engine   *Engine
	store    *enroll.MemStore
	registry *session.Registry
	clock    *fakeClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	clock := newFakeClock()
	store := enroll.NewMemStore()
	registry := session.NewRegistry(session.Config{
		TokenTTLSeconds: 90,
		Grace:           time.Minute,
		Now:             clock.Now,
	}, roster.NewMemDirectory(), roster.NewMemLedger())
	engine := NewEngine(store, registry, Config{
		MatchThreshold: 1.0,
		MinEnrollment:  3,
		Now:            clock.Now,
	})
	return &engineFixture{engine: engine, store: store, registry: registry, clock: clock}
}

// enrollStudent seeds count descriptors clustered around base.
func (f *engineFixture) enrollStudent(t *testing.T, studentID uuid.UUID, count int, base models.FaceDescriptor) {
	t.Helper()
	for i := 0; i < count; i++ {
		vec := append(models.FaceDescriptor(nil), base...)
		vec[0] += float32(i) * 0.01
		_, err := f.store.AppendDescriptor(context.Background(), studentID, models.EnrolledDescriptor{Vector: vec})
		require.NoError(t, err)
	}
}

func (f *engineFixture) openSession(t *testing.T, fence *models.Geofence) models.Session {
	t.Helper()
	sess, err := f.registry.Open(uuid.New(), 3600, fence)
	require.NoError(t, err)
	return sess
}

func TestVerifyFaceRecordsMark(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	sess := f.openSession(t, nil)

	// Closest capture is the third, offset 0.02 from base.
	probe := models.FaceDescriptor{1.1, 0, 0, 0}
	mark, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, probe, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, studentID, mark.StudentID)
	assert.InDelta(t, 0.08, mark.Distance, 1e-3)
	assert.InDelta(t, 0.92, mark.Confidence, 1e-3)
	assert.Equal(t, f.clock.Now(), mark.VerifiedAt)

	marks, err := f.registry.Marks(sess.ID)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, studentID, marks[0].StudentID)
}

func TestVerifyFaceBelowMinimumEnrollment(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 2, models.FaceDescriptor{1, 0, 0, 0})
	sess := f.openSession(t, nil)

	_, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	assert.ErrorIs(t, err, models.ErrNotEnrolled)
}

func TestVerifyFaceUnknownStudent(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.openSession(t, nil)

	_, err := f.engine.VerifyFace(context.Background(), sess.ID, uuid.New(), models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	assert.ErrorIs(t, err, models.ErrNotEnrolled)
}

func TestVerifyFaceMismatch(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	sess := f.openSession(t, nil)

	probe := models.FaceDescriptor{-5, 4, 0, 0}
	_, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, probe, nil, nil)
	assert.ErrorIs(t, err, models.ErrFaceMismatch)

	marks, err := f.registry.Marks(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, marks, "a rejected scan leaves no mark")
}

func TestVerifyFaceDistanceAtThresholdPasses(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	// Three identical captures exactly 1.0 away from the probe.
	for i := 0; i < 3; i++ {
		_, err := f.store.AppendDescriptor(context.Background(), studentID, models.EnrolledDescriptor{
			Vector: models.FaceDescriptor{0, 0, 0, 0},
		})
		require.NoError(t, err)
	}
	sess := f.openSession(t, nil)

	mark, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, mark.Distance)
	assert.Equal(t, 0.0, mark.Confidence)
}

func TestVerifyFaceUsesBestDescriptor(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	vectors := []models.FaceDescriptor{
		{5, 0, 0, 0},
		{1.5, 0, 0, 0},
		{0.5, 0, 0, 0},
	}
	for _, v := range vectors {
		_, err := f.store.AppendDescriptor(context.Background(), studentID, models.EnrolledDescriptor{Vector: v})
		require.NoError(t, err)
	}
	sess := f.openSession(t, nil)

	mark, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mark.Distance, 1e-6)
}

func TestVerifyFaceGeofence(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	fence := &models.Geofence{Lat: 0, Lng: 0, RadiusM: 150}
	sess := f.openSession(t, fence)

	inside := func(v float64) *float64 { return &v }

	probe := models.FaceDescriptor{1, 0, 0, 0}
	mark, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, probe, inside(0), inside(0.001))
	require.NoError(t, err)
	require.NotNil(t, mark.Lat)
	assert.Equal(t, 0.001, *mark.Lng)

	_, err = f.engine.VerifyFace(context.Background(), sess.ID, studentID, probe, inside(0), inside(0.01))
	assert.ErrorIs(t, err, models.ErrOutOfRange)
}

func TestVerifyFaceMissingLocationWithFence(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	sess := f.openSession(t, &models.Geofence{Lat: 0, Lng: 0, RadiusM: 150})

	// A fenced session treats a scan without coordinates as out of range.
	_, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	assert.ErrorIs(t, err, models.ErrOutOfRange)
}

func TestVerifyFaceNoFenceIgnoresLocation(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	sess := f.openSession(t, nil)

	_, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	assert.NoError(t, err)
}

func TestVerifyFaceUnknownSession(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})

	_, err := f.engine.VerifyFace(context.Background(), uuid.New(), studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}

func TestVerifyFaceExpiredSession(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	sess, err := f.registry.Open(uuid.New(), 60, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	_, err = f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1, 0, 0, 0}, nil, nil)
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}

func TestVerifyFaceReVerificationOverwrites(t *testing.T) {
	f := newEngineFixture(t)
	studentID := uuid.New()
	f.enrollStudent(t, studentID, 3, models.FaceDescriptor{1, 0, 0, 0})
	sess := f.openSession(t, nil)

	_, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1.5, 0, 0, 0}, nil, nil)
	require.NoError(t, err)
	second, err := f.engine.VerifyFace(context.Background(), sess.ID, studentID, models.FaceDescriptor{1.1, 0, 0, 0}, nil, nil)
	require.NoError(t, err)

	marks, err := f.registry.Marks(sess.ID)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, second.Distance, marks[0].Distance)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		threshold float64
		want      float64
	}{
		{"exact match", 0, 1.05, 1},
		{"at threshold", 1.05, 1.05, 0},
		{"beyond threshold clamps", 2.4, 1.05, 0},
		{"halfway", 0.525, 1.05, 0.5},
		{"zero threshold", 0.3, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.distance, tt.threshold), 1e-9)
		})
	}
}
