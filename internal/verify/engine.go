// Package verify applies the multi-factor verification policy for individual
// scans: face identity, geofence, session time.
package verify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/enroll"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/session"
)

type Config struct {
	MatchThreshold float64
	MinEnrollment  int
	Now            func() time.Time // nil means time.Now
}

// Engine checks one captured descriptor against enrollment and session policy.
// Checks run identity first, then location, then session state, so a caller
// always learns the most actionable failure.
type Engine struct {
	store     enroll.Store
	registry  *session.Registry
	threshold float64
	minimum   int
	now       func() time.Time
}

func NewEngine(store enroll.Store, registry *session.Registry, cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     store,
		registry:  registry,
		threshold: cfg.MatchThreshold,
		minimum:   cfg.MinEnrollment,
		now:       now,
	}
}

// Confidence maps a match distance to [0,1]: 1 at distance zero, 0 at the
// threshold and beyond.
func Confidence(distance, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	c := 1 - distance/threshold
	return math.Min(1, math.Max(0, c))
}

// VerifyFace runs the full check sequence and, when everything passes, records
// a provisional mark. The mark upsert re-validates the session under its lock,
// so a session expiring mid-verification fails cleanly instead of leaking a
// mark.
func (e *Engine) VerifyFace(ctx context.Context, sessionID, studentID uuid.UUID, captured models.FaceDescriptor, lat, lng *float64) (models.ProvisionalMark, error) {
	rec, err := e.store.Enrollment(ctx, studentID)
	if err != nil {
		return models.ProvisionalMark{}, fmt.Errorf("fetch enrollment: %w", err)
	}
	if !rec.Enrolled(e.minimum) {
		observability.ScansRejected.WithLabelValues("not_enrolled").Inc()
		return models.ProvisionalMark{}, models.ErrNotEnrolled
	}

	best := math.Inf(1)
	for _, d := range rec.Descriptors {
		if dist := captured.Distance(d.Vector); dist < best {
			best = dist
		}
	}
	if best > e.threshold {
		observability.ScansRejected.WithLabelValues("face_mismatch").Inc()
		return models.ProvisionalMark{}, models.ErrFaceMismatch
	}

	sess, ok := e.registry.Peek(sessionID)
	if !ok {
		observability.ScansRejected.WithLabelValues("session_not_active").Inc()
		return models.ProvisionalMark{}, models.ErrSessionNotActive
	}

	if sess.Geofence != nil {
		if lat == nil || lng == nil || !sess.Geofence.Contains(*lat, *lng) {
			observability.ScansRejected.WithLabelValues("out_of_range").Inc()
			return models.ProvisionalMark{}, models.ErrOutOfRange
		}
	}

	if !sess.Status.Active() {
		observability.ScansRejected.WithLabelValues("session_not_active").Inc()
		return models.ProvisionalMark{}, models.ErrSessionNotActive
	}

	mark := models.ProvisionalMark{
		StudentID:  studentID,
		Distance:   best,
		Confidence: Confidence(best, e.threshold),
		Lat:        lat,
		Lng:        lng,
		VerifiedAt: e.now(),
	}

	mark, err = e.registry.UpsertMark(sessionID, mark)
	if err != nil {
		observability.ScansRejected.WithLabelValues("session_not_active").Inc()
		return models.ProvisionalMark{}, err
	}

	observability.ScansVerified.Inc()
	return mark, nil
}
