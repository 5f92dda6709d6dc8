package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/rollcall/internal/enroll"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/vision"
)

// ObjectGetter fetches a stored photo by key. storage.MinIOStore satisfies it.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Processor turns one queued class photo into a deduplicated match set.
// Errors are retryable: the caller naks the task and the photo is reprocessed
// or retaken.
type Processor struct {
	photos    ObjectGetter
	detector  vision.FaceDetector
	store     enroll.Store
	threshold float64
	now       func() time.Time
}

func NewProcessor(photos ObjectGetter, detector vision.FaceDetector, store enroll.Store, threshold float64) *Processor {
	return &Processor{
		photos:    photos,
		detector:  detector,
		store:     store,
		threshold: threshold,
		now:       time.Now,
	}
}

// Process fetches the photo, detects every face, matches each descriptor
// against enrollment and dedups the result. A photo with no faces yields an
// empty match set, not an error; finalize then falls back to scans alone.
func (p *Processor) Process(ctx context.Context, task models.ReconcileTask) (models.ReconcileResult, error) {
	start := p.now()

	data, err := p.photos.GetObject(ctx, task.PhotoKey)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("fetch photo %s: %w", task.PhotoKey, err)
	}

	faces, err := p.detector.DetectFaces(data)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("detect faces: %w", err)
	}
	observability.PhotoFacesDetected.Add(float64(len(faces)))

	matches := make([]models.PhotoMatchResult, 0, len(faces))
	for _, face := range faces {
		result := models.PhotoMatchResult{BBox: face.BBox}

		match, found, err := p.store.Nearest(ctx, face.Descriptor)
		if err != nil {
			return models.ReconcileResult{}, fmt.Errorf("descriptor search: %w", err)
		}
		if found && match.Distance <= p.threshold {
			id := match.StudentID
			dist := match.Distance
			result.MatchedStudentID = &id
			result.Distance = &dist
		}
		matches = append(matches, result)
	}

	matches = DedupMatches(matches)

	matched := 0
	for _, m := range matches {
		if m.MatchedStudentID != nil {
			matched++
		}
	}
	observability.PhotoFacesMatched.Add(float64(matched))
	observability.ReconcileDuration.Observe(time.Since(start).Seconds())

	slog.Info("class photo reconciled",
		"session_id", task.SessionID,
		"photo_key", task.PhotoKey,
		"faces", len(faces),
		"matched", matched,
		"duration_ms", time.Since(start).Milliseconds())

	return models.ReconcileResult{
		SessionID:     task.SessionID,
		PhotoKey:      task.PhotoKey,
		FacesDetected: len(faces),
		Matches:       matches,
		ProcessedAt:   p.now(),
	}, nil
}
