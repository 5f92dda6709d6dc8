// Package enroll holds reference face descriptors captured during student
// onboarding. The verification path only reads; onboarding only appends.
package enroll

import (
	"context"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// Match is the closest enrolled descriptor to a probe, across all students.
type Match struct {
	StudentID uuid.UUID
	Distance  float64
}

// Store is the descriptor repository. The Postgres implementation lives in the
// storage package; MemStore below backs tests and local runs.
//
// Enrollment returns an empty record for unknown students rather than an
// error, so callers decide enrollment policy with Enrolled().
type Store interface {
	Enrollment(ctx context.Context, studentID uuid.UUID) (models.EnrollmentRecord, error)
	AppendDescriptor(ctx context.Context, studentID uuid.UUID, d models.EnrolledDescriptor) (int, error)
	Nearest(ctx context.Context, probe models.FaceDescriptor) (Match, bool, error)
}
