package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// FaceDescriptor is the fixed-length embedding the face model produces.
// Descriptors are compared by Euclidean distance; everything else about the
// model is opaque to this service.
type FaceDescriptor []float32

// Distance returns the L2 distance to another descriptor. Descriptors of
// different lengths come from different models and never match, so the
// distance is reported as +Inf.
func (d FaceDescriptor) Distance(other FaceDescriptor) float64 {
	if len(d) != len(other) || len(d) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range d {
		diff := float64(d[i]) - float64(other[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// EnrolledDescriptor is one reference capture from onboarding.
type EnrolledDescriptor struct {
	Vector     FaceDescriptor `json:"vector"`
	CapturedAt time.Time      `json:"captured_at"`
	SourceKey  string         `json:"source_key,omitempty"` // MinIO key of the capture image
}

// EnrollmentRecord holds a student's reference descriptors, oldest first.
// Records grow by appending one descriptor per captured angle and are never
// mutated in place.
type EnrollmentRecord struct {
	StudentID   uuid.UUID            `json:"student_id"`
	Descriptors []EnrolledDescriptor `json:"descriptors"`
}

// Enrolled reports whether the record has enough captures to verify against.
func (r EnrollmentRecord) Enrolled(minCaptures int) bool {
	return len(r.Descriptors) >= minCaptures
}

// RosterStudent is the directory view of a student expected in a class.
type RosterStudent struct {
	StudentID    uuid.UUID `json:"student_id" db:"id"`
	Name         string    `json:"name" db:"name"`
	RollNumber   string    `json:"roll_number" db:"roll_number"`
	DepartmentID uuid.UUID `json:"department_id" db:"department_id"`
	SectionID    uuid.UUID `json:"section_id" db:"section_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
