package models

import (
	"time"

	"github.com/google/uuid"
)

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
)

// AttendanceEntry is one student's final outcome for a session. The distances
// from whichever channels observed the student are kept for audit; a nil
// distance means that channel never fired.
type AttendanceEntry struct {
	StudentID     uuid.UUID        `json:"student_id" db:"student_id"`
	Status        AttendanceStatus `json:"status" db:"status"`
	ScanDistance  *float64         `json:"scan_distance,omitempty" db:"scan_distance"`
	PhotoDistance *float64         `json:"photo_distance,omitempty" db:"photo_distance"`
}

// PhotoMatchResult is one detected face from a class photo. MatchedStudentID
// is nil when no enrolled descriptor cleared the threshold for that face.
type PhotoMatchResult struct {
	BBox             [4]float32 `json:"bbox"` // x1, y1, x2, y2
	MatchedStudentID *uuid.UUID `json:"matched_student_id,omitempty"`
	Distance         *float64   `json:"distance,omitempty"`
}

// ReconcileTask is the message published to NATS asking a worker to process a
// class photo.
type ReconcileTask struct {
	SessionID   uuid.UUID `json:"session_id"`
	ScheduleID  uuid.UUID `json:"schedule_id"`
	PhotoKey    string    `json:"photo_key"` // MinIO object key
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReconcileResult carries the deduplicated match set for one photo back to the
// API service, which folds it into the session and finalizes.
type ReconcileResult struct {
	SessionID     uuid.UUID          `json:"session_id"`
	PhotoKey      string             `json:"photo_key"`
	FacesDetected int                `json:"faces_detected"`
	Matches       []PhotoMatchResult `json:"matches"`
	ProcessedAt   time.Time          `json:"processed_at"`
}
