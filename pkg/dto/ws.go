package dto

import "github.com/google/uuid"

// WSEvent is a WebSocket message for the live session feed.
type WSEvent struct {
	Type       string              `json:"type"` // mark_recorded, photo_received, session_finalized, session_expired, scan_timeout, reconcile_failed
	SessionID  uuid.UUID           `json:"session_id"`
	StudentID  *uuid.UUID          `json:"student_id,omitempty"`
	Mark       *MarkResponse       `json:"mark,omitempty"`
	Attendance *AttendanceResponse `json:"attendance,omitempty"`
	Error      string              `json:"error,omitempty"`
}
