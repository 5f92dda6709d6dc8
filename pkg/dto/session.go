package dto

import "github.com/google/uuid"

type GeofenceDTO struct {
	Lat     float64 `json:"lat" binding:"required,min=-90,max=90"`
	Lng     float64 `json:"lng" binding:"required,min=-180,max=180"`
	RadiusM float64 `json:"radius_m" binding:"required,gt=0"`
}

type OpenSessionRequest struct {
	ScheduleID uuid.UUID    `json:"schedule_id" binding:"required"`
	TTLSeconds int          `json:"ttl_seconds" binding:"omitempty,min=60,max=14400"`
	Geofence   *GeofenceDTO `json:"geofence,omitempty"`
}

type SessionResponse struct {
	ID         uuid.UUID    `json:"id"`
	ScheduleID uuid.UUID    `json:"schedule_id"`
	Status     string       `json:"status"`
	Geofence   *GeofenceDTO `json:"geofence,omitempty"`
	MarkCount  int          `json:"mark_count"`
	PhotoKey   string       `json:"photo_key,omitempty"`
	CreatedAt  string       `json:"created_at"`
	ExpiresAt  string       `json:"expires_at"`
}

type OpenSessionResponse struct {
	Session SessionResponse `json:"session"`
	Token   TokenResponse   `json:"token"`
}

type TokenResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
	IssuedAt  string    `json:"issued_at"`
	ExpiresAt string    `json:"expires_at"`
}

type MarkResponse struct {
	StudentID  uuid.UUID `json:"student_id"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	VerifiedAt string    `json:"verified_at"`
}

type MarkListResponse struct {
	SessionID uuid.UUID      `json:"session_id"`
	Marks     []MarkResponse `json:"marks"`
	Total     int            `json:"total"`
}

type PhotoAcceptedResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	PhotoKey  string    `json:"photo_key"`
	Status    string    `json:"status"`
}

type AttendanceEntryDTO struct {
	StudentID     uuid.UUID `json:"student_id"`
	Status        string    `json:"status"`
	ScanDistance  *float64  `json:"scan_distance,omitempty"`
	PhotoDistance *float64  `json:"photo_distance,omitempty"`
}

type AttendanceResponse struct {
	SessionID uuid.UUID            `json:"session_id"`
	Status    string               `json:"status"`
	Entries   []AttendanceEntryDTO `json:"entries"`
	Present   int                  `json:"present"`
	Absent    int                  `json:"absent"`
}

type RosterAttachRequest struct {
	StudentIDs []uuid.UUID `json:"student_ids" binding:"required,min=1"`
}

type RosterAttachResponse struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Attached   int       `json:"attached"`
}
