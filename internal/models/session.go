package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionOpen          SessionStatus = "open"
	SessionAwaitingPhoto SessionStatus = "awaiting_photo"
	SessionFinalized     SessionStatus = "finalized"
	SessionExpired       SessionStatus = "expired"
)

// sessionTransitions is the single authority on legal status changes. Every
// mutation in the registry goes through CanTransition; there is no other path
// to the status field.
var sessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionOpen: {
		SessionAwaitingPhoto: true,
		SessionFinalized:     true,
		SessionExpired:       true,
	},
	SessionAwaitingPhoto: {
		SessionFinalized: true,
		SessionExpired:   true,
	},
	SessionFinalized: {},
	SessionExpired:   {},
}

func (s SessionStatus) CanTransition(to SessionStatus) bool {
	return sessionTransitions[s][to]
}

// Active reports whether a session in this status still accepts token
// validations, face verifications and class photos.
func (s SessionStatus) Active() bool {
	return s == SessionOpen || s == SessionAwaitingPhoto
}

// ClassToken is the opaque value a teacher displays for students to scan.
// How it is rendered (QR, code phrase) is up to the client; only the string
// value round-trips through the API.
type ClassToken struct {
	Value      string    `json:"value"`
	SessionID  uuid.UUID `json:"session_id"`
	IssuedAt   time.Time `json:"issued_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

func (t ClassToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.TTLSeconds) * time.Second)
}

// ProvisionalMark records one successful individual verification. At most one
// exists per student per session; a repeat verification overwrites in place.
type ProvisionalMark struct {
	StudentID  uuid.UUID `json:"student_id"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Session is the authoritative record for one occurrence of a scheduled class.
// Instances are owned by the session registry; everything outside it only ever
// sees copies.
type Session struct {
	ID           uuid.UUID                     `json:"id"`
	ScheduleID   uuid.UUID                     `json:"schedule_id"`
	Status       SessionStatus                 `json:"status"`
	CreatedAt    time.Time                     `json:"created_at"`
	ExpiresAt    time.Time                     `json:"expires_at"`
	Geofence     *Geofence                     `json:"geofence,omitempty"`
	CurrentToken ClassToken                    `json:"current_token"`
	Marks        map[uuid.UUID]ProvisionalMark `json:"marks"`
	PhotoKey     string                        `json:"photo_key,omitempty"` // MinIO key of the class photo
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s Session) Clone() Session {
	out := s
	out.Marks = make(map[uuid.UUID]ProvisionalMark, len(s.Marks))
	for id, m := range s.Marks {
		out.Marks[id] = m
	}
	if s.Geofence != nil {
		g := *s.Geofence
		out.Geofence = &g
	}
	return out
}
