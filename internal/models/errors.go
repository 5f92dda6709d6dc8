package models

import "errors"

// Verification error taxonomy. Every failure on the scan and session paths maps
// to exactly one of these sentinels; callers branch with errors.Is and the HTTP
// layer translates them to status codes. None of them abort a flow process,
// they only terminate the current attempt.
var (
	// ErrInvalidToken means the presented token value is unknown, usually
	// because it was rotated away or never existed.
	ErrInvalidToken = errors.New("class token not recognized")

	// ErrExpired means the token or its session ran past its lifetime.
	ErrExpired = errors.New("class token expired")

	// ErrConflict means an open session already exists for the schedule slot.
	ErrConflict = errors.New("session already open for schedule")

	// ErrNotEnrolled means the student has not captured enough reference
	// descriptors to be verified.
	ErrNotEnrolled = errors.New("student not enrolled")

	// ErrFaceMismatch means no enrolled descriptor came within the match
	// threshold of the captured one.
	ErrFaceMismatch = errors.New("face does not match enrollment")

	// ErrOutOfRange means the reported location falls outside the session
	// geofence, or the session requires a location and none was reported.
	ErrOutOfRange = errors.New("location outside session geofence")

	// ErrSessionNotActive means the session no longer accepts verifications.
	ErrSessionNotActive = errors.New("session not accepting verifications")

	// ErrInvalidState means the requested status change is not in the
	// session transition table.
	ErrInvalidState = errors.New("operation not allowed in current session state")

	// ErrNotFound is returned for lookups of unknown or already swept records.
	ErrNotFound = errors.New("not found")
)
