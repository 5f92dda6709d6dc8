// Package roster is the boundary to the surrounding timetable system: who is
// expected in a class, and where finalized attendance lands.
package roster

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// Directory answers which students are expected in a scheduled class on a
// given date. The verification core only reads it.
type Directory interface {
	EligibleStudents(ctx context.Context, scheduleID uuid.UUID, date time.Time) ([]models.RosterStudent, error)
}

// AttendanceLedger is the sole durable sink for finalized session results.
// RecordAttendance must be idempotent on sessionID: a repeated write for the
// same session keeps the first record and reports success.
type AttendanceLedger interface {
	RecordAttendance(ctx context.Context, sessionID, scheduleID uuid.UUID, date time.Time, entries []models.AttendanceEntry) error
}
