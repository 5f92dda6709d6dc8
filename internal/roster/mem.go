package roster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// MemDirectory is a map-backed Directory for tests and local runs.
type MemDirectory struct {
	mu       sync.RWMutex
	schedule map[uuid.UUID][]models.RosterStudent
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{schedule: make(map[uuid.UUID][]models.RosterStudent)}
}

func (d *MemDirectory) SetRoster(scheduleID uuid.UUID, students []models.RosterStudent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedule[scheduleID] = append([]models.RosterStudent(nil), students...)
}

func (d *MemDirectory) EligibleStudents(_ context.Context, scheduleID uuid.UUID, _ time.Time) ([]models.RosterStudent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.RosterStudent(nil), d.schedule[scheduleID]...), nil
}

// LedgerRecord is one finalized session as a MemLedger stores it.
type LedgerRecord struct {
	SessionID  uuid.UUID
	ScheduleID uuid.UUID
	Date       time.Time
	Entries    []models.AttendanceEntry
	RecordedAt time.Time
}

// MemLedger is an in-memory AttendanceLedger. Writes are idempotent on
// session ID, matching the contract the registry relies on.
type MemLedger struct {
	mu      sync.RWMutex
	records map[uuid.UUID]LedgerRecord
}

func NewMemLedger() *MemLedger {
	return &MemLedger{records: make(map[uuid.UUID]LedgerRecord)}
}

func (l *MemLedger) RecordAttendance(_ context.Context, sessionID, scheduleID uuid.UUID, date time.Time, entries []models.AttendanceEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[sessionID]; ok {
		return nil
	}
	l.records[sessionID] = LedgerRecord{
		SessionID:  sessionID,
		ScheduleID: scheduleID,
		Date:       date,
		Entries:    append([]models.AttendanceEntry(nil), entries...),
		RecordedAt: time.Now(),
	}
	return nil
}

// Record returns the stored record for a session, if any.
func (l *MemLedger) Record(sessionID uuid.UUID) (LedgerRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[sessionID]
	return rec, ok
}

// Len reports how many sessions have been recorded.
func (l *MemLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
