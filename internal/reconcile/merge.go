// Package reconcile turns a class photo into descriptor matches and folds both
// verification channels into the final attendance for a session.
package reconcile

import (
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// DedupMatches resolves multiple faces claiming the same student: the
// lowest-distance face keeps the identity, the others revert to unmatched.
// Input order is preserved.
func DedupMatches(matches []models.PhotoMatchResult) []models.PhotoMatchResult {
	bestIdx := make(map[uuid.UUID]int)
	for i, m := range matches {
		if m.MatchedStudentID == nil || m.Distance == nil {
			continue
		}
		prev, ok := bestIdx[*m.MatchedStudentID]
		if !ok || *m.Distance < *matches[prev].Distance {
			bestIdx[*m.MatchedStudentID] = i
		}
	}

	out := make([]models.PhotoMatchResult, len(matches))
	for i, m := range matches {
		if m.MatchedStudentID != nil && bestIdx[*m.MatchedStudentID] != i {
			m.MatchedStudentID = nil
			m.Distance = nil
		}
		out[i] = m
	}
	return out
}

// MergeRoster produces one final entry per student. Presence is a logical OR
// of the two channels: an individual scan or a photo match alone is enough.
// Students on the roster with neither are absent. Verified students missing
// from the roster are still recorded present, so a stale roster never erases
// a verification.
func MergeRoster(eligible []models.RosterStudent, marks map[uuid.UUID]models.ProvisionalMark, photoMatches []models.PhotoMatchResult) []models.AttendanceEntry {
	photoDist := make(map[uuid.UUID]float64)
	for _, m := range DedupMatches(photoMatches) {
		if m.MatchedStudentID != nil && m.Distance != nil {
			photoDist[*m.MatchedStudentID] = *m.Distance
		}
	}

	entries := make([]models.AttendanceEntry, 0, len(eligible))
	seen := make(map[uuid.UUID]bool, len(eligible))

	for _, student := range eligible {
		seen[student.StudentID] = true
		entries = append(entries, buildEntry(student.StudentID, marks, photoDist))
	}

	// Verified but not on the roster: late enrollments, section moves.
	var extras []uuid.UUID
	for id := range marks {
		if !seen[id] {
			extras = append(extras, id)
			seen[id] = true
		}
	}
	for id := range photoDist {
		if !seen[id] {
			extras = append(extras, id)
			seen[id] = true
		}
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].String() < extras[j].String() })
	for _, id := range extras {
		entries = append(entries, buildEntry(id, marks, photoDist))
	}

	return entries
}

func buildEntry(studentID uuid.UUID, marks map[uuid.UUID]models.ProvisionalMark, photoDist map[uuid.UUID]float64) models.AttendanceEntry {
	entry := models.AttendanceEntry{
		StudentID: studentID,
		Status:    models.AttendanceAbsent,
	}
	if mark, ok := marks[studentID]; ok {
		d := mark.Distance
		entry.ScanDistance = &d
		entry.Status = models.AttendancePresent
	}
	if d, ok := photoDist[studentID]; ok {
		dist := d
		entry.PhotoDistance = &dist
		entry.Status = models.AttendancePresent
	}
	return entry
}
