package enroll

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// MemStore is a map-backed Store.
type MemStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID][]models.EnrolledDescriptor
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID][]models.EnrolledDescriptor)}
}

func (s *MemStore) Enrollment(_ context.Context, studentID uuid.UUID) (models.EnrollmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.EnrollmentRecord{
		StudentID:   studentID,
		Descriptors: append([]models.EnrolledDescriptor(nil), s.records[studentID]...),
	}, nil
}

func (s *MemStore) AppendDescriptor(_ context.Context, studentID uuid.UUID, d models.EnrolledDescriptor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[studentID] = append(s.records[studentID], d)
	return len(s.records[studentID]), nil
}

func (s *MemStore) Nearest(_ context.Context, probe models.FaceDescriptor) (Match, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Match
	found := false
	for studentID, descs := range s.records {
		for _, d := range descs {
			dist := probe.Distance(d.Vector)
			if !found || dist < best.Distance {
				best = Match{StudentID: studentID, Distance: dist}
				found = true
			}
		}
	}
	return best, found, nil
}
