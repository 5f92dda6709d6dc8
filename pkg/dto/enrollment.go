package dto

import "github.com/google/uuid"

type CreateStudentRequest struct {
	Name         string    `json:"name" binding:"required"`
	RollNumber   string    `json:"roll_number" binding:"required"`
	DepartmentID uuid.UUID `json:"department_id" binding:"required"`
	SectionID    uuid.UUID `json:"section_id" binding:"required"`
}

type StudentResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	RollNumber   string    `json:"roll_number"`
	DepartmentID uuid.UUID `json:"department_id"`
	SectionID    uuid.UUID `json:"section_id"`
	CreatedAt    string    `json:"created_at"`
}

type StudentListResponse struct {
	Students []StudentResponse `json:"students"`
	Total    int               `json:"total"`
}

type DescriptorAddedResponse struct {
	StudentID   uuid.UUID `json:"student_id"`
	Count       int       `json:"count"`
	MinRequired int       `json:"min_required"`
	TargetCount int       `json:"target_count"`
	Enrolled    bool      `json:"enrolled"`
}

type DescriptorResponse struct {
	CapturedAt string `json:"captured_at"`
	SourceKey  string `json:"source_key,omitempty"`
}

type DescriptorListResponse struct {
	StudentID   uuid.UUID            `json:"student_id"`
	Descriptors []DescriptorResponse `json:"descriptors"`
	Total       int                  `json:"total"`
	Enrolled    bool                 `json:"enrolled"`
}
