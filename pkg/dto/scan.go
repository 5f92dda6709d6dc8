package dto

import "github.com/google/uuid"

type ScanTokenRequest struct {
	Token     string    `json:"token" binding:"required"`
	StudentID uuid.UUID `json:"student_id" binding:"required"`
}

type VerifyRequest struct {
	SessionID  uuid.UUID `json:"session_id" binding:"required"`
	StudentID  uuid.UUID `json:"student_id" binding:"required"`
	Descriptor []float32 `json:"descriptor" binding:"required,min=1"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
}

type ScanCancelRequest struct {
	SessionID uuid.UUID `json:"session_id" binding:"required"`
	StudentID uuid.UUID `json:"student_id" binding:"required"`
}

type ScanStateQuery struct {
	SessionID string `form:"session_id" binding:"required"`
	StudentID string `form:"student_id" binding:"required"`
}

// FlowStateResponse mirrors one student's scan flow. Deadline is advisory;
// the server clock decides whether a capture landed in the window.
type FlowStateResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
	State     string    `json:"state"`
	Deadline  string    `json:"deadline,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  int       `json:"attempts"`
}

type VerifyResponse struct {
	Flow FlowStateResponse `json:"flow"`
	Mark *MarkResponse     `json:"mark,omitempty"`
}
