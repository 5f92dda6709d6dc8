package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/scan"
	"github.com/your-org/rollcall/pkg/dto"
)

type ScanHandler struct {
	scans *scan.Manager
	hub   *ws.Hub
}

func NewScanHandler(scans *scan.Manager, hub *ws.Hub) *ScanHandler {
	return &ScanHandler{scans: scans, hub: hub}
}

// Token validates a scanned class code and opens the capture window.
func (h *ScanHandler) Token(c *gin.Context) {
	var req dto.ScanTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.scans.SubmitToken(req.StudentID, req.Token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, flowToResponse(snap))
}

// Verify runs a captured descriptor through the verification engine within
// the student's open capture window.
func (h *ScanHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mark, snap, err := h.scans.SubmitCapture(
		c.Request.Context(),
		req.SessionID,
		req.StudentID,
		models.FaceDescriptor(req.Descriptor),
		req.Lat,
		req.Lng,
	)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "flow": flowToResponse(snap)})
		return
	}

	markResp := markToResponse(mark)
	h.hub.Broadcast(&dto.WSEvent{
		Type:      "mark_recorded",
		SessionID: req.SessionID,
		StudentID: &req.StudentID,
		Mark:      &markResp,
	})

	c.JSON(http.StatusOK, dto.VerifyResponse{Flow: flowToResponse(snap), Mark: &markResp})
}

func (h *ScanHandler) Cancel(c *gin.Context) {
	var req dto.ScanCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cancelled := h.scans.Cancel(req.SessionID, req.StudentID)
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *ScanHandler) State(c *gin.Context) {
	var q dto.ScanStateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, err := uuid.Parse(q.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}
	studentID, err := uuid.Parse(q.StudentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student_id"})
		return
	}

	snap, ok := h.scans.State(sessionID, studentID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan flow for student"})
		return
	}

	c.JSON(http.StatusOK, flowToResponse(snap))
}

func flowToResponse(snap scan.Snapshot) dto.FlowStateResponse {
	resp := dto.FlowStateResponse{
		SessionID: snap.SessionID,
		StudentID: snap.StudentID,
		State:     string(snap.State),
		Reason:    snap.Reason,
		Attempts:  snap.Attempts,
	}
	if !snap.Deadline.IsZero() {
		resp.Deadline = snap.Deadline.UTC().Format("2006-01-02T15:04:05Z")
	}
	return resp
}
