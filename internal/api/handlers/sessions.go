package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/scan"
	"github.com/your-org/rollcall/internal/session"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/pkg/dto"
)

// defaultSessionTTLSeconds covers a standard lecture slot when the request
// does not set ttl_seconds.
const defaultSessionTTLSeconds = 3600

type SessionHandler struct {
	registry *session.Registry
	scans    *scan.Manager
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
	hub      *ws.Hub
}

func NewSessionHandler(registry *session.Registry, scans *scan.Manager, db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer, hub *ws.Hub) *SessionHandler {
	return &SessionHandler{registry: registry, scans: scans, db: db, minio: minio, producer: producer, hub: hub}
}

func (h *SessionHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = defaultSessionTTLSeconds
	}

	var fence *models.Geofence
	if req.Geofence != nil {
		fence = &models.Geofence{
			Lat:     req.Geofence.Lat,
			Lng:     req.Geofence.Lng,
			RadiusM: req.Geofence.RadiusM,
		}
	}

	sess, err := h.registry.Open(req.ScheduleID, ttl, fence)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.OpenSessionResponse{
		Session: sessionToResponse(sess),
		Token:   tokenToResponse(sess.CurrentToken),
	})
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := h.registry.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionToResponse(sess))
}

func (h *SessionHandler) Marks(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	marks, err := h.registry.Marks(id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.MarkResponse, 0, len(marks))
	for _, m := range marks {
		resp = append(resp, markToResponse(m))
	}

	c.JSON(http.StatusOK, dto.MarkListResponse{SessionID: id, Marks: resp, Total: len(resp)})
}

func (h *SessionHandler) Rotate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	token, err := h.registry.Rotate(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenToResponse(token))
}

func (h *SessionHandler) Expire(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := h.registry.Expire(id); err != nil {
		respondError(c, err)
		return
	}

	h.scans.DropSession(id)
	h.hub.Broadcast(&dto.WSEvent{Type: "session_expired", SessionID: id})

	c.JSON(http.StatusOK, gin.H{"status": "expired", "session_id": id})
}

// UploadPhoto accepts the end-of-class photo, archives it and queues the
// reconcile task for the worker. The session moves to awaiting_photo; a
// retake simply replaces the stored key and queues again.
func (h *SessionHandler) UploadPhoto(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file required"})
		return
	}
	defer file.Close()

	photoData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read photo failed"})
		return
	}

	key := storage.PhotoKey(id)
	if err := h.minio.PutObject(c.Request.Context(), key, photoData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store photo failed"})
		return
	}

	sess, err := h.registry.AttachPhoto(id, key)
	if err != nil {
		respondError(c, err)
		return
	}

	task := models.ReconcileTask{
		SessionID:   sess.ID,
		ScheduleID:  sess.ScheduleID,
		PhotoKey:    key,
		SubmittedAt: time.Now().UTC(),
	}
	if err := h.producer.PublishPhotoTask(c.Request.Context(), task); err != nil {
		// The photo is stored and attached; the teacher can retake or
		// finalize manually while the queue is down.
		slog.Error("queue photo task failed", "session_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "photo stored but reconciliation could not be queued"})
		return
	}

	observability.PhotosSubmitted.Inc()
	h.hub.Broadcast(&dto.WSEvent{Type: "photo_received", SessionID: id})

	c.JSON(http.StatusAccepted, dto.PhotoAcceptedResponse{
		SessionID: id,
		PhotoKey:  key,
		Status:    string(sess.Status),
	})
}

// Finalize closes a session from individual scans alone, for classes where no
// group photo is taken. Photo reconciliation lands through the worker instead.
func (h *SessionHandler) Finalize(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	entries, err := h.registry.Finalize(c.Request.Context(), id, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	h.scans.DropSession(id)
	resp := attendanceToResponse(id, models.SessionFinalized, entries)
	h.hub.Broadcast(&dto.WSEvent{Type: "session_finalized", SessionID: id, Attendance: &resp})

	c.JSON(http.StatusOK, resp)
}

// Attendance returns the finalized ledger record. Unlike Get, this survives
// the registry janitor because it reads Postgres.
func (h *SessionHandler) Attendance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	entries, found, err := h.db.SessionAttendance(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no attendance recorded for session"})
		return
	}

	c.JSON(http.StatusOK, attendanceToResponse(id, models.SessionFinalized, entries))
}

func sessionToResponse(sess models.Session) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:         sess.ID,
		ScheduleID: sess.ScheduleID,
		Status:     string(sess.Status),
		MarkCount:  len(sess.Marks),
		PhotoKey:   sess.PhotoKey,
		CreatedAt:  sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		ExpiresAt:  sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if sess.Geofence != nil {
		resp.Geofence = &dto.GeofenceDTO{
			Lat:     sess.Geofence.Lat,
			Lng:     sess.Geofence.Lng,
			RadiusM: sess.Geofence.RadiusM,
		}
	}
	return resp
}

func tokenToResponse(token models.ClassToken) dto.TokenResponse {
	return dto.TokenResponse{
		SessionID: token.SessionID,
		Token:     token.Value,
		IssuedAt:  token.IssuedAt.UTC().Format("2006-01-02T15:04:05Z"),
		ExpiresAt: token.ExpiresAt().UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func markToResponse(m models.ProvisionalMark) dto.MarkResponse {
	return dto.MarkResponse{
		StudentID:  m.StudentID,
		Distance:   m.Distance,
		Confidence: m.Confidence,
		Lat:        m.Lat,
		Lng:        m.Lng,
		VerifiedAt: m.VerifiedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func attendanceToResponse(sessionID uuid.UUID, status models.SessionStatus, entries []models.AttendanceEntry) dto.AttendanceResponse {
	resp := dto.AttendanceResponse{
		SessionID: sessionID,
		Status:    string(status),
		Entries:   make([]dto.AttendanceEntryDTO, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, dto.AttendanceEntryDTO{
			StudentID:     e.StudentID,
			Status:        string(e.Status),
			ScanDistance:  e.ScanDistance,
			PhotoDistance: e.PhotoDistance,
		})
		if e.Status == models.AttendancePresent {
			resp.Present++
		} else {
			resp.Absent++
		}
	}
	return resp
}
