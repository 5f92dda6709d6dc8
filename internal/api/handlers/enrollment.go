package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/pkg/dto"
)

type EnrollmentHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	cfg   config.AttendanceConfig
	// Embedder turns an onboarding image into a descriptor. Left nil when the
	// vision pipeline failed to load; enrollment then degrades to 503 while
	// the rest of the API keeps working.
	Embedder vision.FaceEmbedder
}

func NewEnrollmentHandler(db *storage.PostgresStore, minio *storage.MinIOStore, cfg config.AttendanceConfig) *EnrollmentHandler {
	return &EnrollmentHandler{db: db, minio: minio, cfg: cfg}
}

func (h *EnrollmentHandler) CreateStudent(c *gin.Context) {
	var req dto.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.db.CreateStudent(c.Request.Context(), req.Name, req.RollNumber, req.DepartmentID, req.SectionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, studentToResponse(st))
}

func (h *EnrollmentHandler) GetStudent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	st, err := h.db.GetStudent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	c.JSON(http.StatusOK, studentToResponse(st))
}

func (h *EnrollmentHandler) ListStudents(c *gin.Context) {
	students, err := h.db.ListStudents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StudentResponse, 0, len(students))
	for _, st := range students {
		resp = append(resp, studentToResponse(&st))
	}

	c.JSON(http.StatusOK, dto.StudentListResponse{Students: resp, Total: len(resp)})
}

// AddDescriptor accepts one onboarding image, embeds the face and appends the
// descriptor to the student's enrollment record.
func (h *EnrollmentHandler) AddDescriptor(c *gin.Context) {
	studentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	st, err := h.db.GetStudent(c.Request.Context(), studentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.Embedder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	descriptor, _, err := h.Embedder.EmbedFace(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	sourceKey := storage.CaptureKey(studentID)
	if err := h.minio.PutObject(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store capture failed"})
		return
	}

	count, err := h.db.AppendDescriptor(c.Request.Context(), studentID, models.EnrolledDescriptor{
		Vector:     descriptor,
		CapturedAt: time.Now().UTC(),
		SourceKey:  sourceKey,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.DescriptorAddedResponse{
		StudentID:   studentID,
		Count:       count,
		MinRequired: h.cfg.MinEnrollment,
		TargetCount: h.cfg.TargetEnrollment,
		Enrolled:    count >= h.cfg.MinEnrollment,
	})
}

// ListDescriptors reports capture metadata only; raw vectors stay server-side.
func (h *EnrollmentHandler) ListDescriptors(c *gin.Context) {
	studentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	descriptors, err := h.db.DescriptorLog(c.Request.Context(), studentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.DescriptorResponse, 0, len(descriptors))
	for _, d := range descriptors {
		resp = append(resp, dto.DescriptorResponse{
			CapturedAt: d.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
			SourceKey:  d.SourceKey,
		})
	}

	c.JSON(http.StatusOK, dto.DescriptorListResponse{
		StudentID:   studentID,
		Descriptors: resp,
		Total:       len(resp),
		Enrolled:    len(resp) >= h.cfg.MinEnrollment,
	})
}

// AttachRoster adds students to a schedule's roster. Additions are
// idempotent; students already on the roster are skipped.
func (h *EnrollmentHandler) AttachRoster(c *gin.Context) {
	scheduleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	var req dto.RosterAttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.AddRosterMembers(c.Request.Context(), scheduleID, req.StudentIDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.RosterAttachResponse{ScheduleID: scheduleID, Attached: len(req.StudentIDs)})
}

func studentToResponse(st *models.RosterStudent) dto.StudentResponse {
	return dto.StudentResponse{
		ID:           st.StudentID,
		Name:         st.Name,
		RollNumber:   st.RollNumber,
		DepartmentID: st.DepartmentID,
		SectionID:    st.SectionID,
		CreatedAt:    st.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
