package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/enroll"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/roster"
	"github.com/your-org/rollcall/internal/scan"
	"github.com/your-org/rollcall/internal/session"
	"github.com/your-org/rollcall/internal/verify"
	"github.com/your-org/rollcall/pkg/dto"
)

// apiFixture wires the router against in-memory stores. Postgres, MinIO and
// NATS stay nil; routes that need them are covered by their own packages.
type apiFixture struct {
	router    http.Handler
	registry  *session.Registry
	store     *enroll.MemStore
	directory *roster.MemDirectory
}

func newAPIFixture(t *testing.T, apiKey string) *apiFixture {
	t.Helper()
	store := enroll.NewMemStore()
	directory := roster.NewMemDirectory()
	registry := session.NewRegistry(session.Config{
		TokenTTLSeconds: 90,
		Grace:           time.Minute,
	}, directory, roster.NewMemLedger())
	engine := verify.NewEngine(store, registry, verify.Config{
		MatchThreshold: 1.0,
		MinEnrollment:  3,
	})
	manager := scan.NewManager(registry, engine, scan.Config{CaptureWindow: time.Minute})
	hub := ws.NewHub()
	go hub.Run()

	router := NewRouter(RouterConfig{
		APIKey:     apiKey,
		Attendance: config.AttendanceConfig{MatchThreshold: 1.0, MinEnrollment: 3, TargetEnrollment: 5},
		Registry:   registry,
		Scans:      manager,
		Hub:        hub,
	})
	return &apiFixture{router: router, registry: registry, store: store, directory: directory}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func (f *apiFixture) enrollStudent(t *testing.T) uuid.UUID {
	t.Helper()
	studentID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := f.store.AppendDescriptor(context.Background(), studentID, models.EnrolledDescriptor{
			Vector: models.FaceDescriptor{1, 0, 0, 0},
		})
		require.NoError(t, err)
	}
	return studentID
}

func (f *apiFixture) openSession(t *testing.T) dto.OpenSessionResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/sessions", dto.OpenSessionRequest{ScheduleID: uuid.New(), TTLSeconds: 600})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	return decodeBody[dto.OpenSessionResponse](t, w)
}

func TestHealthzEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAPIKeyGuard(t *testing.T) {
	f := newAPIFixture(t, "classified")
	path := "/v1/sessions/" + uuid.NewString()

	w := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", "classified")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "authenticated request reaches the handler")
}

func TestOpenSessionEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	scheduleID := uuid.New()
	body := dto.OpenSessionRequest{
		ScheduleID: scheduleID,
		TTLSeconds: 600,
		Geofence:   &dto.GeofenceDTO{Lat: 12.97, Lng: 77.59, RadiusM: 150},
	}

	w := f.do(t, http.MethodPost, "/v1/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	resp := decodeBody[dto.OpenSessionResponse](t, w)
	assert.Equal(t, scheduleID, resp.Session.ScheduleID)
	assert.Equal(t, "open", resp.Session.Status)
	require.NotNil(t, resp.Session.Geofence)
	assert.Equal(t, 150.0, resp.Session.Geofence.RadiusM)
	assert.Len(t, resp.Token.Token, 32)
	assert.Equal(t, resp.Session.ID, resp.Token.SessionID)

	w = f.do(t, http.MethodPost, "/v1/sessions", dto.OpenSessionRequest{ScheduleID: scheduleID})
	assert.Equal(t, http.StatusConflict, w.Code, "one live session per schedule")
}

func TestOpenSessionValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.do(t, http.MethodPost, "/v1/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"schedule_id": uuid.NewString(),
		"ttl_seconds": 30,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "ttl below one minute is rejected")
}

func TestGetSessionEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)

	w := f.do(t, http.MethodGet, "/v1/sessions/"+opened.Session.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[dto.SessionResponse](t, w)
	assert.Equal(t, opened.Session.ID, resp.ID)

	w = f.do(t, http.MethodGet, "/v1/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRotateTokenEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)
	studentID := f.enrollStudent(t)

	w := f.do(t, http.MethodPost, "/v1/sessions/"+opened.Session.ID.String()+"/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decodeBody[dto.TokenResponse](t, w)
	assert.NotEqual(t, opened.Token.Token, rotated.Token)

	w = f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: opened.Token.Token, StudentID: studentID})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "rotation retires the displayed token")

	w = f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: rotated.Token, StudentID: studentID})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScanVerifyRoundTrip(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)
	studentID := f.enrollStudent(t)
	sessionID := opened.Session.ID

	w := f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: opened.Token.Token, StudentID: studentID})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	flow := decodeBody[dto.FlowStateResponse](t, w)
	assert.Equal(t, "capturing_face", flow.State)
	assert.NotEmpty(t, flow.Deadline)

	w = f.do(t, http.MethodPost, "/v1/scan/verify", dto.VerifyRequest{
		SessionID:  sessionID,
		StudentID:  studentID,
		Descriptor: []float32{1, 0, 0, 0},
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	verified := decodeBody[dto.VerifyResponse](t, w)
	assert.Equal(t, "verified", verified.Flow.State)
	require.NotNil(t, verified.Mark)
	assert.Equal(t, studentID, verified.Mark.StudentID)

	w = f.do(t, http.MethodGet, "/v1/scan/state?session_id="+sessionID.String()+"&student_id="+studentID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeBody[dto.FlowStateResponse](t, w)
	assert.Equal(t, "verified", state.State)

	w = f.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/marks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	marks := decodeBody[dto.MarkListResponse](t, w)
	assert.Equal(t, 1, marks.Total)
}

func TestScanVerifyMismatch(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)
	studentID := f.enrollStudent(t)

	w := f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: opened.Token.Token, StudentID: studentID})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/scan/verify", dto.VerifyRequest{
		SessionID:  opened.Session.ID,
		StudentID:  studentID,
		Descriptor: []float32{9, 9, 9, 9},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Error string                `json:"error"`
		Flow  dto.FlowStateResponse `json:"flow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, "rejected", resp.Flow.State, "the window stays open for a retry")
}

func TestScanVerifyWithoutWindow(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)
	studentID := f.enrollStudent(t)

	w := f.do(t, http.MethodPost, "/v1/scan/verify", dto.VerifyRequest{
		SessionID:  opened.Session.ID,
		StudentID:  studentID,
		Descriptor: []float32{1, 0, 0, 0},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestScanTokenInvalid(t *testing.T) {
	f := newAPIFixture(t, "")
	studentID := f.enrollStudent(t)

	w := f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: "STALEVALUE", StudentID: studentID})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScanCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)
	studentID := f.enrollStudent(t)
	sessionID := opened.Session.ID

	w := f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: opened.Token.Token, StudentID: studentID})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/scan/cancel", dto.ScanCancelRequest{SessionID: sessionID, StudentID: studentID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cancelled":true}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/v1/scan/state?session_id="+sessionID.String()+"&student_id="+studentID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpireSessionEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	opened := f.openSession(t)
	studentID := f.enrollStudent(t)
	sessionID := opened.Session.ID

	w := f.do(t, http.MethodPost, "/v1/sessions/"+sessionID.String()+"/expire", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/sessions/"+sessionID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: opened.Token.Token, StudentID: studentID})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "expiry retires the token")
}

func TestFinalizeEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	scheduleID := uuid.New()
	present := f.enrollStudent(t)
	absent := uuid.New()
	f.directory.SetRoster(scheduleID, []models.RosterStudent{
		{StudentID: present}, {StudentID: absent},
	})

	w := f.do(t, http.MethodPost, "/v1/sessions", dto.OpenSessionRequest{ScheduleID: scheduleID, TTLSeconds: 600})
	require.Equal(t, http.StatusCreated, w.Code)
	opened := decodeBody[dto.OpenSessionResponse](t, w)
	sessionID := opened.Session.ID

	w = f.do(t, http.MethodPost, "/v1/scan/token", dto.ScanTokenRequest{Token: opened.Token.Token, StudentID: present})
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/v1/scan/verify", dto.VerifyRequest{
		SessionID:  sessionID,
		StudentID:  present,
		Descriptor: []float32{1, 0, 0, 0},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/sessions/"+sessionID.String()+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	resp := decodeBody[dto.AttendanceResponse](t, w)
	assert.Equal(t, "finalized", resp.Status)
	assert.Equal(t, 1, resp.Present)
	assert.Equal(t, 1, resp.Absent)
	require.Len(t, resp.Entries, 2)

	w = f.do(t, http.MethodPost, "/v1/sessions/"+sessionID.String()+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "finalize is one-shot")
}
