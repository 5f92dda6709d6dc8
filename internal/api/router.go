package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/rollcall/internal/api/handlers"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/scan"
	"github.com/your-org/rollcall/internal/session"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
)

type RouterConfig struct {
	APIKey     string
	Attendance config.AttendanceConfig
	DB         *storage.PostgresStore
	MinIO      *storage.MinIOStore
	Producer   *queue.Producer
	Registry   *session.Registry
	Scans      *scan.Manager
	Hub        *ws.Hub
	// Embedder is nil when the vision pipeline is unavailable; enrollment
	// uploads return 503 until it comes back.
	Embedder vision.FaceEmbedder
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket feed for the session dashboard
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Sessions
	sessionH := handlers.NewSessionHandler(cfg.Registry, cfg.Scans, cfg.DB, cfg.MinIO, cfg.Producer, cfg.Hub)
	v1.POST("/sessions", sessionH.Open)
	v1.GET("/sessions/:id", sessionH.Get)
	v1.GET("/sessions/:id/marks", sessionH.Marks)
	v1.POST("/sessions/:id/rotate", sessionH.Rotate)
	v1.POST("/sessions/:id/expire", sessionH.Expire)
	v1.POST("/sessions/:id/photo", sessionH.UploadPhoto)
	v1.POST("/sessions/:id/finalize", sessionH.Finalize)
	v1.GET("/sessions/:id/attendance", sessionH.Attendance)

	// Student scan flow
	scanH := handlers.NewScanHandler(cfg.Scans, cfg.Hub)
	v1.POST("/scan/token", scanH.Token)
	v1.POST("/scan/verify", scanH.Verify)
	v1.POST("/scan/cancel", scanH.Cancel)
	v1.GET("/scan/state", scanH.State)

	// Students & enrollment
	enrollH := handlers.NewEnrollmentHandler(cfg.DB, cfg.MinIO, cfg.Attendance)
	enrollH.Embedder = cfg.Embedder
	v1.POST("/students", enrollH.CreateStudent)
	v1.GET("/students", enrollH.ListStudents)
	v1.GET("/students/:id", enrollH.GetStudent)
	v1.POST("/students/:id/descriptors", enrollH.AddDescriptor)
	v1.GET("/students/:id/descriptors", enrollH.ListDescriptors)
	v1.POST("/schedules/:id/roster", enrollH.AttachRoster)

	return r
}
