package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/rollcall/internal/api"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/scan"
	"github.com/your-org/rollcall/internal/session"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/verify"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting rollcall API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Session registry; Postgres backs both the roster directory and the
	// attendance ledger.
	registry := session.NewRegistry(session.Config{
		TokenTTLSeconds: cfg.Attendance.TokenTTLSeconds,
		Grace:           time.Duration(cfg.Attendance.SessionGraceSeconds) * time.Second,
	}, db, db)

	engine := verify.NewEngine(db, registry, verify.Config{
		MatchThreshold: cfg.Attendance.MatchThreshold,
		MinEnrollment:  cfg.Attendance.MinEnrollment,
	})

	scans := scan.NewManager(registry, engine, scan.Config{
		CaptureWindow: time.Duration(cfg.Attendance.CaptureWindowSeconds) * time.Second,
		OnTimeout: func(snap scan.Snapshot) {
			hub.Broadcast(&dto.WSEvent{
				Type:      "scan_timeout",
				SessionID: snap.SessionID,
				StudentID: &snap.StudentID,
			})
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Janitor for expired sessions
	go registry.Run(ctx, time.Duration(cfg.Attendance.SweepIntervalSeconds)*time.Second)

	// Reconciliation results come back from the worker over NATS; each one
	// finalizes its session and notifies dashboards.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create result consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeResults(ctx, "api-results", func(ctx context.Context, msg jetstream.Msg) error {
		var result models.ReconcileResult
		if err := json.Unmarshal(msg.Data(), &result); err != nil {
			slog.Error("unmarshal reconcile result", "error", err)
			return nil // malformed, retrying cannot help
		}

		entries, err := registry.Finalize(ctx, result.SessionID, result.Matches)
		if err != nil {
			if errors.Is(err, models.ErrInvalidState) || errors.Is(err, models.ErrNotFound) {
				// Session already finalized or gone; the result is stale.
				slog.Warn("discarding stale reconcile result", "session_id", result.SessionID, "error", err)
				return nil
			}
			hub.Broadcast(&dto.WSEvent{
				Type:      "reconcile_failed",
				SessionID: result.SessionID,
				Error:     err.Error(),
			})
			return err
		}

		scans.DropSession(result.SessionID)

		present := 0
		for _, e := range entries {
			if e.Status == models.AttendancePresent {
				present++
			}
		}
		slog.Info("session finalized from photo",
			"session_id", result.SessionID,
			"faces", result.FacesDetected,
			"present", present,
			"absent", len(entries)-present)

		resp := attendanceEvent(result.SessionID, entries)
		hub.Broadcast(&dto.WSEvent{Type: "session_finalized", SessionID: result.SessionID, Attendance: &resp})

		if err := minioStore.DeleteSessionPhotos(ctx, result.SessionID); err != nil {
			slog.Warn("cleanup session photos", "session_id", result.SessionID, "error", err)
		}
		return nil
	})
	if err != nil {
		slog.Warn("start result consumer", "error", err)
	}

	// ONNX runtime backs the enrollment endpoint only; the API stays up
	// without it and scan verification is unaffected.
	var embedder vision.FaceEmbedder

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed, enrollment uploads unavailable", "error", err)
	} else {
		pipeline, err := vision.NewFacePipeline(cfg.Vision)
		if err != nil {
			slog.Warn("vision pipeline init failed, enrollment uploads unavailable", "error", err)
		} else {
			embedder = pipeline
			defer pipeline.Close()
			defer ort.DestroyEnvironment()
			slog.Info("vision pipeline ready for enrollment")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Attendance: cfg.Attendance,
		DB:         db,
		MinIO:      minioStore,
		Producer:   producer,
		Registry:   registry,
		Scans:      scans,
		Hub:        hub,
		Embedder:   embedder,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

func attendanceEvent(sessionID uuid.UUID, entries []models.AttendanceEntry) dto.AttendanceResponse {
	resp := dto.AttendanceResponse{
		SessionID: sessionID,
		Status:    string(models.SessionFinalized),
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

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
