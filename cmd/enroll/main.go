// Command enroll onboards whole cohorts from image folders: one subdirectory
// per student (named by student id), a handful of face captures inside each.
// Images can also come from a MinIO prefix with the same layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
)

type enrollStats struct {
	students    int
	descriptors int
	skipped     int
	failed      int
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	dir := flag.String("dir", "", "local directory of per-student image folders")
	fromPrefix := flag.String("from-prefix", "", "MinIO prefix of per-student image folders")
	flag.Parse()

	if (*dir == "") == (*fromPrefix == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -dir or -from-prefix is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting batch enrollment",
		"dir", *dir,
		"from_prefix", *fromPrefix,
		"min_enrollment", cfg.Attendance.MinEnrollment,
	)

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	pipeline, err := vision.NewFacePipeline(cfg.Vision)
	if err != nil {
		slog.Error("init face pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	ctx := context.Background()
	var stats enrollStats

	if *dir != "" {
		err = enrollFromDir(ctx, db, minioStore, pipeline, cfg, *dir, &stats)
	} else {
		err = enrollFromMinIO(ctx, db, minioStore, pipeline, cfg, *fromPrefix, &stats)
	}
	if err != nil {
		slog.Error("enrollment aborted", "error", err)
		os.Exit(1)
	}

	slog.Info("batch enrollment finished",
		"students", stats.students,
		"descriptors", stats.descriptors,
		"skipped", stats.skipped,
		"failed", stats.failed,
	)
	if stats.failed > 0 {
		os.Exit(1)
	}
}

func enrollFromDir(ctx context.Context, db *storage.PostgresStore, minioStore *storage.MinIOStore, pipeline *vision.FacePipeline, cfg *config.Config, dir string, stats *enrollStats) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		studentID, err := uuid.Parse(entry.Name())
		if err != nil {
			slog.Warn("skipping folder, name is not a student id", "folder", entry.Name())
			stats.skipped++
			continue
		}

		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		var images []namedImage
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name(), f.Name()))
			if err != nil {
				return fmt.Errorf("read %s: %w", f.Name(), err)
			}
			images = append(images, namedImage{name: f.Name(), data: data})
		}

		enrollStudent(ctx, db, minioStore, pipeline, cfg, studentID, images, stats)
	}
	return nil
}

func enrollFromMinIO(ctx context.Context, db *storage.PostgresStore, minioStore *storage.MinIOStore, pipeline *vision.FacePipeline, cfg *config.Config, prefix string, stats *enrollStats) error {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := minioStore.ListObjects(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}

	byStudent := make(map[uuid.UUID][]string)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		folder, _, ok := strings.Cut(rest, "/")
		if !ok || !isImageFile(rest) {
			stats.skipped++
			continue
		}
		studentID, err := uuid.Parse(folder)
		if err != nil {
			slog.Warn("skipping object, folder is not a student id", "key", key)
			stats.skipped++
			continue
		}
		byStudent[studentID] = append(byStudent[studentID], key)
	}

	for studentID, objectKeys := range byStudent {
		var images []namedImage
		for _, key := range objectKeys {
			data, err := minioStore.GetObject(ctx, key)
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			images = append(images, namedImage{name: key, data: data})
		}
		enrollStudent(ctx, db, minioStore, pipeline, cfg, studentID, images, stats)
	}
	return nil
}

type namedImage struct {
	name string
	data []byte
}

func enrollStudent(ctx context.Context, db *storage.PostgresStore, minioStore *storage.MinIOStore, pipeline *vision.FacePipeline, cfg *config.Config, studentID uuid.UUID, images []namedImage, stats *enrollStats) {
	student, err := db.GetStudent(ctx, studentID)
	if err != nil {
		slog.Error("lookup student", "student_id", studentID, "error", err)
		stats.failed++
		return
	}
	if student == nil {
		slog.Warn("student not in directory, skipping", "student_id", studentID)
		stats.skipped++
		return
	}

	count := 0
	for _, img := range images {
		descriptor, _, err := pipeline.EmbedFace(img.data)
		if err != nil {
			slog.Warn("no usable face in image", "student_id", studentID, "image", img.name, "error", err)
			stats.failed++
			continue
		}

		sourceKey := storage.CaptureKey(studentID)
		if err := minioStore.PutObject(ctx, sourceKey, img.data, "image/jpeg"); err != nil {
			slog.Error("archive capture", "student_id", studentID, "error", err)
			stats.failed++
			continue
		}

		count, err = db.AppendDescriptor(ctx, studentID, models.EnrolledDescriptor{
			Vector:     descriptor,
			CapturedAt: time.Now().UTC(),
			SourceKey:  sourceKey,
		})
		if err != nil {
			slog.Error("append descriptor", "student_id", studentID, "error", err)
			stats.failed++
			continue
		}
		stats.descriptors++
	}

	stats.students++
	slog.Info("student enrolled",
		"student_id", studentID,
		"name", student.Name,
		"descriptors", count,
		"enrolled", count >= cfg.Attendance.MinEnrollment,
	)
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
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
