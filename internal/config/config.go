package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	WorkerCount        int     `yaml:"worker_count"`
}

// AttendanceConfig tunes the verification policy. Durations are plain seconds
// so they read the same in YAML and env overrides.
type AttendanceConfig struct {
	MatchThreshold       float64 `yaml:"match_threshold"`        // max L2 distance that still counts as the same face
	MinEnrollment        int     `yaml:"min_enrollment"`         // captures required before a student can verify
	TargetEnrollment     int     `yaml:"target_enrollment"`      // captures onboarding aims for
	TokenTTLSeconds      int     `yaml:"token_ttl_seconds"`      // lifetime of a displayed class token
	CaptureWindowSeconds int     `yaml:"capture_window_seconds"` // face capture countdown after a token scan
	SessionGraceSeconds  int     `yaml:"session_grace_seconds"`  // how long expired sessions stay queryable
	SweepIntervalSeconds int     `yaml:"sweep_interval_seconds"` // registry janitor period
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Attendance.MatchThreshold == 0 {
		cfg.Attendance.MatchThreshold = 1.05
	}
	if cfg.Attendance.MinEnrollment == 0 {
		cfg.Attendance.MinEnrollment = 3
	}
	if cfg.Attendance.TargetEnrollment == 0 {
		cfg.Attendance.TargetEnrollment = 5
	}
	if cfg.Attendance.TokenTTLSeconds == 0 {
		cfg.Attendance.TokenTTLSeconds = 90
	}
	if cfg.Attendance.CaptureWindowSeconds == 0 {
		cfg.Attendance.CaptureWindowSeconds = 75
	}
	if cfg.Attendance.SessionGraceSeconds == 0 {
		cfg.Attendance.SessionGraceSeconds = 900
	}
	if cfg.Attendance.SweepIntervalSeconds == 0 {
		cfg.Attendance.SweepIntervalSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROLLCALL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ROLLCALL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ROLLCALL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ROLLCALL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ROLLCALL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ROLLCALL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ROLLCALL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ROLLCALL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ROLLCALL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ROLLCALL_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ROLLCALL_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("ROLLCALL_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Attendance.MatchThreshold = f
		}
	}
}
