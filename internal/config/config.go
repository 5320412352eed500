package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Camera sources understood by the frame pipeline.
const (
	SourceWebcam = "webcam"
	SourceUDP    = "udp"
	SourceImages = "images"
)

type Config struct {
	Port     int
	Password string

	ModelPath       string
	NamesPath       string  // YAML file with the class names of the model
	ConfidenceFloor float64 // detections below this are discarded by the detector
	NMSThreshold    float64

	CameraSource    string
	CameraDevice    int
	CameraWidth     int
	CameraHeight    int
	CameraFPS       int
	CamerasPort     int
	CameraNames     map[string]string // remote IP -> display name for UDP cameras
	ImageSourceGlob string

	ConfirmThreshold  int
	MinConfirmGap     time.Duration
	TickInterval      time.Duration
	ProcessingWorkers int
	QueueSize         int

	ImageDirectory           string
	ImageBufferLimit         int // snapshots kept per session between flushes
	ImageBufferFlushInterval int // seconds

	DatabasePath string

	LogDirectory  string
	LogMaxSizeMB  int
	LogMaxBackups int

	ReportRecentLimit int
}

// Load reads the configuration from the environment. Values from an env file
// (ENV_FILE, default ".env") are loaded first without overriding variables
// that are already set.
func Load() *Config {
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	return &Config{
		Port:     getEnvAsInt("PORT", 8080),
		Password: getEnv("PASSWORD", "medseen"),

		ModelPath:       getEnv("MODEL_PATH", filepath.Join(".", "models", "dental_instruments.onnx")),
		NamesPath:       getEnv("NAMES_PATH", filepath.Join(".", "models", "data.yaml")),
		ConfidenceFloor: getEnvAsFloat("CONFIDENCE_FLOOR", 0.5),
		NMSThreshold:    getEnvAsFloat("NMS_THRESHOLD", 0.45),

		CameraSource:    getEnv("CAMERA_SOURCE", SourceWebcam),
		CameraDevice:    getEnvAsInt("CAMERA_DEVICE", 0),
		CameraWidth:     getEnvAsInt("CAMERA_WIDTH", 640),
		CameraHeight:    getEnvAsInt("CAMERA_HEIGHT", 480),
		CameraFPS:       getEnvAsInt("CAMERA_FPS", 30),
		CamerasPort:     getEnvAsInt("CAMERAS_PORT", 9000),
		CameraNames:     getEnvAsMap("CAMERA_NAMES"),
		ImageSourceGlob: getEnv("IMAGE_SOURCE_GLOB", filepath.Join(".", "samples", "*.jpg")),

		ConfirmThreshold:  getEnvAsInt("CONFIRM_THRESHOLD", 3),
		MinConfirmGap:     getEnvAsMillis("MIN_CONFIRM_GAP_MS", 2*time.Second),
		TickInterval:      getEnvAsMillis("TICK_INTERVAL_MS", 500*time.Millisecond),
		ProcessingWorkers: getEnvAsInt("PROCESSING_WORKERS", 2),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 8),

		ImageDirectory:           getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		ImageBufferLimit:         getEnvAsInt("BUFFER_LIMIT", 50),
		ImageBufferFlushInterval: getEnvAsInt("FLUSH_INTERVAL", 30),

		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(".", "data", "medseen.db")),

		LogDirectory:  getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogMaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),

		ReportRecentLimit: getEnvAsInt("REPORT_RECENT_LIMIT", 20),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// getEnvAsMap parses "k1=v1,k2=v2". Malformed pairs are skipped.
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
