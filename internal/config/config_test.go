package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, SourceWebcam, cfg.CameraSource)
	assert.Equal(t, 640, cfg.CameraWidth)
	assert.Equal(t, 480, cfg.CameraHeight)
	assert.Equal(t, 30, cfg.CameraFPS)
	assert.Equal(t, 3, cfg.ConfirmThreshold)
	assert.Equal(t, 2*time.Second, cfg.MinConfirmGap)
	assert.InDelta(t, 0.5, cfg.ConfidenceFloor, 1e-9)
	assert.Equal(t, 20, cfg.ReportRecentLimit)
	assert.Empty(t, cfg.CameraNames)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "9090")
	t.Setenv("CONFIRM_THRESHOLD", "5")
	t.Setenv("MIN_CONFIRM_GAP_MS", "1500")
	t.Setenv("CONFIDENCE_FLOOR", "0.35")
	t.Setenv("CAMERA_NAMES", "192.168.1.20=chair-1, 192.168.1.21=chair-2,broken")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.ConfirmThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.MinConfirmGap)
	assert.InDelta(t, 0.35, cfg.ConfidenceFloor, 1e-9)
	assert.Equal(t, map[string]string{
		"192.168.1.20": "chair-1",
		"192.168.1.21": "chair-2",
	}, cfg.CameraNames)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "not-a-port")
	t.Setenv("TICK_INTERVAL_MS", "soon")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PROCESSING_WORKERS=7\nCAMERA_SOURCE=udp\n"), 0644))
	t.Setenv("ENV_FILE", envFile)
	// Registered so t.Setenv restores them after godotenv sets them.
	t.Setenv("PROCESSING_WORKERS", "")
	t.Setenv("CAMERA_SOURCE", "")
	os.Unsetenv("PROCESSING_WORKERS")
	os.Unsetenv("CAMERA_SOURCE")

	cfg := Load()

	assert.Equal(t, 7, cfg.ProcessingWorkers)
	assert.Equal(t, SourceUDP, cfg.CameraSource)
}
