package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/models"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 20, cfg.Session.CheckInFrames)
	assert.Equal(t, 3, cfg.Session.AuthFrames)
	assert.Equal(t, 50*time.Millisecond, cfg.Session.FrameInterval)
	assert.Equal(t, 0.4, cfg.Matching.Threshold)
	assert.Equal(t, "cosine", cfg.Matching.Distance)
	assert.Equal(t, "v4l2", cfg.Camera.Format)
}

func TestParseDurationsAndDayParts(t *testing.T) {
	cfg, err := Parse([]byte(`
session:
  frame_interval: 100ms
  auth_timeout: 45s
day_parts:
  morning: "06:00"
  afternoon: "11:30"
  evening: "17:00"
  timezone: UTC
`))
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.FrameInterval)
	assert.Equal(t, 45*time.Second, cfg.Session.AuthTimeout)

	s, err := cfg.DayParts.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 11*time.Hour+30*time.Minute, s.Starts[models.Afternoon])
	assert.Equal(t, time.UTC, s.Location)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"day parts out of order", "day_parts:\n  morning: \"12:00\"\n  afternoon: \"08:00\"\n"},
		{"bad clock", "day_parts:\n  evening: \"25:00\"\n"},
		{"bad timezone", "day_parts:\n  timezone: Mars/Olympus\n"},
		{"negative threshold", "matching:\n  threshold: -1\n"},
		{"unknown distance", "matching:\n  distance: manhattan\n"},
		{"unknown profile", "vision:\n  profile: turbo\n"},
		{"unknown driver", "database:\n  driver: sqlite\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ATTEND_SERVER_PORT", "7070")
	t.Setenv("ATTEND_DB_DRIVER", "postgres")
	t.Setenv("ATTEND_MATCH_THRESHOLD", "0.25")
	t.Setenv("ATTEND_CAMERA_DEVICE", "rtsp://cam/stream")

	cfg, err := Parse([]byte("server:\n  port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 0.25, cfg.Matching.Threshold)
	assert.Equal(t, "rtsp://cam/stream", cfg.Camera.Device)
	assert.Empty(t, cfg.Camera.Format)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "attend", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/attend?sslmode=disable", d.DSN())
}
