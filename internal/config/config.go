package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Camera   CameraConfig   `yaml:"camera"`
	Vision   VisionConfig   `yaml:"vision"`
	Matching MatchingConfig `yaml:"matching"`
	Session  SessionConfig  `yaml:"session"`
	DayParts DayPartsConfig `yaml:"day_parts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // memory, postgres
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

type CameraConfig struct {
	Device string `yaml:"device"` // /dev/video0 or an rtsp/http URL
	Format string `yaml:"format"` // ffmpeg input format, e.g. v4l2; empty for URLs
	FPS    int    `yaml:"fps"`
	Width  int    `yaml:"width"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	Profile            string  `yaml:"profile"` // fast, accurate
	DetectionThreshold float64 `yaml:"detection_threshold"`
	EncodingDim        int     `yaml:"encoding_dim"`
	// ONNXLibrary is the onnxruntime shared library; empty picks the platform default.
	ONNXLibrary string `yaml:"onnx_library"`
}

type MatchingConfig struct {
	Threshold float64 `yaml:"threshold"`
	Distance  string  `yaml:"distance"` // euclidean, cosine
}

type SessionConfig struct {
	CheckInFrames  int           `yaml:"checkin_frames"`
	AuthFrames     int           `yaml:"auth_frames"`
	FrameInterval  time.Duration `yaml:"frame_interval"`
	NoticeDuration time.Duration `yaml:"notice_duration"`
	AuthTimeout    time.Duration `yaml:"auth_timeout"`
	AuthHold       time.Duration `yaml:"auth_hold"`
	KeepScanning   bool          `yaml:"keep_scanning"`
	ResolutionTTL  time.Duration `yaml:"resolution_ttl"`
}

// DayPartsConfig holds the start of each day part as HH:MM.
// Evening runs until the next morning boundary.
type DayPartsConfig struct {
	Morning   string `yaml:"morning" json:"morning"`
	Afternoon string `yaml:"afternoon" json:"afternoon"`
	Evening   string `yaml:"evening" json:"evening"`
	Timezone  string `yaml:"timezone" json:"timezone,omitempty"`
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
	return Parse(data)
}

// Parse decodes YAML config, applies overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with only defaults applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func (c *Config) Validate() error {
	if _, err := c.DayParts.Schedule(); err != nil {
		return fmt.Errorf("day_parts: %w", err)
	}
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("matching.threshold must be positive")
	}
	switch c.Matching.Distance {
	case "euclidean", "cosine":
	default:
		return fmt.Errorf("matching.distance: unknown %q", c.Matching.Distance)
	}
	switch c.Vision.Profile {
	case "fast", "accurate":
	default:
		return fmt.Errorf("vision.profile: unknown %q", c.Vision.Profile)
	}
	switch c.Database.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown %q", c.Database.Driver)
	}
	if c.Session.CheckInFrames < 1 || c.Session.AuthFrames < 1 {
		return fmt.Errorf("session frame counts must be at least 1")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attend"
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
		if cfg.Camera.Format == "" {
			cfg.Camera.Format = "v4l2"
		}
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 20
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Vision.Profile == "" {
		cfg.Vision.Profile = "accurate"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EncodingDim == 0 {
		cfg.Vision.EncodingDim = 512
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.4
	}
	if cfg.Matching.Distance == "" {
		cfg.Matching.Distance = "cosine"
	}
	if cfg.Session.CheckInFrames == 0 {
		cfg.Session.CheckInFrames = 20
	}
	if cfg.Session.AuthFrames == 0 {
		cfg.Session.AuthFrames = 3
	}
	if cfg.Session.FrameInterval == 0 {
		cfg.Session.FrameInterval = 50 * time.Millisecond
	}
	if cfg.Session.NoticeDuration == 0 {
		cfg.Session.NoticeDuration = 2 * time.Second
	}
	if cfg.Session.AuthTimeout == 0 {
		cfg.Session.AuthTimeout = 30 * time.Second
	}
	if cfg.Session.AuthHold == 0 {
		cfg.Session.AuthHold = time.Second
	}
	if cfg.Session.ResolutionTTL == 0 {
		cfg.Session.ResolutionTTL = 5 * time.Minute
	}
	if cfg.DayParts.Morning == "" {
		cfg.DayParts.Morning = "00:00"
	}
	if cfg.DayParts.Afternoon == "" {
		cfg.DayParts.Afternoon = "12:00"
	}
	if cfg.DayParts.Evening == "" {
		cfg.DayParts.Evening = "18:00"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATTEND_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATTEND_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ATTEND_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ATTEND_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATTEND_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATTEND_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATTEND_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATTEND_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATTEND_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATTEND_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATTEND_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATTEND_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATTEND_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATTEND_CAMERA_DEVICE"); v != "" {
		cfg.Camera.Device = v
	}
	if v := os.Getenv("ATTEND_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ATTEND_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("ATTEND_VISION_PROFILE"); v != "" {
		cfg.Vision.Profile = v
	}
	if v := os.Getenv("ATTEND_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
}
