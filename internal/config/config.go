package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/anomaly"
	"github.com/mikeyg42/videoscope/internal/secret"
)

// Config holds all application configuration
type Config struct {
	Video    VideoConfig         `yaml:"video" json:"video"`
	Motion   MotionConfig        `yaml:"motion" json:"motion"`
	Activity activity.Thresholds `yaml:"activity" json:"activity"`
	Anomaly  anomaly.Config      `yaml:"anomaly" json:"anomaly"`
	Sampling SamplingConfig      `yaml:"sampling" json:"sampling"`
	Faces    FacesConfig         `yaml:"faces" json:"faces"`
	Emotion  EmotionConfig       `yaml:"emotion" json:"emotion"`
	Report   ReportConfig        `yaml:"report" json:"report"`
	Storage  StorageConfig       `yaml:"storage" json:"storage"`
	Notify   NotifyConfig        `yaml:"notify" json:"notify"`
	Pipeline PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	Log      LogConfig           `yaml:"log" json:"log"`
}

// VideoConfig contains input and output video settings
type VideoConfig struct {
	Input  string `yaml:"input" json:"input"`
	Output string `yaml:"output" json:"output"`

	// Used when the container does not report a frame rate, and for image directories
	FallbackFPS float64 `yaml:"fallback_fps" json:"fallback_fps"`
	Codec       string  `yaml:"codec" json:"codec"` // fourcc
}

// MotionConfig contains the frame differencing parameters
type MotionConfig struct {
	ResizeWidth   int     `yaml:"resize_width" json:"resize_width"`
	BlurSize      int     `yaml:"blur_size" json:"blur_size"` // odd
	DiffThreshold float64 `yaml:"diff_threshold" json:"diff_threshold"`
	MorphKernel   int     `yaml:"morph_kernel" json:"morph_kernel"`
}

// SamplingConfig controls how often the expensive analyses run
type SamplingConfig struct {
	ActivityStride  int     `yaml:"activity_stride" json:"activity_stride"`
	EmotionStride   int     `yaml:"emotion_stride" json:"emotion_stride"`
	CooldownSeconds float64 `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	OverlaySeconds  float64 `yaml:"overlay_seconds" json:"overlay_seconds"`
}

// FacesConfig contains face detector settings
type FacesConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	ModelPath      string  `yaml:"model_path" json:"model_path"` // YuNet onnx
	ScoreThreshold float64 `yaml:"score_threshold" json:"score_threshold"`
	NMSThreshold   float64 `yaml:"nms_threshold" json:"nms_threshold"`
	TopK           int     `yaml:"top_k" json:"top_k"`
	DrawBoxes      bool    `yaml:"draw_boxes" json:"draw_boxes"`
}

// EmotionConfig selects and configures the emotion classifier
type EmotionConfig struct {
	Provider string `yaml:"provider" json:"provider"` // none, openai, gemini, onnx
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"` // empty selects the provider default
	APIKey   string `yaml:"api_key" json:"-"`

	ONNXModelPath string `yaml:"onnx_model_path" json:"onnx_model_path"` // FER+

	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"` // 0 = unlimited
	JPEGQuality       int           `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// ReportConfig controls where the report is written
type ReportConfig struct {
	Path        string   `yaml:"path" json:"path"`
	Sinks       []string `yaml:"sinks" json:"sinks"` // file, minio, postgres
	UploadVideo bool     `yaml:"upload_video" json:"upload_video"`
}

// StorageConfig contains remote report storage configuration
type StorageConfig struct {
	MinIO    MinIOConfig    `yaml:"minio" json:"minio"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// MinIOConfig contains MinIO-specific configuration
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Region          string `yaml:"region" json:"region"`
	Prefix          string `yaml:"prefix" json:"prefix"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`

	// Connection pool
	MaxConnections  int           `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate"`
}

// NotifyConfig contains the live anomaly feed settings
type NotifyConfig struct {
	WebSocketURL string        `yaml:"websocket_url" json:"websocket_url"` // empty disables
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
}

// PipelineConfig contains orchestration knobs not tied to a single analyser
type PipelineConfig struct {
	ProgressEvery int `yaml:"progress_every" json:"progress_every"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level            string   `yaml:"level" json:"level"`
	Format           string   `yaml:"format" json:"format"` // json, console
	OutputPaths      []string `yaml:"output_paths" json:"output_paths"`
	ErrorOutputPaths []string `yaml:"error_output_paths" json:"error_output_paths"`

	// Sampling
	EnableSampling  bool `yaml:"enable_sampling" json:"enable_sampling"`
	SamplingInitial int  `yaml:"sampling_initial" json:"sampling_initial"`
	SamplingAfter   int  `yaml:"sampling_after" json:"sampling_after"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Video: VideoConfig{
			Output:      "output/annotated.mp4",
			FallbackFPS: 30,
			Codec:       "mp4v",
		},
		Motion: MotionConfig{
			ResizeWidth:   320,
			BlurSize:      5,
			DiffThreshold: 20,
			MorphKernel:   3,
		},
		Activity: activity.DefaultThresholds(),
		Anomaly:  anomaly.DefaultConfig(),
		Sampling: SamplingConfig{
			ActivityStride:  5,
			EmotionStride:   30,
			CooldownSeconds: 1.0,
			OverlaySeconds:  2.0,
		},
		Faces: FacesConfig{
			Enabled:        true,
			ModelPath:      "models/face_detection_yunet_2023mar.onnx",
			ScoreThreshold: 0.4,
			NMSThreshold:   0.3,
			TopK:           5000,
			DrawBoxes:      true,
		},
		Emotion: EmotionConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			ONNXModelPath:     "models/emotion-ferplus-8.onnx",
			Timeout:           30 * time.Second,
			MaxRetries:        2,
			RequestsPerMinute: 60,
			JPEGQuality:       85,
		},
		Report: ReportConfig{
			Path:  "output/report.json",
			Sinks: []string{"file"},
		},
		Storage: StorageConfig{
			MinIO: MinIOConfig{
				Endpoint:       "localhost:9000",
				Bucket:         "videoscope",
				Region:         "us-east-1",
				Prefix:         "reports",
				RequestTimeout: 5 * time.Minute,
				MaxRetries:     3,
			},
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "videoscope",
				SSLMode:         "disable",
				MaxConnections:  5,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
				AutoMigrate:     true,
			},
		},
		Notify: NotifyConfig{
			DialTimeout: 5 * time.Second,
			MaxRetries:  3,
		},
		Pipeline: PipelineConfig{
			ProgressEvery: 100,
		},
		Log: LogConfig{
			Level:           "info",
			Format:          "console",
			OutputPaths:     []string{"stderr"},
			SamplingInitial: 100,
			SamplingAfter:   100,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills secrets that are left empty from the environment.
func ApplyEnv(cfg *Config) {
	setIfEmpty(&cfg.Emotion.APIKey, emotionKeyVar(cfg.Emotion.Provider))
	setIfEmpty(&cfg.Storage.MinIO.AccessKeyID, "MINIO_ACCESS_KEY_ID")
	setIfEmpty(&cfg.Storage.MinIO.SecretAccessKey, "MINIO_SECRET_ACCESS_KEY")
	setIfEmpty(&cfg.Storage.Postgres.Username, "POSTGRES_USERNAME")
	setIfEmpty(&cfg.Storage.Postgres.Password, "POSTGRES_PASSWORD")
	setIfEmpty(&cfg.Notify.WebSocketURL, "VIDEOSCOPE_NOTIFY_URL")
}

// UnsealSecrets replaces every "enc:" secret with its plaintext using the
// base64 master key.
func UnsealSecrets(cfg *Config, masterKey string) error {
	fields := []struct {
		name string
		v    *string
	}{
		{"emotion.api_key", &cfg.Emotion.APIKey},
		{"storage.minio.access_key_id", &cfg.Storage.MinIO.AccessKeyID},
		{"storage.minio.secret_access_key", &cfg.Storage.MinIO.SecretAccessKey},
		{"storage.postgres.username", &cfg.Storage.Postgres.Username},
		{"storage.postgres.password", &cfg.Storage.Postgres.Password},
	}
	for _, f := range fields {
		plain, err := secret.Open(*f.v, masterKey)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.v = plain
	}
	return nil
}

// HasSink reports whether the named report sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Report.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func emotionKeyVar(provider string) string {
	if provider == "gemini" {
		return "GOOGLE_API_KEY"
	}
	return "OPENAI_API_KEY"
}

func setIfEmpty(dst *string, env string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
