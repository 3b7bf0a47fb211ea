package validate

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mikeyg42/videoscope/internal/config"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateVideoConfig(v, &cfg.Video)
	validateMotionConfig(v, &cfg.Motion)
	if err := cfg.Activity.Validate(); err != nil {
		v.AddError("activity: %v", err)
	}
	validateAnomalyConfig(v, cfg)
	validateSamplingConfig(v, &cfg.Sampling)
	validateFacesConfig(v, &cfg.Faces)
	validateEmotionConfig(v, &cfg.Emotion)
	validateReportConfig(v, cfg)
	validateNotifyConfig(v, &cfg.Notify)
	validateLogConfig(v, &cfg.Log)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateVideoConfig(v *Validator, cfg *config.VideoConfig) {
	if cfg.Input != "" && !isValidFilePath(cfg.Input) {
		v.AddError("invalid input path: %q", cfg.Input)
	}
	if cfg.Output == "" || !isValidFilePath(cfg.Output) {
		v.AddError("invalid output video path: %q", cfg.Output)
	}
	if cfg.FallbackFPS <= 0 || cfg.FallbackFPS > 240 {
		v.AddError("fallback fps must be in (0, 240], got %v", cfg.FallbackFPS)
	}
	if len(cfg.Codec) != 4 {
		v.AddError("codec must be a four character code, got %q", cfg.Codec)
	}
}

func validateMotionConfig(v *Validator, cfg *config.MotionConfig) {
	if cfg.ResizeWidth < 16 {
		v.AddError("motion resize width must be >= 16")
	}
	if cfg.BlurSize%2 == 0 || cfg.BlurSize < 1 {
		v.AddError("blur size must be odd and positive")
	}
	if cfg.DiffThreshold < 0 || cfg.DiffThreshold > 255 {
		v.AddError("diff threshold must be 0..255")
	}
	if cfg.MorphKernel < 1 {
		v.AddError("morph kernel must be positive")
	}
}

func validateAnomalyConfig(v *Validator, cfg *config.Config) {
	a := cfg.Anomaly
	if a.WindowSize < 2 {
		v.AddError("anomaly window size must be >= 2")
	}
	if a.ZThreshold <= 0 {
		v.AddError("anomaly z threshold must be positive")
	}
}

func validateSamplingConfig(v *Validator, cfg *config.SamplingConfig) {
	if cfg.ActivityStride < 1 {
		v.AddError("activity stride must be >= 1")
	}
	// 0 disables emotion sampling
	if cfg.EmotionStride < 0 {
		v.AddError("emotion stride must be >= 0")
	}
	if cfg.CooldownSeconds < 0 {
		v.AddError("anomaly cooldown must not be negative")
	}
	if cfg.OverlaySeconds < 0 {
		v.AddError("anomaly overlay duration must not be negative")
	}
}

func validateFacesConfig(v *Validator, cfg *config.FacesConfig) {
	if !cfg.Enabled {
		return
	}
	if !isValidFilePath(cfg.ModelPath) {
		v.AddError("face model path cannot be empty when faces are enabled")
	}
	if cfg.ScoreThreshold < 0 || cfg.ScoreThreshold > 1 {
		v.AddError("face score threshold must be 0..1")
	}
	if cfg.NMSThreshold < 0 || cfg.NMSThreshold > 1 {
		v.AddError("face nms threshold must be 0..1")
	}
	if cfg.TopK < 1 {
		v.AddError("face top_k must be positive")
	}
}

func validateEmotionConfig(v *Validator, cfg *config.EmotionConfig) {
	switch cfg.Provider {
	case "", "none":
		return
	case "openai", "gemini":
		if cfg.BaseURL != "" && !isValidURL(cfg.BaseURL) {
			v.AddError("invalid emotion base_url: %s", cfg.BaseURL)
		}
		if strings.TrimSpace(cfg.Model) == "" {
			v.AddError("emotion model cannot be empty for provider %s", cfg.Provider)
		}
		if cfg.Timeout <= 0 {
			v.AddError("emotion timeout must be positive")
		}
		if cfg.MaxRetries < 0 {
			v.AddError("emotion max_retries must not be negative")
		}
		if cfg.RequestsPerMinute < 0 {
			v.AddError("emotion requests_per_minute must not be negative")
		}
	case "onnx":
		if !isValidFilePath(cfg.ONNXModelPath) {
			v.AddError("emotion onnx_model_path cannot be empty")
		}
	default:
		v.AddError("unknown emotion provider %q (none, openai, gemini, onnx)", cfg.Provider)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		v.AddError("jpeg quality must be 1..100")
	}
}

func validateReportConfig(v *Validator, cfg *config.Config) {
	if cfg.Report.Path == "" || !isValidFilePath(cfg.Report.Path) {
		v.AddError("invalid report path: %q", cfg.Report.Path)
	}
	for _, s := range cfg.Report.Sinks {
		switch s {
		case "file":
		case "minio":
			validateMinIOConfig(v, &cfg.Storage.MinIO)
		case "postgres":
			validatePostgresConfig(v, &cfg.Storage.Postgres)
		default:
			v.AddError("unknown report sink %q (file, minio, postgres)", s)
		}
	}
}

func validateMinIOConfig(v *Validator, cfg *config.MinIOConfig) {
	if _, _, err := net.SplitHostPort(cfg.Endpoint); err != nil {
		v.AddError("minio endpoint must be host:port: %v", err)
	}
	if !isValidBucketName(cfg.Bucket) {
		v.AddError("invalid minio bucket name: %q", cfg.Bucket)
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		v.AddError("minio credentials are required when the minio sink is enabled")
	}
}

func validatePostgresConfig(v *Validator, cfg *config.PostgresConfig) {
	if cfg.Host == "" {
		v.AddError("postgres host cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		v.AddError("invalid postgres port: %d", cfg.Port)
	}
	if !isAlphanumericWithUnderscore(cfg.Database) {
		v.AddError("invalid postgres database name: %q", cfg.Database)
	}
	switch cfg.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		v.AddError("invalid postgres ssl_mode: %q", cfg.SSLMode)
	}
}

func validateNotifyConfig(v *Validator, cfg *config.NotifyConfig) {
	if cfg.WebSocketURL == "" {
		return
	}
	u, err := url.Parse(cfg.WebSocketURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		v.AddError("notify websocket_url must be ws:// or wss://, got %q", cfg.WebSocketURL)
	}
	if cfg.DialTimeout <= 0 {
		v.AddError("notify dial timeout must be positive")
	}
}

func validateLogConfig(v *Validator, cfg *config.LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.AddError("invalid log level: %q", cfg.Level)
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		v.AddError("invalid log format: %q (json, console)", cfg.Format)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

var (
	bucketRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)
	identifierRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isValidFilePath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00")
}

func isValidBucketName(s string) bool {
	return bucketRe.MatchString(s)
}

func isAlphanumericWithUnderscore(s string) bool {
	return identifierRe.MatchString(s)
}
