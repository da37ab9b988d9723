package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
// Vendor credentials are intentionally absent from the file format and are
// read from the environment only.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	TempDir                    string   `yaml:"tempDir"`
	MaxUploadBytes             int64    `yaml:"maxUploadBytes"`
	AllowedExtensions          []string `yaml:"allowedExtensions"`
	DefaultProvider            string   `yaml:"defaultProvider"`
	GeminiModel                string   `yaml:"geminiModel"`
	KlingModel                 string   `yaml:"klingModel"`
	KlingBaseURL               string   `yaml:"klingBaseURL"`
	GenerationTimeoutSeconds   int      `yaml:"generationTimeoutSeconds"`
	PollIntervalSeconds        int      `yaml:"pollIntervalSeconds"`
	VideoDurationSeconds       int      `yaml:"videoDurationSeconds"`
	AspectRatio                string   `yaml:"aspectRatio"`
	Resolution                 string   `yaml:"resolution"`
	CleanupMaxAgeHours         int      `yaml:"cleanupMaxAgeHours"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	GenerateRateLimitPerMinute int      `yaml:"generateRateLimitPerMinute"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`

	// Loaded from environment only.
	GeminiAPIKey   string `yaml:"-"`
	KlingAccessKey string `yaml:"-"`
	KlingSecretKey string `yaml:"-"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides and defaults.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PAWMOTION_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_TEMP_DIR"); v != "" {
		cfg.TempDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("PAWMOTION_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("PAWMOTION_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_KLING_MODEL"); v != "" {
		cfg.KlingModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_KLING_BASE_URL"); v != "" {
		cfg.KlingBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAWMOTION_GENERATION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.GenerationTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PAWMOTION_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("PAWMOTION_GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.KlingAccessKey = strings.TrimSpace(os.Getenv("KLING_ACCESS_KEY"))
	cfg.KlingSecretKey = strings.TrimSpace(os.Getenv("KLING_SECRET_KEY"))

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = "data/uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "gemini"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "veo-3.1-fast-generate-preview"
	}
	if cfg.KlingModel == "" {
		cfg.KlingModel = "kling-v2-6"
	}
	if cfg.GenerationTimeoutSeconds <= 0 {
		cfg.GenerationTimeoutSeconds = 300
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 10
	}
	if cfg.VideoDurationSeconds <= 0 {
		cfg.VideoDurationSeconds = 4
	}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = "16:9"
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "720p"
	}
	if cfg.CleanupMaxAgeHours <= 0 {
		cfg.CleanupMaxAgeHours = 24
	}
	if cfg.GenerateRateLimitPerMinute <= 0 {
		cfg.GenerateRateLimitPerMinute = 3
	}
}

// GenerationTimeout returns the vendor generation deadline as a duration.
func (c FileConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// PollInterval returns the vendor poll interval as a duration.
func (c FileConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CleanupMaxAge returns the staged-file retention window as a duration.
func (c FileConfig) CleanupMaxAge() time.Duration {
	return time.Duration(c.CleanupMaxAgeHours) * time.Hour
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
