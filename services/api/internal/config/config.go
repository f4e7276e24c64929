package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	DatabaseURL    string   `yaml:"databaseURL"`
	RedisAddr      string   `yaml:"redisAddr"`
	RedisPassword  string   `yaml:"redisPassword"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`
	SessionTTL  string `yaml:"sessionTTL"`
	RefreshTTL  string `yaml:"refreshTTL"`

	SignupRateLimitPerMinute   int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute  int `yaml:"refreshRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`
	AIChatRateLimitPerMinute   int `yaml:"aiChatRateLimitPerMinute"`

	GoogleBooksURL    string `yaml:"googleBooksURL"`
	GoogleBooksAPIKey string `yaml:"googleBooksAPIKey"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`

	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Tracing TracingConfig `yaml:"tracing"`
}

// StorageConfig points at the S3-compatible bucket used for avatars.
type StorageConfig struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"accessKey"`
	SecretKey      string `yaml:"secretKey"`
	Bucket         string `yaml:"bucket"`
	UseSSL         bool   `yaml:"useSSL"`
	PublicBaseURL  string `yaml:"publicBaseURL"`
	MaxAvatarBytes int64  `yaml:"maxAvatarBytes"`
}

type QueueConfig struct {
	// Backend is "redis" (default) or "local"; local jobs are lost on restart.
	Backend     string `yaml:"backend"`
	Stream      string `yaml:"stream"`
	Group       string `yaml:"group"`
	Consumer    string `yaml:"consumer"`
	Concurrency int    `yaml:"concurrency"`
	MaxRetries  int    `yaml:"maxRetries"`
	RetryDelay  string `yaml:"retryDelay"`
}

type TracingConfig struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Load reads config from path (defaults to config.yaml).
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
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables
func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("SESSION_TTL", &cfg.SessionTTL)
	setString("REFRESH_TTL", &cfg.RefreshTTL)
	setString("GOOGLE_BOOKS_URL", &cfg.GoogleBooksURL)
	setString("GOOGLE_BOOKS_API_KEY", &cfg.GoogleBooksAPIKey)
	setString("GENERATION_PROVIDER", &cfg.GenerationProvider)
	setString("GENERATION_BASE_URL", &cfg.GenerationBaseURL)
	setString("GENERATION_API_KEY", &cfg.GenerationAPIKey)
	setString("GENERATION_MODEL", &cfg.GenerationModel)
	setString("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	setString("STORAGE_ACCESS_KEY", &cfg.Storage.AccessKey)
	setString("STORAGE_SECRET_KEY", &cfg.Storage.SecretKey)
	setString("STORAGE_BUCKET", &cfg.Storage.Bucket)
	setString("STORAGE_PUBLIC_BASE_URL", &cfg.Storage.PublicBaseURL)
	setString("QUEUE_BACKEND", &cfg.Queue.Backend)
	setString("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.OTLPEndpoint)
	setInt("SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute)
	setInt("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	setInt("REFRESH_RATE_LIMIT_PER_MINUTE", &cfg.RefreshRateLimitPerMinute)
	setInt("PASSWORD_RATE_LIMIT_PER_MINUTE", &cfg.PasswordRateLimitPerMinute)
	setInt("AI_CHAT_RATE_LIMIT_PER_MINUTE", &cfg.AIChatRateLimitPerMinute)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "openai-compat"
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "bookie-api"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "redis"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 2
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for refresh tokens and rate limiting")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes")
	}
	switch cfg.GenerationProvider {
	case "openai-compat":
		if cfg.GenerationAPIKey == "" {
			return errors.New("config: generationAPIKey is required for openai-compat provider (set GENERATION_API_KEY)")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required")
	}
	switch cfg.Queue.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("config: unknown queue.backend %q", cfg.Queue.Backend)
	}
	switch cfg.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Tracing.OTLPEndpoint == "" {
			return errors.New("config: tracing.otlpEndpoint is required for otlp exporter")
		}
	default:
		return fmt.Errorf("config: unknown tracing.exporter %q", cfg.Tracing.Exporter)
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 ||
		cfg.PasswordRateLimitPerMinute < 0 || cfg.AIChatRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseDuration parses an optional duration field; name is used in errors.
func ParseDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
