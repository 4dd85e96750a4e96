// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, authentication, the
// moderation classifier, upload storage, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "brandsafe-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig defines JWT signing settings.
type AuthConfig struct {
	JWTSecret  string        // JWT_SECRET (>= 16 bytes)
	AccessTTL  time.Duration // JWT_ACCESS_TTL
	RefreshTTL time.Duration // JWT_REFRESH_TTL
}

// ClassifierConfig selects and tunes the moderation classifier.
type ClassifierConfig struct {
	Kind            string  // CLASSIFIER: keyword|openai
	OverrideRate    float64 // CLASSIFIER_OVERRIDE_RATE in [0,1]
	SimulateLatency bool    // CLASSIFIER_SIMULATE_LATENCY
	KeywordsFile    string  // KEYWORDS_FILE (optional YAML override)
	OpenAIKey       string  // OPENAI_API_KEY
	OpenAIModel     string  // OPENAI_MODERATION_MODEL (empty = API default)
	OpenAITimeout   time.Duration
}

// UploadConfig defines where image uploads are stored.
type UploadConfig struct {
	Backend  string // UPLOAD_BACKEND: local|s3
	Dir      string // UPLOAD_DIR (local)
	MaxBytes int64  // UPLOAD_MAX_BYTES
	Bucket   string // S3_BUCKET
	Prefix   string // S3_PREFIX
	Region   string // S3_REGION (optional, else AWS default chain)
	Endpoint string // S3_ENDPOINT (optional, S3-compatible servers)
}

// AdminConfig seeds an admin account at startup when Username is set.
type AdminConfig struct {
	Username string // ADMIN_USERNAME
	Password string // ADMIN_PASSWORD
	Email    string // ADMIN_EMAIL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath         string         // SQLite path
	AppVersion     string         // reported by /health
	ReportTimezone string         // IANA zone for "checks today"
	ReportLocation *time.Location // parsed ReportTimezone

	Auth       AuthConfig
	Classifier ClassifierConfig
	Upload     UploadConfig
	Admin      AdminConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// API usage log
	UsageLogEnabled bool          // USAGE_LOG_ENABLED
	UsageRetention  time.Duration // USAGE_RETENTION

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:         getenv("DB_PATH", "app.db"),
		AppVersion:     getenv("APP_VERSION", "1.0.0"),
		ReportTimezone: getenv("REPORT_TIMEZONE", "UTC"),

		Auth: AuthConfig{
			JWTSecret:  getenv("JWT_SECRET", ""),
			AccessTTL:  getdur("JWT_ACCESS_TTL", 60*time.Minute),
			RefreshTTL: getdur("JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Classifier: ClassifierConfig{
			Kind:            strings.ToLower(getenv("CLASSIFIER", "keyword")),
			OverrideRate:    getfloat("CLASSIFIER_OVERRIDE_RATE", 0.10),
			SimulateLatency: getbool("CLASSIFIER_SIMULATE_LATENCY", false),
			KeywordsFile:    getenv("KEYWORDS_FILE", ""),
			OpenAIKey:       getenv("OPENAI_API_KEY", ""),
			OpenAIModel:     getenv("OPENAI_MODERATION_MODEL", ""),
			OpenAITimeout:   getdur("OPENAI_TIMEOUT", 10*time.Second),
		},
		Upload: UploadConfig{
			Backend:  strings.ToLower(getenv("UPLOAD_BACKEND", "local")),
			Dir:      getenv("UPLOAD_DIR", "media"),
			MaxBytes: int64(getint("UPLOAD_MAX_BYTES", 10<<20)),
			Bucket:   getenv("S3_BUCKET", ""),
			Prefix:   getenv("S3_PREFIX", ""),
			Region:   getenv("S3_REGION", ""),
			Endpoint: getenv("S3_ENDPOINT", ""),
		},
		Admin: AdminConfig{
			Username: getenv("ADMIN_USERNAME", ""),
			Password: getenv("ADMIN_PASSWORD", ""),
			Email:    getenv("ADMIN_EMAIL", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// API usage log
		UsageLogEnabled: getbool("USAGE_LOG_ENABLED", true),
		UsageRetention:  getdur("USAGE_RETENTION", 30*24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "brandsafe-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	loc, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		return cfg, errors.New("REPORT_TIMEZONE must be a valid IANA time zone")
	}
	cfg.ReportLocation = loc
	if len(cfg.Auth.JWTSecret) < 16 {
		return cfg, errors.New("JWT_SECRET must be set (at least 16 bytes)")
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= cfg.Auth.AccessTTL {
		return cfg, errors.New("JWT_ACCESS_TTL must be > 0 and JWT_REFRESH_TTL longer than it")
	}
	switch cfg.Classifier.Kind {
	case "keyword":
	case "openai":
		if cfg.Classifier.OpenAIKey == "" {
			return cfg, errors.New("OPENAI_API_KEY is required when CLASSIFIER=openai")
		}
	default:
		return cfg, errors.New("CLASSIFIER must be one of: keyword, openai")
	}
	if cfg.Classifier.OverrideRate < 0 || cfg.Classifier.OverrideRate > 1 {
		return cfg, errors.New("CLASSIFIER_OVERRIDE_RATE must be in [0,1]")
	}
	if cfg.Classifier.OpenAITimeout <= 0 {
		return cfg, errors.New("OPENAI_TIMEOUT must be > 0")
	}
	switch cfg.Upload.Backend {
	case "local":
		if strings.TrimSpace(cfg.Upload.Dir) == "" {
			return cfg, errors.New("UPLOAD_DIR must not be empty")
		}
	case "s3":
		if cfg.Upload.Bucket == "" {
			return cfg, errors.New("S3_BUCKET is required when UPLOAD_BACKEND=s3")
		}
	default:
		return cfg, errors.New("UPLOAD_BACKEND must be one of: local, s3")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return cfg, errors.New("UPLOAD_MAX_BYTES must be > 0")
	}
	if cfg.Admin.Username != "" && (cfg.Admin.Password == "" || cfg.Admin.Email == "") {
		return cfg, errors.New("ADMIN_PASSWORD and ADMIN_EMAIL are required when ADMIN_USERNAME is set")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.UsageRetention <= 0 {
		return cfg, errors.New("USAGE_RETENTION must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
