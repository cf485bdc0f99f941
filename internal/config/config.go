// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, email
// transport, delivery worker tuning, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-newsletter-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// EmailConfig defines the outbound email transport settings.
type EmailConfig struct {
	BaseURL   string        // EMAIL_BASE_URL; empty disables the HTTP transport (messages are logged)
	Sender    string        // EMAIL_SENDER
	AuthToken string        // EMAIL_AUTH_TOKEN
	Timeout   time.Duration // EMAIL_TIMEOUT per request
}

// WorkerConfig defines delivery worker tuning knobs. The defaults are
// deliberately conservative; every value is overridable per environment.
type WorkerConfig struct {
	PollInterval time.Duration // WORKER_POLL_INTERVAL between claim attempts
	BatchSize    int           // WORKER_BATCH_SIZE tasks claimed per poll
	Concurrency  int           // WORKER_CONCURRENCY simultaneous sends
	MaxAttempts  int           // DELIVERY_MAX_ATTEMPTS retry ceiling
	BackoffBase  time.Duration // DELIVERY_BACKOFF_BASE exponential backoff seed
	BackoffCap   time.Duration // DELIVERY_BACKOFF_CAP backoff upper bound
	ClaimTimeout time.Duration // DELIVERY_CLAIM_TIMEOUT visibility timeout for abandoned claims
}

// IdempotencyConfig bounds how publish requests wait on a concurrent winner.
type IdempotencyConfig struct {
	WaitMax    time.Duration // IDEMPOTENCY_WAIT_MAX total wait for the winner's commit
	PollEvery  time.Duration // IDEMPOTENCY_POLL_EVERY interval between polls
	StaleAfter time.Duration // IDEMPOTENCY_STALE_AFTER age before an unfinished reservation is taken over
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

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath  string // SQLite path
	BaseURL string // public root used in confirmation links, e.g. https://newsletter.example.com

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Email transport
	Email EmailConfig

	// Delivery worker
	Worker WorkerConfig

	// Idempotency
	Idempotency IdempotencyConfig

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

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/")),

		// App
		DBPath:  getenv("DB_PATH", "app.db"),
		BaseURL: strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),

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

		// Email transport
		Email: EmailConfig{
			BaseURL:   strings.TrimRight(getenv("EMAIL_BASE_URL", ""), "/"),
			Sender:    getenv("EMAIL_SENDER", "newsletter@example.com"),
			AuthToken: getenv("EMAIL_AUTH_TOKEN", ""),
			Timeout:   getdur("EMAIL_TIMEOUT", 10*time.Second),
		},

		// Delivery worker
		Worker: WorkerConfig{
			PollInterval: getdur("WORKER_POLL_INTERVAL", time.Second),
			BatchSize:    getint("WORKER_BATCH_SIZE", 50),
			Concurrency:  getint("WORKER_CONCURRENCY", 4),
			MaxAttempts:  getint("DELIVERY_MAX_ATTEMPTS", 5),
			BackoffBase:  getdur("DELIVERY_BACKOFF_BASE", time.Second),
			BackoffCap:   getdur("DELIVERY_BACKOFF_CAP", 5*time.Minute),
			ClaimTimeout: getdur("DELIVERY_CLAIM_TIMEOUT", 5*time.Minute),
		},

		// Idempotency
		Idempotency: IdempotencyConfig{
			WaitMax:    getdur("IDEMPOTENCY_WAIT_MAX", 5*time.Second),
			PollEvery:  getdur("IDEMPOTENCY_POLL_EVERY", 100*time.Millisecond),
			StaleAfter: getdur("IDEMPOTENCY_STALE_AFTER", 5*time.Minute),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-newsletter-backend"),
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
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return cfg, errors.New("APP_BASE_URL must not be empty")
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
	if cfg.Email.Timeout <= 0 {
		return cfg, errors.New("EMAIL_TIMEOUT must be > 0")
	}
	if cfg.Worker.PollInterval <= 0 {
		return cfg, errors.New("WORKER_POLL_INTERVAL must be > 0")
	}
	if cfg.Worker.BatchSize < 1 {
		return cfg, errors.New("WORKER_BATCH_SIZE must be >= 1")
	}
	if cfg.Worker.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return cfg, errors.New("DELIVERY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Worker.BackoffBase <= 0 || cfg.Worker.BackoffCap < cfg.Worker.BackoffBase {
		return cfg, errors.New("DELIVERY_BACKOFF_BASE must be > 0 and <= DELIVERY_BACKOFF_CAP")
	}
	if cfg.Worker.ClaimTimeout <= 0 {
		return cfg, errors.New("DELIVERY_CLAIM_TIMEOUT must be > 0")
	}
	if cfg.Idempotency.WaitMax <= 0 || cfg.Idempotency.PollEvery <= 0 || cfg.Idempotency.StaleAfter <= 0 {
		return cfg, errors.New("idempotency wait settings must be positive durations")
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
