// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the service identity,
// secrets, storage and mail transports, submission quotas and the HTTP server
// settings.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/formrelay/formrelay/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the owner API.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "formrelay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MailConfig selects the outbound transport.
type MailConfig struct {
	Transport string // MAIL_TRANSPORT: smtp|resend|log
	Host      string // MAIL_HOST
	Port      int    // MAIL_PORT
	User      string // MAIL_USER
	Pass      string // MAIL_PASS
	ResendKey string // RESEND_API_KEY
	ResendURL string // RESEND_API_URL
}

// QuotaConfig holds the monthly submission limits.
type QuotaConfig struct {
	MonthlyLimit      int     // MONTHLY_SUBMISSIONS_LIMIT
	GrandfatherLimit  int     // GRANDFATHER_MONTHLY_LIMIT
	GrandfatherCutoff uint    // FORM_LIMIT_DECREASE_ACTIVATION_SEQUENCE
	WarningFraction   float64 // LIMIT_WARNING_FRACTION
	NoticeQuantity    int     // OVERLIMIT_NOTIFICATION_QUANTITY
}

// ArchiveConfig bounds stored submissions per form.
type ArchiveConfig struct {
	Limit            int     // ARCHIVED_SUBMISSIONS_LIMIT
	PruneProbability float64 // ARCHIVE_PRUNE_PROBABILITY
}

// CaptchaConfig configures the reCAPTCHA gate.
type CaptchaConfig struct {
	SiteKey   string // RECAPTCHA_KEY
	Secret    string // RECAPTCHA_SECRET
	VerifyURL string // RECAPTCHA_VERIFY_URL
	Bypass    bool   // CAPTCHA_BYPASS
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
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for the owner API

	// Service identity
	ServiceURL    string // public base URL, no trailing slash
	ServiceName   string
	DefaultSender string

	// Secrets
	NonceSecret    string
	SecretKey      string
	HashidsSalt    string
	JWTSecret      string
	CookieHashKey  string // optional; derived from SECRET_KEY when empty
	CookieBlockKey string // optional; cookies are only signed when empty

	// Storage
	DBDriver string // sqlite|mysql
	DBPath   string // SQLite path
	DBDSN    string // MySQL DSN
	RedisURL string // empty selects the in-process store

	// DBSlowQuery is the threshold above which statements are logged.
	DBSlowQuery time.Duration

	Mail    MailConfig
	Quota   QuotaConfig
	Archive ArchiveConfig
	Captcha CaptchaConfig

	// Submission behavior
	AllowAjaxCreation bool
	TempStateTTL      time.Duration
	PendingReplayTTL  time.Duration
	PlansFile         string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Service identity
		ServiceURL:    strings.TrimRight(getenv("SERVICE_URL", "http://localhost:8080"), "/"),
		ServiceName:   getenv("SERVICE_NAME", "Formrelay"),
		DefaultSender: getenv("DEFAULT_SENDER", "noreply@localhost"),

		// Secrets
		NonceSecret:    getenv("NONCE_SECRET", "dev-nonce-secret"),
		SecretKey:      getenv("SECRET_KEY", "dev-secret-key"),
		HashidsSalt:    getenv("HASHIDS_SALT", "dev-hashids-salt"),
		JWTSecret:      getenv("JWT_SECRET", "dev-jwt-secret"),
		CookieHashKey:  getenv("COOKIE_HASH_KEY", ""),
		CookieBlockKey: getenv("COOKIE_BLOCK_KEY", ""),

		// Storage
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "formrelay.db"),
		DBDSN:    getenv("DB_DSN", ""),
		RedisURL: getenv("REDIS_URL", ""),

		DBSlowQuery: getdur("DB_SLOW_QUERY", 200*time.Millisecond),

		Mail: MailConfig{
			Transport: strings.ToLower(getenv("MAIL_TRANSPORT", "log")),
			Host:      getenv("MAIL_HOST", ""),
			Port:      getint("MAIL_PORT", 587),
			User:      getenv("MAIL_USER", ""),
			Pass:      getenv("MAIL_PASS", ""),
			ResendKey: getenv("RESEND_API_KEY", ""),
			ResendURL: getenv("RESEND_API_URL", ""),
		},
		Quota: QuotaConfig{
			MonthlyLimit:      getint("MONTHLY_SUBMISSIONS_LIMIT", 1000),
			GrandfatherLimit:  getint("GRANDFATHER_MONTHLY_LIMIT", 1000),
			GrandfatherCutoff: uint(getint("FORM_LIMIT_DECREASE_ACTIVATION_SEQUENCE", 0)),
			WarningFraction:   getfloat("LIMIT_WARNING_FRACTION", 0.9),
			NoticeQuantity:    getint("OVERLIMIT_NOTIFICATION_QUANTITY", 5),
		},
		Archive: ArchiveConfig{
			Limit:            getint("ARCHIVED_SUBMISSIONS_LIMIT", 100),
			PruneProbability: getfloat("ARCHIVE_PRUNE_PROBABILITY", 0.1),
		},
		Captcha: CaptchaConfig{
			SiteKey:   getenv("RECAPTCHA_KEY", ""),
			Secret:    getenv("RECAPTCHA_SECRET", ""),
			VerifyURL: getenv("RECAPTCHA_VERIFY_URL", ""),
			Bypass:    getbool("CAPTCHA_BYPASS", false),
		},

		AllowAjaxCreation: getbool("ALLOW_AJAX_CREATION", false),
		TempStateTTL:      getdur("TEMP_STATE_TTL", time.Hour),
		PendingReplayTTL:  getdur("PENDING_REPLAY_TTL", 7*24*time.Hour),
		PlansFile:         getenv("PLANS_FILE", ""),

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

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "formrelay"),
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
	if cfg.Captcha.Secret == "" {
		cfg.Captcha.Bypass = true
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
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if u, err := url.Parse(cfg.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, errors.New("SERVICE_URL must be an absolute URL")
	}
	if strings.TrimSpace(cfg.NonceSecret) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return cfg, errors.New("NONCE_SECRET and SECRET_KEY must not be empty")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "mysql":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=mysql")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql")
	}
	switch cfg.Mail.Transport {
	case "log":
	case "smtp":
		if cfg.Mail.Host == "" {
			return cfg, errors.New("MAIL_HOST is required when MAIL_TRANSPORT=smtp")
		}
	case "resend":
		if cfg.Mail.ResendKey == "" {
			return cfg, errors.New("RESEND_API_KEY is required when MAIL_TRANSPORT=resend")
		}
	default:
		return cfg, errors.New("MAIL_TRANSPORT must be one of: smtp, resend, log")
	}
	if cfg.DBSlowQuery <= 0 {
		return cfg, errors.New("DB_SLOW_QUERY must be > 0")
	}
	if cfg.Quota.MonthlyLimit < 1 || cfg.Quota.GrandfatherLimit < 1 {
		return cfg, errors.New("MONTHLY_SUBMISSIONS_LIMIT and GRANDFATHER_MONTHLY_LIMIT must be >= 1")
	}
	if cfg.Quota.WarningFraction <= 0 || cfg.Quota.WarningFraction > 1 {
		return cfg, errors.New("LIMIT_WARNING_FRACTION must be in (0,1]")
	}
	if cfg.Quota.NoticeQuantity < 0 {
		return cfg, errors.New("OVERLIMIT_NOTIFICATION_QUANTITY must be >= 0")
	}
	if cfg.Archive.Limit < 1 {
		return cfg, errors.New("ARCHIVED_SUBMISSIONS_LIMIT must be >= 1")
	}
	if cfg.Archive.PruneProbability < 0 || cfg.Archive.PruneProbability > 1 {
		return cfg, errors.New("ARCHIVE_PRUNE_PROBABILITY must be in [0,1]")
	}
	if cfg.TempStateTTL <= 0 || cfg.PendingReplayTTL <= 0 {
		return cfg, errors.New("TEMP_STATE_TTL and PENDING_REPLAY_TTL must be > 0")
	}
	switch len(cfg.CookieBlockKey) {
	case 0, 16, 24, 32:
	default:
		return cfg, errors.New("COOKIE_BLOCK_KEY must be 16, 24 or 32 bytes")
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
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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
		if b, ok := sysutil.ParseBool(v); ok {
			return b
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
