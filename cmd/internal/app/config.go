package app

import (
	"strings"
	"time"
)

// Config contains process-level configuration loaded from environment variables.
// Session, verification and token settings are loaded by their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	MembershipSchema string

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	BotToken       string
	BotPollTimeout int
	ProductName    string

	// Argon2id PHC string; when set the ledger endpoints require X-Admin-Key.
	LogsAdminKeyHash string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSPollInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("HTTP_ADDR", defaultHTTPAddr()),
		LogLevel:  EnvString("LOG_LEVEL", "info"),
		LogFormat: EnvString("LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:      EnvString("DATABASE_URL", ""),
		DBMaxConns:       EnvInt32("DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("DB_MIN_CONNS", 0),
		MembershipSchema: EnvString("MEMBERSHIP_SCHEMA", "botgate"),

		ReadinessRequireDB: EnvBool("READINESS_REQUIRE_DB", false),

		BotToken:       EnvString("BOT_TOKEN", ""),
		BotPollTimeout: EnvInt("BOT_POLL_TIMEOUT_SECONDS", 30),
		ProductName:    EnvString("PRODUCT_NAME", "the content"),

		LogsAdminKeyHash: EnvString("LOGS_ADMIN_KEY_HASH", ""),

		CORSAllowedOrigins:   EnvCSV("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowCredentials: EnvBool("CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CORS_MAX_AGE_SECONDS", 86400),

		WSPollInterval: EnvDuration("WS_POLL_INTERVAL", time.Second),
	}
}

// defaultHTTPAddr honors PORT as set by container platforms.
func defaultHTTPAddr() string {
	if port := strings.TrimSpace(EnvString("PORT", "")); port != "" {
		return ":" + port
	}
	return "0.0.0.0:8000"
}
