package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/enforcement-gate/models"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit records. When nil, audit uses main DB.
	Auth          AuthConfig
	Gate          GateConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	RequestsPerMinute int // per-IP transport guard, 0 disables
	TLS               struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds service token validation settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// GateConfig holds the decision chain settings
type GateConfig struct {
	LookupTimeout    time.Duration
	GracePeriod      time.Duration
	TierLadder       models.TierLadder
	PlatformOwnerIDs []string
}

// TierLimit is a sliding-window budget: Max actions per Window
type TierLimit struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig holds per-scope tier limits
type RateLimitConfig struct {
	ActorLimits   map[models.Tier]TierLimit
	TenantLimits  map[models.Tier]TierLimit
	SweepInterval time.Duration
}

// AuditConfig holds the audit pipeline settings
type AuditConfig struct {
	BufferSize   int
	WorkerCount  int // 0 selects synchronous writes
	WriteTimeout time.Duration
	StopTimeout  time.Duration
}

// CacheConfig holds subscription cache settings
type CacheConfig struct {
	SubscriptionTTL  time.Duration // 0 disables caching
	SubscriptionSize int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

const (
	defaultActorLimits  = "FREE=10/1m,BASIC=30/1m,PRO=80/1m,ELITE=200/1m,ENTERPRISE=200/1m"
	defaultTenantLimits = "FREE=50/10s,BASIC=50/10s,PRO=50/10s,ELITE=50/10s,ENTERPRISE=50/10s"
)

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	ladder, err := models.ParseTierLadder(getEnv("TIER_LADDER", "FREE,PRO,ELITE"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIER_LADDER: %w", err)
	}
	actorLimits, err := ParseTierLimits(getEnv("RATE_LIMIT_ACTOR", defaultActorLimits))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_ACTOR: %w", err)
	}
	tenantLimits, err := ParseTierLimits(getEnv("RATE_LIMIT_TENANT", defaultTenantLimits))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_TENANT: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getPort(),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			RequestsPerMinute: getEnvAsInt("HTTP_REQUESTS_PER_MINUTE", 600),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "enforcement-gate"),
		},
		Gate: GateConfig{
			LookupTimeout:    getEnvAsDuration("GATE_LOOKUP_TIMEOUT", 2*time.Second),
			GracePeriod:      getEnvAsDuration("ENTITLEMENT_GRACE_PERIOD", 72*time.Hour),
			TierLadder:       ladder,
			PlatformOwnerIDs: getEnvAsList("PLATFORM_OWNER_IDS", nil),
		},
		RateLimit: RateLimitConfig{
			ActorLimits:   actorLimits,
			TenantLimits:  tenantLimits,
			SweepInterval: getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		},
		Audit: AuditConfig{
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount:  getEnvAsInt("AUDIT_WORKER_COUNT", 4),
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
			StopTimeout:  getEnvAsDuration("AUDIT_STOP_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			SubscriptionTTL:  getEnvAsDuration("SUBSCRIPTION_CACHE_TTL", 30*time.Second),
			SubscriptionSize: getEnvAsInt("SUBSCRIPTION_CACHE_SIZE", 10000),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required in production")
	}

	if c.Gate.LookupTimeout <= 0 {
		return fmt.Errorf("gate lookup timeout must be positive")
	}
	if c.Gate.GracePeriod < 0 {
		return fmt.Errorf("entitlement grace period cannot be negative")
	}
	if len(c.Gate.TierLadder) == 0 {
		return fmt.Errorf("tier ladder is required")
	}
	base := c.Gate.TierLadder.Base()
	if _, ok := c.RateLimit.ActorLimits[base]; !ok {
		return fmt.Errorf("actor rate limit for base tier %s is required", base)
	}
	if _, ok := c.RateLimit.TenantLimits[base]; !ok {
		return fmt.Errorf("tenant rate limit for base tier %s is required", base)
	}

	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit buffer size must be positive")
	}
	if c.Audit.WorkerCount < 0 {
		return fmt.Errorf("audit worker count cannot be negative")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// ParseTierLimits parses "FREE=10/1m,PRO=80/1m" into per-tier limits
func ParseTierLimits(s string) (map[models.Tier]TierLimit, error) {
	limits := make(map[models.Tier]TierLimit)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tier, rule, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: expected TIER=MAX/WINDOW", entry)
		}
		maxStr, windowStr, ok := strings.Cut(rule, "/")
		if !ok {
			return nil, fmt.Errorf("entry %q: expected MAX/WINDOW", entry)
		}
		max, err := strconv.Atoi(strings.TrimSpace(maxStr))
		if err != nil || max <= 0 {
			return nil, fmt.Errorf("entry %q: max must be a positive integer", entry)
		}
		window, err := time.ParseDuration(strings.TrimSpace(windowStr))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("entry %q: window must be a positive duration", entry)
		}
		limits[models.Tier(strings.ToUpper(strings.TrimSpace(tier)))] = TierLimit{Max: max, Window: window}
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("no tier limits configured")
	}
	return limits, nil
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "gate_password"),
		Database:        getEnv("DB_NAME", "gate"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
