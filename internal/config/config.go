package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server configuration
	Server ServerConfig

	// PostgreSQL store configuration
	Postgres PostgresConfig

	// MongoDB store configuration
	Mongo MongoConfig

	// Claude LLM configuration
	Claude ClaudeConfig

	// Redis configuration
	Redis RedisConfig

	// Langfuse trace export configuration
	Langfuse LangfuseConfig

	// Query safety configuration
	Safety SafetyConfig

	// Authentication configuration
	Auth AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port             string
	GinMode          string
	LogLevel         string
	AgentIdleTimeout time.Duration
}

// PostgresConfig holds the relational store configuration
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN returns the lib/pq connection string
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// MongoConfig holds the document store configuration.
// An empty URI means the document store is not configured.
type MongoConfig struct {
	URI      string
	Database string
}

// Configured reports whether a document store has been set up
func (c MongoConfig) Configured() bool {
	return c.URI != ""
}

// ClaudeConfig holds Claude API configuration
type ClaudeConfig struct {
	APIKey string
	Model  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LangfuseConfig holds trace export configuration
type LangfuseConfig struct {
	PublicKey string
	SecretKey string
	Host      string
}

// Enabled reports whether trace export is configured; both keys are required
func (c LangfuseConfig) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// SafetyConfig holds query safety configuration
type SafetyConfig struct {
	BlockedSQLKeywords []string
	MaxQueryRows       int
	QueryTimeout       time.Duration
}

// AuthConfig holds authentication and rate limiting configuration
type AuthConfig struct {
	JWTSecret      string
	SessionExpiry  time.Duration
	APIKeys        []string
	AdminKeyHash   string
	RateLimit      int
	AllowAnonymous bool
}

// DefaultBlockedSQLKeywords is the denylist applied to generated SQL
var DefaultBlockedSQLKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "UPDATE", "INSERT",
	"ALTER", "CREATE", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "MERGE", "CALL",
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// NewDefaultLoader creates a loader with the default provider chain:
// 1. Kubernetes secrets (if available)
// 2. File-based secrets (if available)
// 3. Environment variables (fallback)
func NewDefaultLoader() *Loader {
	providers := []SecretProvider{
		NewK8sProvider("", ""),          // Auto-detect K8s environment
		NewFileProvider("/var/secrets"), // Common secret mount path
		NewEnvProvider(),                // Always available fallback
	}

	return &Loader{
		provider: NewChainProvider(providers...),
	}
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:             l.getString(ctx, "PORT", "8080"),
		GinMode:          l.getString(ctx, "GIN_MODE", "debug"),
		LogLevel:         l.getString(ctx, "LOG_LEVEL", "info"),
		AgentIdleTimeout: l.getDuration(ctx, "AGENT_IDLE_TIMEOUT", 30*time.Minute),
	}

	cfg.Postgres = PostgresConfig{
		Host:     l.getString(ctx, "POSTGRES_HOST", "localhost"),
		Port:     l.getString(ctx, "POSTGRES_PORT", "5432"),
		Database: l.getString(ctx, "POSTGRES_DB", "ecommerce"),
		Username: l.getString(ctx, "POSTGRES_USER", "postgres"),
		Password: l.getString(ctx, "POSTGRES_PASSWORD", ""),
		SSLMode:  l.getString(ctx, "POSTGRES_SSLMODE", "disable"),
	}

	// No default URI: an unset MONGODB_URI leaves the document store off
	cfg.Mongo = MongoConfig{
		URI:      l.getString(ctx, "MONGODB_URI", ""),
		Database: l.getString(ctx, "MONGODB_DB", "analytics"),
	}

	cfg.Claude = ClaudeConfig{
		APIKey: l.getString(ctx, "ANTHROPIC_API_KEY", ""),
		Model:  l.getString(ctx, "ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
	}

	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	cfg.Langfuse = LangfuseConfig{
		PublicKey: l.getString(ctx, "LANGFUSE_PUBLIC_KEY", ""),
		SecretKey: l.getString(ctx, "LANGFUSE_SECRET_KEY", ""),
		Host:      l.getString(ctx, "LANGFUSE_HOST", "https://cloud.langfuse.com"),
	}

	cfg.Safety = SafetyConfig{
		BlockedSQLKeywords: l.getSlice(ctx, "BLOCKED_SQL_KEYWORDS", DefaultBlockedSQLKeywords),
		MaxQueryRows:       l.getInt(ctx, "MAX_QUERY_ROWS", 1000),
		QueryTimeout:       l.getDuration(ctx, "QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:      l.getString(ctx, "JWT_SECRET", ""),
		SessionExpiry:  l.getDuration(ctx, "SESSION_EXPIRY", 24*time.Hour),
		APIKeys:        l.getSlice(ctx, "API_KEYS", []string{}),
		AdminKeyHash:   l.getString(ctx, "ADMIN_KEY_HASH", ""),
		RateLimit:      l.getInt(ctx, "RATE_LIMIT", 60),
		AllowAnonymous: l.getBool(ctx, "ALLOW_ANONYMOUS", true),
	}

	return cfg, nil
}

// Helper methods for retrieving and parsing configuration values

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// MustLoad loads configuration and panics on error
// Useful for application startup
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
