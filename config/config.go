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
)

// Usage store backends
const (
	UsageStoreLog      = "log"
	UsageStorePostgres = "postgres"
	UsageStoreSQLite   = "sqlite"
)

// Rate limiter backends
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// Auth failure policies
const (
	AuthFailureSkip  = "skip"
	AuthFailureAbort = "abort"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Usage         UsageConfig
	Router        RouterConfig
	Redis         RedisConfig
	Providers     ProvidersConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	// APIKeys, when non-empty, are required on /api/v1 routes
	APIKeys []string
	TLS     struct {
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

// UsageConfig selects and tunes the usage log
type UsageConfig struct {
	Store        string // log, postgres or sqlite
	SQLitePath   string
	InitSchema   bool
	BufferSize   int
	WorkerCount  int
	WriteTimeout time.Duration
}

// RouterConfig holds orchestration settings
type RouterConfig struct {
	AttemptTimeout    time.Duration
	RateLimitWindow   time.Duration
	AuthFailurePolicy string // skip or abort
	LimiterBackend    string // memory or redis
	CleanupInterval   time.Duration
	ProvidersFile     string // optional YAML catalog
}

// RedisConfig is used when the limiter backend is redis
type RedisConfig struct {
	URL string
}

// ProviderSettings holds one provider's connection settings
type ProviderSettings struct {
	// CredentialEnv is the env var the key was read from
	CredentialEnv string
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	// Headers are extra request headers, e.g. an org or project id
	Headers map[string]string
}

// Configured reports whether a credential is present
func (p ProviderSettings) Configured() bool {
	return p.APIKey != ""
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderSettings
	Anthropic ProviderSettings
	Gemini    ProviderSettings
	Mistral   ProviderSettings
}

// ByName returns provider settings keyed by registry name
func (p ProvidersConfig) ByName() map[string]ProviderSettings {
	return map[string]ProviderSettings{
		"openai":    p.OpenAI,
		"anthropic": p.Anthropic,
		"gemini":    p.Gemini,
		"mistral":   p.Mistral,
	}
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 150*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 120*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			APIKeys:         getEnvAsSlice("ROUTER_API_KEYS", nil),
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
		Database: loadDatabaseConfig(),
		Usage: UsageConfig{
			Store:        strings.ToLower(getEnv("USAGE_STORE", UsageStoreLog)),
			SQLitePath:   getEnv("USAGE_SQLITE_PATH", "usage.db"),
			InitSchema:   getEnvAsBool("USAGE_INIT_SCHEMA", true),
			BufferSize:   getEnvAsInt("USAGE_BUFFER_SIZE", 10000),
			WorkerCount:  getEnvAsInt("USAGE_WORKERS", 4),
			WriteTimeout: getEnvAsDuration("USAGE_WRITE_TIMEOUT", 5*time.Second),
		},
		Router: RouterConfig{
			AttemptTimeout:    getEnvAsDuration("ROUTER_ATTEMPT_TIMEOUT", 30*time.Second),
			RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			AuthFailurePolicy: strings.ToLower(getEnv("ROUTER_AUTH_FAILURE_POLICY", AuthFailureSkip)),
			LimiterBackend:    strings.ToLower(getEnv("RATE_LIMIT_BACKEND", LimiterMemory)),
			CleanupInterval:   getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
			ProvidersFile:     getEnv("PROVIDERS_FILE", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Providers: ProvidersConfig{
			OpenAI:    loadProviderSettings("OPENAI"),
			Anthropic: loadProviderSettings("ANTHROPIC"),
			Gemini:    loadProviderSettings("GEMINI"),
			Mistral:   loadProviderSettings("MISTRAL"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Usage.Store {
	case UsageStoreLog:
	case UsageStoreSQLite:
		if c.Usage.SQLitePath == "" {
			return fmt.Errorf("usage sqlite path is required")
		}
	case UsageStorePostgres:
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
	default:
		return fmt.Errorf("unknown usage store %q", c.Usage.Store)
	}

	if c.Usage.WorkerCount < 1 {
		return fmt.Errorf("usage worker count must be at least 1")
	}
	if c.Usage.BufferSize < 1 {
		return fmt.Errorf("usage buffer size must be at least 1")
	}

	switch c.Router.AuthFailurePolicy {
	case AuthFailureSkip, AuthFailureAbort:
	default:
		return fmt.Errorf("unknown auth failure policy %q", c.Router.AuthFailurePolicy)
	}

	switch c.Router.LimiterBackend {
	case LimiterMemory:
	case LimiterRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis url is required for the redis limiter")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.Router.LimiterBackend)
	}

	if c.Router.AttemptTimeout <= 0 {
		return fmt.Errorf("router attempt timeout must be positive")
	}
	if c.Router.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	// at least one provider credential required in production
	if c.IsProduction() && len(c.ConfiguredProviders()) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// ConfiguredProviders returns the names of providers that have a credential
func (c *Config) ConfiguredProviders() []string {
	var names []string
	for _, name := range []string{"openai", "anthropic", "gemini", "mistral"} {
		if c.Providers.ByName()[name].Configured() {
			names = append(names, name)
		}
	}
	return names
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

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "router"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "llm_router"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProviderSettings reads the <PREFIX>_API_KEY, _BASE_URL, _TIMEOUT and
// _HEADERS variables
func loadProviderSettings(prefix string) ProviderSettings {
	keyEnv := prefix + "_API_KEY"
	return ProviderSettings{
		CredentialEnv: keyEnv,
		APIKey:        getEnv(keyEnv, ""),
		BaseURL:       getEnv(prefix+"_BASE_URL", ""),
		Timeout:       getEnvAsDuration(prefix+"_TIMEOUT", 60*time.Second),
		Headers:       getEnvAsMap(prefix + "_HEADERS"),
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

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsMap parses "k1=v1,k2=v2". Pairs without a key are ignored.
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range getEnvAsSlice(key, nil) {
		k, v, _ := strings.Cut(pair, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
