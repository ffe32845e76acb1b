package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	domainconfig "signals-backend/domain/config"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	Version       string

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	EventBusName  string
	MetricsNS     string

	// Storage backend: "dynamodb" or "memory"
	StoreBackend string

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret    string
	JWTPublicKey string
	JWTMethod    string
	JWTIssuer    string
	JWTAudience  string

	// Providers
	CredentialsFile string

	// Rate limiting per realm on orchestration routes
	RealmRateLimit int
	RealmBurst     int

	// Feature flags
	EnableMetrics bool
	EnableTracing bool
	EnableCORS    bool
	OTLPEndpoint  string
	AllowedOrigin string

	// Orchestration tunables
	ProviderTimeout time.Duration
	CommitTimeout   time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	LockTTL         time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	defaults := domainconfig.DefaultDomainConfig()

	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		Version:       getEnv("SERVICE_VERSION", "dev"),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "signals")),
		EventBusName:  getEnv("EVENT_BUS_NAME", "signals-events"),
		MetricsNS:     getEnv("METRICS_NAMESPACE", ""),
		StoreBackend:  getEnv("STORE_BACKEND", "dynamodb"),

		IsLambda:           getEnvBool("IS_LAMBDA", false),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTPublicKey: getEnv("JWT_PUBLIC_KEY", ""),
		JWTMethod:    getEnv("JWT_SIGNING_METHOD", "HS256"),
		JWTIssuer:    getEnv("JWT_ISSUER", "signals-backend"),
		JWTAudience:  getEnv("JWT_AUDIENCE", "signals-api"),

		CredentialsFile: getEnv("CREDENTIALS_FILE", ""),

		RealmRateLimit: getEnvInt("REALM_RATE_LIMIT", 60),
		RealmBurst:     getEnvInt("REALM_RATE_BURST", 10),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),

		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", defaults.ProviderTimeout),
		CommitTimeout:   getEnvDuration("COMMIT_TIMEOUT", defaults.CommitTimeout),
		MaxAttempts:     getEnvInt("PROVIDER_MAX_ATTEMPTS", defaults.MaxAttempts),
		InitialBackoff:  getEnvDuration("PROVIDER_INITIAL_BACKOFF", defaults.InitialBackoff),
		MaxBackoff:      getEnvDuration("PROVIDER_MAX_BACKOFF", defaults.MaxBackoff),
		LockTTL:         getEnvDuration("SUBJECT_LOCK_TTL", defaults.LockTTL),
	}
	if cfg.MetricsNS == "" {
		cfg.MetricsNS = fmt.Sprintf("Signals/%s", cfg.Environment)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" && c.JWTPublicKey == "" {
			return fmt.Errorf("JWT_SECRET or JWT_PUBLIC_KEY is required in production")
		}
		if c.CredentialsFile == "" {
			return fmt.Errorf("CREDENTIALS_FILE is required in production")
		}
		if c.StoreBackend != "dynamodb" {
			return fmt.Errorf("STORE_BACKEND must be dynamodb in production")
		}
	}
	if c.StoreBackend != "dynamodb" && c.StoreBackend != "memory" {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == "dynamodb" && c.DynamoDBTable == "" {
		return fmt.Errorf("DYNAMODB_TABLE is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be at least 1")
	}
	if c.ProviderTimeout <= 0 || c.CommitTimeout <= 0 {
		return fmt.Errorf("provider and commit timeouts must be positive")
	}
	return nil
}

// DomainConfig overlays the orchestration tunables on the domain defaults.
func (c *Config) DomainConfig() *domainconfig.DomainConfig {
	d := domainconfig.DefaultDomainConfig()
	d.ProviderTimeout = c.ProviderTimeout
	d.CommitTimeout = c.CommitTimeout
	d.MaxAttempts = c.MaxAttempts
	d.InitialBackoff = c.InitialBackoff
	d.MaxBackoff = c.MaxBackoff
	d.LockTTL = c.LockTTL
	return d
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
