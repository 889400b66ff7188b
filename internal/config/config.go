package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken   string
	IncidentLabel string

	// Storage
	StorageType  string // "sqlite" or "postgres"
	SQLitePath   string
	PostgresURL  string
	QueryTimeout time.Duration

	// API Server
	APIPort     string
	APIHost     string
	CORSOrigins []string
	Environment string

	// CLI
	APIEndpoint string

	// Metrics
	DeployEnvironment string // empty means every environment
	DistributionLimit int

	// Observability
	LogLevel     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	queryTimeout, err := getEnvDuration("QUERY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	limit, err := getEnvInt("DISTRIBUTION_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	insecure, err := getEnvBool("OTEL_INSECURE", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		GitHubToken:       getEnv("GITHUB_TOKEN", ""),
		IncidentLabel:     getEnv("INCIDENT_LABEL", "incident"),
		StorageType:       getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:        getEnv("SQLITE_PATH", "./metrics.db"),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		QueryTimeout:      queryTimeout,
		APIPort:           getEnv("API_PORT", "8080"),
		APIHost:           getEnv("API_HOST", "localhost"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		Environment:       getEnv("ENVIRONMENT", "development"),
		APIEndpoint:       getEnv("API_ENDPOINT", "http://localhost:8080"),
		DeployEnvironment: getEnv("DEPLOY_ENVIRONMENT", ""),
		DistributionLimit: limit,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      insecure,
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer"}
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &ConfigError{Field: key, Message: "must be a boolean"}
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration such as 10s"}
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the settings needed to serve metrics
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.QueryTimeout <= 0 {
		return &ConfigError{Field: "QUERY_TIMEOUT", Message: "must be positive"}
	}
	if c.DistributionLimit <= 0 {
		return &ConfigError{Field: "DISTRIBUTION_LIMIT", Message: "must be positive"}
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return &ConfigError{Field: "LOG_LEVEL", Message: "unknown log level"}
	}
	return nil
}

// ValidateCollector validates the settings needed to pull events from GitHub
func (c *Config) ValidateCollector() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
