// Package config loads Custard gateway configuration from the process
// environment: typed defaults, no config file format, every knob
// overridable at deploy time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is every environment-tunable knob the gateway binary needs at
// startup. Nothing here is hot-reloaded; a config change means a restart.
type Config struct {
	HTTPPort string

	LogLevel  string
	LogPretty bool

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Redis struct {
		Enabled  bool
		Host     string
		Port     string
		Password string
	}

	NATS struct {
		URL      string
		User     string
		Password string
	}

	OIDC struct {
		ProviderURL string
		ClientID    string
	}

	LLM struct {
		APIKey string
		Model  string
	}

	Blobstore struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
	}

	CORSAllowedOrigins []string

	PodID string

	CSVPool struct {
		PerFileSourceBytes int64
		PerFileFootprint   int64
		AggregateFootprint int64
		IdleTTL            time.Duration
	}

	SchemaStalenessWindow time.Duration

	ShutdownTimeout time.Duration
}

// Load reads Config from the environment, applying local-dev defaults
// where a knob has one. The OIDC provider settings, ANTHROPIC_API_KEY and
// the blob-store endpoint and credentials have no default: Load returns
// an error when any of them is unset.
func Load() (*Config, error) {
	var c Config

	c.HTTPPort = getEnv("GATEWAY_HTTP_PORT", "8080")
	c.LogLevel = getEnv("GATEWAY_LOG_LEVEL", "info")
	c.LogPretty = getEnv("GATEWAY_LOG_PRETTY", "false") == "true"

	c.DB.Host = getEnv("GATEWAY_DB_HOST", "localhost")
	c.DB.Port = getEnv("GATEWAY_DB_PORT", "5432")
	c.DB.User = getEnv("GATEWAY_DB_USER", "custard")
	c.DB.Password = getEnv("GATEWAY_DB_PASSWORD", "custard")
	c.DB.Name = getEnv("GATEWAY_DB_NAME", "custard")
	c.DB.SSLMode = getEnv("GATEWAY_DB_SSL_MODE", "disable")

	c.Redis.Enabled = getEnv("GATEWAY_REDIS_ENABLED", "false") == "true"
	c.Redis.Host = getEnv("GATEWAY_REDIS_HOST", "localhost")
	c.Redis.Port = getEnv("GATEWAY_REDIS_PORT", "6379")
	c.Redis.Password = getEnv("GATEWAY_REDIS_PASSWORD", "")

	c.NATS.URL = os.Getenv("GATEWAY_NATS_URL")
	c.NATS.User = os.Getenv("GATEWAY_NATS_USER")
	c.NATS.Password = os.Getenv("GATEWAY_NATS_PASSWORD")

	c.OIDC.ProviderURL = os.Getenv("GATEWAY_OIDC_PROVIDER_URL")
	c.OIDC.ClientID = os.Getenv("GATEWAY_OIDC_CLIENT_ID")
	if c.OIDC.ProviderURL == "" || c.OIDC.ClientID == "" {
		return nil, fmt.Errorf("GATEWAY_OIDC_PROVIDER_URL and GATEWAY_OIDC_CLIENT_ID must be set")
	}

	c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if c.LLM.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set")
	}
	c.LLM.Model = getEnv("GATEWAY_LLM_MODEL", "claude-sonnet-4-5")

	c.Blobstore.Endpoint = os.Getenv("GATEWAY_BLOBSTORE_ENDPOINT")
	c.Blobstore.AccessKey = os.Getenv("GATEWAY_BLOBSTORE_ACCESS_KEY")
	c.Blobstore.SecretKey = os.Getenv("GATEWAY_BLOBSTORE_SECRET_KEY")
	c.Blobstore.Bucket = getEnv("GATEWAY_BLOBSTORE_BUCKET", "custard-uploads")
	if c.Blobstore.Endpoint == "" || c.Blobstore.AccessKey == "" || c.Blobstore.SecretKey == "" {
		return nil, fmt.Errorf("GATEWAY_BLOBSTORE_ENDPOINT, GATEWAY_BLOBSTORE_ACCESS_KEY and GATEWAY_BLOBSTORE_SECRET_KEY must be set")
	}

	c.CORSAllowedOrigins = splitCSV(getEnv("GATEWAY_CORS_ALLOWED_ORIGINS", "http://localhost:3000"))

	c.PodID = getEnv("GATEWAY_POD_ID", hostnameOrDefault())

	c.CSVPool.PerFileSourceBytes = getEnvInt64("GATEWAY_CSV_PER_FILE_SOURCE_BYTES", 50*1024*1024)
	c.CSVPool.PerFileFootprint = getEnvInt64("GATEWAY_CSV_PER_FILE_FOOTPRINT", 200*1024*1024)
	c.CSVPool.AggregateFootprint = getEnvInt64("GATEWAY_CSV_AGGREGATE_FOOTPRINT", 2*1024*1024*1024)
	c.CSVPool.IdleTTL = getEnvDuration("GATEWAY_CSV_IDLE_TTL", 30*time.Minute)

	c.SchemaStalenessWindow = getEnvDuration("GATEWAY_SCHEMA_STALENESS_WINDOW", 1*time.Hour)

	c.ShutdownTimeout = getEnvDuration("GATEWAY_SHUTDOWN_TIMEOUT", 30*time.Second)

	return &c, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hostnameOrDefault() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "gateway-standalone"
}
