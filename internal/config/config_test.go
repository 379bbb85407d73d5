package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_OIDC_PROVIDER_URL", "https://idp.example.com")
	t.Setenv("GATEWAY_OIDC_CLIENT_ID", "custard-ui")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("GATEWAY_BLOBSTORE_ENDPOINT", "https://blob.example.com")
	t.Setenv("GATEWAY_BLOBSTORE_ACCESS_KEY", "access")
	t.Setenv("GATEWAY_BLOBSTORE_SECRET_KEY", "secret")
}

func TestLoadAppliesDefaultsWhenOnlyRequiredVarsAreSet(t *testing.T) {
	setRequiredEnv(t)

	c, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "8080", c.HTTPPort)
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.LogPretty)
	assert.Equal(t, []string{"http://localhost:3000"}, c.CORSAllowedOrigins)
	assert.Equal(t, int64(50*1024*1024), c.CSVPool.PerFileSourceBytes)
	assert.Equal(t, 30*time.Minute, c.CSVPool.IdleTTL)
	assert.Equal(t, time.Hour, c.SchemaStalenessWindow)
	assert.Equal(t, 30*time.Second, c.ShutdownTimeout)
}

func TestLoadFailsWithoutOIDCConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("GATEWAY_BLOBSTORE_ENDPOINT", "https://blob.example.com")
	t.Setenv("GATEWAY_BLOBSTORE_ACCESS_KEY", "access")
	t.Setenv("GATEWAY_BLOBSTORE_SECRET_KEY", "secret")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoadFailsWithoutLLMAPIKey(t *testing.T) {
	t.Setenv("GATEWAY_OIDC_PROVIDER_URL", "https://idp.example.com")
	t.Setenv("GATEWAY_OIDC_CLIENT_ID", "custard-ui")
	t.Setenv("GATEWAY_BLOBSTORE_ENDPOINT", "https://blob.example.com")
	t.Setenv("GATEWAY_BLOBSTORE_ACCESS_KEY", "access")
	t.Setenv("GATEWAY_BLOBSTORE_SECRET_KEY", "secret")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoadFailsWithoutBlobstoreConfig(t *testing.T) {
	t.Setenv("GATEWAY_OIDC_PROVIDER_URL", "https://idp.example.com")
	t.Setenv("GATEWAY_OIDC_CLIENT_ID", "custard-ui")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoadOverridesDefaultsFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_HTTP_PORT", "9090")
	t.Setenv("GATEWAY_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("GATEWAY_CSV_IDLE_TTL", "5m")

	c, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "9090", c.HTTPPort)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, c.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Minute, c.CSVPool.IdleTTL)
}

func TestLoadIgnoresMalformedDurationAndFallsBackToDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_SHUTDOWN_TIMEOUT", "not-a-duration")

	c, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.ShutdownTimeout)
}
