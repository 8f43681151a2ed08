package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/platform")
	t.Setenv("KV_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "super-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.StepWorkerConcurrency)
	assert.Equal(t, 2, cfg.BuildWorkerConcurrency)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.MockCompletions())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KV_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "super-secret")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRequiresKVURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("KV_URL", "")
	t.Setenv("JWT_SECRET", "super-secret")

	_, err := Load()
	assert.ErrorContains(t, err, "KV_URL")
}

func TestJWTSecretMinimumLength(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestEnvWhitelist(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "staging")

	_, err := Load()
	assert.ErrorContains(t, err, "ENV")
}

func TestLogLevelWhitelist(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	assert.ErrorContains(t, err, "LOG_LEVEL")

	for _, level := range []string{"fatal", "error", "warn", "info", "debug", "trace"} {
		t.Setenv("LOG_LEVEL", level)
		_, err := Load()
		assert.NoError(t, err, "level %s", level)
	}
}

func TestCompletionMockMode(t *testing.T) {
	setRequired(t)
	t.Setenv("COMPLETION_API_KEY", "sk-live-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MockCompletions())
}

func TestObjectStoreOptions(t *testing.T) {
	setRequired(t)
	t.Setenv("OBJECT_STORE_ENDPOINT", "minio:9000")
	t.Setenv("OBJECT_STORE_BUCKET", "artifacts")
	t.Setenv("OBJECT_STORE_ACCESS_KEY", "ak")
	t.Setenv("OBJECT_STORE_SECRET_KEY", "sk")
	t.Setenv("OBJECT_STORE_FORCE_PATH_STYLE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", cfg.ObjectStore.Endpoint)
	assert.Equal(t, "artifacts", cfg.ObjectStore.Bucket)
	assert.True(t, cfg.ObjectStore.ForcePathStyle)
}
