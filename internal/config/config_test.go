package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediasearch/backend/internal/config"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, []string{"segment", "media"}, cfg.SyncQueues)
	assert.Equal(t, 5, cfg.SyncMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.SyncIndexTimeout)
	assert.Equal(t, "Segment", cfg.WeaviateClass)
	assert.False(t, cfg.EmbeddingsEnabled)
}

func TestLoadConfig_SyncOverrides(t *testing.T) {
	os.Setenv("SYNC_QUEUES", "segment")
	os.Setenv("SYNC_MAX_RETRIES", "2")
	os.Setenv("SYNC_POLL_INTERVAL", "250ms")
	os.Setenv("ENABLE_SYNC_WORKER", "false")
	defer os.Unsetenv("SYNC_QUEUES")
	defer os.Unsetenv("SYNC_MAX_RETRIES")
	defer os.Unsetenv("SYNC_POLL_INTERVAL")
	defer os.Unsetenv("ENABLE_SYNC_WORKER")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, []string{"segment"}, cfg.SyncQueues)
	assert.Equal(t, 2, cfg.SyncMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.SyncPollInterval)
	assert.False(t, cfg.EnableSyncWorker)
}
