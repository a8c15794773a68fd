package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "5250", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Empty(t, cfg.Server.AdminToken)
	assert.Equal(t, 50, cfg.Sync.ChunkSize)
	assert.Equal(t, 24*time.Hour, cfg.Sync.StaleAfter)
	assert.Equal(t, 200, cfg.Sync.IntelligenceLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.RetryDelay)
	assert.False(t, cfg.Sync.PurgeInactiveFacts)
	assert.Equal(t, 1000, cfg.Queue.BufferSize)
	assert.Equal(t, 20.0, cfg.Queue.RatePerSecond)
	assert.Equal(t, time.Hour, cfg.Scheduler.IntelligenceInterval)
	assert.Equal(t, 3, cfg.Scheduler.ProximityRebuildHour)
	assert.Empty(t, cfg.Cache.RedisAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "SYNC_CHUNK_SIZE=5\nSYNC_STALE_AFTER=30m\nCORS_ALLOWED_ORIGINS=https://a.example,https://b.example\nSYNC_PURGE_INACTIVE_FACTS=true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		for _, key := range []string{"SYNC_CHUNK_SIZE", "SYNC_STALE_AFTER", "CORS_ALLOWED_ORIGINS", "SYNC_PURGE_INACTIVE_FACTS"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sync.ChunkSize)
	assert.Equal(t, 30*time.Minute, cfg.Sync.StaleAfter)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Sync.PurgeInactiveFacts)
}

func TestLoadConfig_EnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("QUEUE_WORKERS=9\n"), 0o600))
	t.Setenv("QUEUE_WORKERS", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Queue.Workers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Zero chunk size", "SYNC_CHUNK_SIZE", "0"},
		{"Negative retries", "SYNC_MAX_RETRIES", "-1"},
		{"Rebuild hour out of range", "SCHEDULER_PROXIMITY_REBUILD_HOUR", "24"},
		{"Unparsable duration", "SYNC_STALE_AFTER", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
