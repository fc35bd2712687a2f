package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Server.AdminPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// Postgres defaults
	assert.Equal(t, "postgres://localhost:5432/orchestrator?sslmode=disable", cfg.Postgres.DSN)
	assert.Equal(t, int32(20), cfg.Postgres.MaxConns)
	assert.Equal(t, int32(2), cfg.Postgres.MinConns)

	// Redis (notifier) defaults
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)

	// Worker defaults
	assert.Equal(t, "", cfg.Worker.ID)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 200*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Worker.StaleThreshold)
	assert.Equal(t, 30*time.Second, cfg.Worker.DrainTimeout)

	// Queue defaults
	assert.Equal(t, 5*time.Minute, cfg.Queue.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Queue.ReaperInterval)
	assert.Equal(t, "orchestrator:tasks-available", cfg.Queue.NotifyChannel)

	// Retry defaults
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.True(t, cfg.Retry.Jitter)

	// Execution defaults
	assert.Equal(t, 30*time.Second, cfg.Execution.TimeoutCheckInterval)
	assert.Equal(t, 30, cfg.Execution.RetentionDays)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Auth defaults
	assert.False(t, cfg.Auth.Enabled)

	// Logging defaults
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

postgres:
  dsn: "postgres://custom:5432/orchestrator"

worker:
  id: "test-worker"
  concurrency: 5

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://custom:5432/orchestrator", cfg.Postgres.DSN)
	assert.Equal(t, "test-worker", cfg.Worker.ID)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestServerConfig_Fields(t *testing.T) {
	cfg := ServerConfig{
		Host:         "localhost",
		Port:         8080,
		AdminPort:    8081,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8081, cfg.AdminPort)
}

func TestPostgresConfig_Fields(t *testing.T) {
	cfg := PostgresConfig{
		DSN:      "postgres://x",
		MaxConns: 10,
		MinConns: 1,
	}

	assert.Equal(t, "postgres://x", cfg.DSN)
	assert.Equal(t, int32(10), cfg.MaxConns)
}

func TestWorkerConfig_Fields(t *testing.T) {
	cfg := WorkerConfig{
		ID:                "worker-1",
		Concurrency:       10,
		PollInterval:      200 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
		DrainTimeout:      30 * time.Second,
	}

	assert.Equal(t, "worker-1", cfg.ID)
	assert.Equal(t, 10, cfg.Concurrency)
}

func TestQueueConfig_Fields(t *testing.T) {
	cfg := QueueConfig{
		LockTimeout:    5 * time.Minute,
		ReaperInterval: 30 * time.Second,
		NotifyChannel:  "orchestrator:tasks-available",
	}

	assert.Equal(t, 5*time.Minute, cfg.LockTimeout)
	assert.Equal(t, "orchestrator:tasks-available", cfg.NotifyChannel)
}

func TestRetryConfig_Fields(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     1 * time.Minute,
		Multiplier:   2.0,
		Jitter:       true,
	}

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
}
