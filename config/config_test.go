// pdfextract/config/config_test.go
package config_test // Use an external test package

import (
	"testing"
	"time"

	"pdfextract/config" // Import the package we are testing

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("PDFEXTRACT_PORT", "")
		t.Setenv("PDFEXTRACT_WORKER_COUNT", "")
		t.Setenv("PDFEXTRACT_AUTH_ENABLE", "")
		t.Setenv("PDFEXTRACT_TASK_TIMEOUT", "")
		t.Setenv("PDFEXTRACT_MAX_FILE_SIZE", "")
		t.Setenv("PDFEXTRACT_STORE_DRIVER", "")

		cfg, err := config.Load() // Use the package prefix
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "memory", cfg.StoreDriver)
		assert.Equal(t, 3, cfg.WorkerCount)
		assert.Equal(t, 100, cfg.QueueCapacity)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, time.Hour, cfg.TaskExpiry)
		assert.Equal(t, time.Second, cfg.PollInterval)
		assert.Equal(t, 5*time.Minute, cfg.TaskTimeout)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSize)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("PDFEXTRACT_PORT", "9999")
		t.Setenv("PDFEXTRACT_WORKER_COUNT", "10")
		t.Setenv("PDFEXTRACT_QUEUE_CAPACITY", "5")
		t.Setenv("PDFEXTRACT_AUTH_ENABLE", "true")
		t.Setenv("PDFEXTRACT_AUTH_KEY", "newsecret")
		t.Setenv("PDFEXTRACT_STORE_DRIVER", "redis")
		t.Setenv("PDFEXTRACT_REDIS_ADDR", "redis:6380")
		t.Setenv("PDFEXTRACT_POLL_INTERVAL", "250ms")
		t.Setenv("PDFEXTRACT_MAX_FILE_SIZE", "10MB")

		cfg, err := config.Load() // Use the package prefix
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 10, cfg.WorkerCount)
		assert.Equal(t, 5, cfg.QueueCapacity)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, "redis", cfg.StoreDriver)
		assert.Equal(t, "redis:6380", cfg.RedisAddr)
		assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	})
}
