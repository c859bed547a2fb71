package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("DefaultsApplied", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, "database:\n  path: "+filepath.Join(dir, "crm.db")+"\n")

		cfg, err := Load(path)
		assert.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "08:00", cfg.Booking.DayStart)
		assert.Equal(t, "18:00", cfg.Booking.DayEnd)
		assert.Equal(t, 30, cfg.Booking.SlotDurationMinutes)
		assert.Equal(t, float64(50), cfg.RateLimit.RequestsPerSecond)
	})

	t.Run("EnvExpansion", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TEST_REDIS_ADDR", "localhost:6379")
		path := writeConfig(t, "database:\n  path: "+filepath.Join(dir, "crm.db")+"\nredis:\n  address: ${TEST_REDIS_ADDR}\n  cache_ttl_seconds: 120\n")

		cfg, err := Load(path)
		assert.NoError(t, err)
		assert.Equal(t, "localhost:6379", cfg.Redis.Address)
		assert.Equal(t, 2*time.Minute, cfg.CustomerCacheTTL())
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load("/does/not/exist.yaml")
		assert.Error(t, err)
	})
}
