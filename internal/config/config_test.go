package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("CONTACTSYNC_STORE_DRIVER", "memory")
	t.Setenv("CONTACTSYNC_API_BASE_URL", "http://remote.test")
	t.Setenv("CONTACTSYNC_RETRY_BASE_DELAY", "250ms")
	t.Setenv("CONTACTSYNC_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("CONTACTSYNC_REMOTE_BATCH_SIZE", "50")
	t.Setenv("CONTACTSYNC_DEFAULT_COUNTRY_CODE", "+44")

	cfg, err := New(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "http://remote.test", cfg.APIBaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 7, cfg.RetryMaxAttempts)
	assert.Equal(t, 50, cfg.RemoteBatchSize)
	assert.Equal(t, "+44", cfg.DefaultCountryCode)
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("CONTACTSYNC_STORE_DRIVER", "memory")

	cfg, err := New(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.LocalBatchSize)
	assert.Equal(t, 100, cfg.RemoteBatchSize)
	assert.Equal(t, 5*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 0, cfg.RetryMaxAttempts)
	assert.Equal(t, "+33", cfg.DefaultCountryCode)
	assert.Equal(t, 3*time.Second, cfg.StatsTTL)
}

func TestResolveDefaults(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		c := &Config{StoreDriver: "mongo"}
		require.Error(t, c.ResolveDefaults())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		c := &Config{StoreDriver: DriverPostgres}
		require.Error(t, c.ResolveDefaults())
	})

	t.Run("sqlite path derived", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		c := &Config{StoreDriver: DriverSQLite}
		require.NoError(t, c.ResolveDefaults())
		assert.Contains(t, c.SQLitePath, defaultDataDir)
	})

	t.Run("remote batch clamped to local batch", func(t *testing.T) {
		c := &Config{StoreDriver: DriverMemory, LocalBatchSize: 20, RemoteBatchSize: 100}
		require.NoError(t, c.ResolveDefaults())
		assert.Equal(t, 20, c.RemoteBatchSize)
	})
}

func TestNewForTesting(t *testing.T) {
	cfg := NewForTesting()
	assert.True(t, cfg.IsTesting())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, ":8088", cfg.GetDevRemoteAddr())
}
