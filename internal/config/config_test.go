package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "")

	cfg := Load()

	assert.Equal(t, 3*time.Second, cfg.Payment.PollInterval)
	assert.Equal(t, 20, cfg.Payment.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Payment.MarkerTTL)
	assert.Equal(t, 5*time.Second, cfg.Payment.CleanupMinDelay)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "250ms")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "7")
	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("LOG_PROD", "false")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.Payment.PollInterval)
	assert.Equal(t, 7, cfg.Payment.MaxAttempts)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.False(t, cfg.Log.Prod)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "many")
	t.Setenv("PAYMENT_POLL_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 20, cfg.Payment.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Payment.PollInterval)
}

func TestValidate(t *testing.T) {
	t.Run("release requires secret", func(t *testing.T) {
		cfg := &Config{
			Server:  ServerConfig{Mode: "release"},
			Backend: BackendConfig{URL: "http://backend"},
			Payment: PaymentConfig{MaxAttempts: 20},
			Storage: StorageConfig{Driver: "memory"},
		}
		require.Error(t, cfg.Validate())

		cfg.Session.CookieSecret = "short"
		require.Error(t, cfg.Validate())

		cfg.Session.CookieSecret = "0123456789abcdef0123456789abcdef"
		require.NoError(t, cfg.Validate())
	})

	t.Run("debug mode skips secret check", func(t *testing.T) {
		cfg := &Config{
			Server:  ServerConfig{Mode: "debug"},
			Backend: BackendConfig{URL: "http://backend"},
			Payment: PaymentConfig{MaxAttempts: 20},
			Storage: StorageConfig{Driver: "memory"},
		}
		require.NoError(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := &Config{
			Server:  ServerConfig{Mode: "debug"},
			Backend: BackendConfig{URL: "http://backend"},
			Payment: PaymentConfig{MaxAttempts: 20},
			Storage: StorageConfig{Driver: "sqlite"},
		}
		assert.Error(t, cfg.Validate())
	})
}
