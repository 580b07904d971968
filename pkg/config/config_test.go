package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, 10*time.Minute, cfg.PasswordReset.TokenTTL)
	assert.Equal(t, 5, cfg.PasswordReset.MaxAttempts)
	assert.Equal(t, "usd", cfg.Payments.Currency)
	assert.Equal(t, []string{"video/mp4", "video/webm", "video/quicktime"}, cfg.Storage.AllowedMIMEs)
	assert.Contains(t, cfg.Payments.SuccessURL, "{CHECKOUT_SESSION_ID}")
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENV", EnvProduction)
	t.Setenv("STORAGE_DRIVER", "S3")
	t.Setenv("NOTIFY_RETRY_DELAY", "250ms")
	t.Setenv("STRIPE_SUCCESS_URL", "https://academix.example/paid")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverS3, cfg.Storage.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Notifications.RetryDelay)
	assert.Equal(t, "https://academix.example/paid", cfg.Payments.SuccessURL)
	assert.False(t, cfg.IsDevelopment())
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a , ,b "))
}
