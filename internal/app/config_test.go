package app

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the test and restores them afterwards. envconfig
// treats a set but empty variable as a value, so t.Setenv(key, "") is not enough.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if prev, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, prev) })
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "APP_ENV", "APP_ADDR", "AR_AGING_CACHE_TTL", "AR_APPLY_LOCK_TTL", "AR_AGING_REFRESH_CRON",
		"AR_IDEMPOTENCY_RETENTION", "WORKER_CONCURRENCY", "RATE_LIMIT_PER_MINUTE", "PG_DSN")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.AgingCacheTTL)
	require.Equal(t, 15*time.Second, cfg.ApplyLockTTL)
	require.Equal(t, "20 1 * * *", cfg.AgingRefreshCron)
	require.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsNonPositiveJobSettings(t *testing.T) {
	t.Setenv("AR_IDEMPOTENCY_RETENTION", "0s")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "AR_IDEMPOTENCY_RETENTION")

	t.Setenv("AR_IDEMPOTENCY_RETENTION", "72h")
	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "WORKER_CONCURRENCY")
}

func TestLoadConfigOverridesAndValidation(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AR_APPLY_LOCK_TTL", "30s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 30*time.Second, cfg.ApplyLockTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)

	t.Setenv("AR_APPLY_LOCK_TTL", "10ms")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("AR_APPLY_LOCK_TTL", "15s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "abc")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	require.False(t, InTestMode())
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"msg":"shown"`)
}
