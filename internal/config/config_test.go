package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"AUTH_SECRET", "BUSINESS_TIMEZONE", "BUSINESS_CURRENCY", "LOW_STOCK_THRESHOLD", "REPORT_CACHE_TTL_SECONDS", "PORT"} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret, "no weak auth default may be injected")
	assert.Equal(t, "Africa/Kampala", cfg.BusinessTimezone)
	assert.Equal(t, "UGX", cfg.BusinessCurrency)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Equal(t, time.Minute, cfg.ReportCacheTTL())
	assert.Equal(t, ":8080", cfg.Address())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Kampala", loc.String())
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNegativeThreshold(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "-1")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadTrimsSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.AuthSecret)
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}
