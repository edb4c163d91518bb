package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chargx/storefront-gateway/internal/config"
)

func TestLoadSelectsKeysByMode(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                   "redis://localhost:6379/0",
		"CHARGX_TEST_MODE":            "true",
		"CHARGX_PUBLISHABLE_KEY":      "pk_live_abc",
		"CHARGX_SECRET_KEY":           "sk_live_abc",
		"CHARGX_TEST_PUBLISHABLE_KEY": "pk_test_abc",
		"CHARGX_TEST_SECRET_KEY":      "sk_test_abc",
	})
	require.NoError(t, err)
	require.Equal(t, "pk_test_abc", cfg.ActivePublishableKey())
	require.Equal(t, "sk_test_abc", cfg.ActiveSecretKey())

	cfg, err = config.LoadForTests(map[string]string{
		"REDIS_URL":                   "redis://localhost:6379/0",
		"CHARGX_TEST_MODE":            "false",
		"CHARGX_PUBLISHABLE_KEY":      "pk_live_abc",
		"CHARGX_SECRET_KEY":           "sk_live_abc",
		"CHARGX_TEST_PUBLISHABLE_KEY": "pk_test_abc",
		"CHARGX_TEST_SECRET_KEY":      "sk_test_abc",
	})
	require.NoError(t, err)
	require.Equal(t, "pk_live_abc", cfg.ActivePublishableKey())
	require.Equal(t, "sk_live_abc", cfg.ActiveSecretKey())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                   "redis://localhost:6379/0",
		"CHARGX_TEST_MODE":            "true",
		"CHARGX_TEST_PUBLISHABLE_KEY": "pk_test_abc",
		"CHARGX_CAPTURE_MODE":         "",
		"CHARGX_HTTP_TIMEOUT":         "",
	})
	require.NoError(t, err)
	require.Equal(t, "https://api.chargx.io", cfg.ProcessorBaseURL)
	require.Equal(t, "https://api.chargx.io/admin", cfg.ProcessorAdminURL)
	require.Equal(t, config.CaptureModeSale, cfg.CaptureMode)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.False(t, cfg.AppleConfigured())
}

func TestLoadRejectsMissingPublishableKey(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                   "redis://localhost:6379/0",
		"CHARGX_TEST_MODE":            "true",
		"CHARGX_TEST_PUBLISHABLE_KEY": "",
		"CHARGX_PUBLISHABLE_KEY":      "",
	})
	require.Error(t, err)
}

func TestLoadRejectsBadCaptureMode(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                   "redis://localhost:6379/0",
		"CHARGX_TEST_PUBLISHABLE_KEY": "pk_test_abc",
		"CHARGX_CAPTURE_MODE":         "hold",
	})
	require.Error(t, err)
}
