package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/asmrgen?parseTime=true")
	t.Setenv("KIE_API_KEY", "kie-key")
	t.Setenv("CREEM_TEST_API_KEY", "creem-test-key")
	t.Setenv("CREEM_API_KEY", "creem-live-key")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET", "asmrgen-media")
	t.Setenv("S3_PUBLIC_BASE_URL", "https://media.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.Production)
	assert.Equal(t, 10, cfg.CreditsPerVideo)
	assert.Equal(t, 20, cfg.SignupCredits)
	assert.Equal(t, 5*time.Minute, cfg.DownloadInactivityTimeout)
	assert.Equal(t, PaymentEnvTest, cfg.Payment.Environment)
}

func TestLoadTestEnvironmentSelectsTestCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "creem-test-key", cfg.Payment.APIKey())
	assert.Equal(t, "https://test-api.creem.io", cfg.Payment.BaseURL())
	assert.Equal(t, "https://www.creem.io/test/payment", cfg.Payment.CheckoutBaseURL())
}

func TestLoadLiveEnvironmentSelectsLiveCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_ENV", "live")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "creem-live-key", cfg.Payment.APIKey())
	assert.Equal(t, "https://api.creem.io", cfg.Payment.BaseURL())
	assert.Equal(t, "https://www.creem.io/payment", cfg.Payment.CheckoutBaseURL())
}

func TestLoadRejectsUnknownPaymentEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_ENV", "staging")

	_, err := Load()
	assert.ErrorContains(t, err, "PAYMENT_ENV")
}

func TestLoadCollectsAllMissingVars(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("KIE_API_KEY", "")
	t.Setenv("S3_BUCKET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "KIE_API_KEY")
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestLoadMissingLiveKeyNamesLiveVar(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_ENV", "live")
	t.Setenv("CREEM_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREEM_API_KEY")
}

func TestLoadProductionFlag(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production)
}
