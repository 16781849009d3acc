package config_test

import (
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("CHALLENGE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_PASSWORD", "test-password")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Nil(t, cfg.Server.TrustedProxies)

	assert.Equal(t, 5, cfg.Risk.FailedAttemptsThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Risk.TimeWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.Risk.TrustDeviceDuration)
	assert.Equal(t, 0, cfg.Risk.UnusualHourStart)
	assert.Equal(t, 6, cfg.Risk.UnusualHourEnd)
	assert.Equal(t, 30, cfg.Risk.LowThreshold)
	assert.Equal(t, 60, cfg.Risk.MediumThreshold)
	assert.Equal(t, 80, cfg.Risk.HighThreshold)

	assert.Equal(t, 6, cfg.Otp.Length)
	assert.Equal(t, 5*time.Minute, cfg.Otp.Expiry)
	assert.Equal(t, 10, cfg.Otp.BackupCodeCount)

	assert.Equal(t, 5, cfg.RateLimit.MaxAttemptsPerWindow)
	assert.Equal(t, 1*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.BlockDuration)

	assert.Equal(t, 5*time.Minute, cfg.Challenge.TokenExpiry)
	assert.Equal(t, "Bastion", cfg.Challenge.TOTPIssuer)

	// Non-production defaults to the mock email sender
	assert.True(t, cfg.Email.Mock)
}

func TestLoad_ChallengeSecretRequired(t *testing.T) {
	t.Setenv("DB_PASSWORD", "test-password")
	t.Setenv("CHALLENGE_SECRET", "")

	_, err := config.Load()
	assert.ErrorContains(t, err, "CHALLENGE_SECRET")
}

func TestLoad_ChallengeSecretMinLength(t *testing.T) {
	t.Setenv("DB_PASSWORD", "test-password")
	t.Setenv("CHALLENGE_SECRET", "too-short")

	_, err := config.Load()
	assert.ErrorContains(t, err, "at least 16 characters")
}

func TestLoad_ProductionRequiresLongerSecret(t *testing.T) {
	t.Setenv("DB_PASSWORD", "test-password")
	t.Setenv("ENV", "production")
	t.Setenv("CHALLENGE_SECRET", "0123456789abcdef") // 16: fine in dev, not in prod

	_, err := config.Load()
	assert.ErrorContains(t, err, "at least 32 characters")
}

func TestLoad_DBPasswordRequired(t *testing.T) {
	t.Setenv("CHALLENGE_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_PASSWORD", "")

	_, err := config.Load()
	assert.ErrorContains(t, err, "DB_PASSWORD")
}

func TestLoad_RejectsInvalidHourRange(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RISK_UNUSUAL_HOUR_START", "8")
	t.Setenv("RISK_UNUSUAL_HOUR_END", "6")

	_, err := config.Load()
	assert.ErrorContains(t, err, "unusual hour range")
}

func TestLoad_RejectsNonIncreasingThresholds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RISK_LOW_THRESHOLD", "60")
	t.Setenv("RISK_MEDIUM_THRESHOLD", "60")

	_, err := config.Load()
	assert.ErrorContains(t, err, "strictly increasing")
}

func TestLoad_TrustedProxiesParsing(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12 ,")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_ATTEMPTS", "10")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("OTP_EXPIRY", "10m")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 10, cfg.RateLimit.MaxAttemptsPerWindow)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 10*time.Minute, cfg.Otp.Expiry)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dbCfg := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "bastion",
		Password: "secret",
		Name:     "bastion",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=bastion password=secret dbname=bastion sslmode=require",
		dbCfg.DSN())
}
