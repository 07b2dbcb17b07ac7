package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "deposync",
			User:     "postgres",
			Password: "postgres",
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		JWT: JWTConfig{
			SecretKey: strings.Repeat("k", 32),
			TokenTTL:  24 * time.Hour,
			Issuer:    "deposync",
		},
		PMS:      PMSConfig{BaseURL: "mock"},
		Scheme:   SchemeConfig{BaseURL: "mock"},
		Postcode: PostcodeConfig{BaseURL: "mock"},
		Retry: RetryConfig{
			PendingData:   RetryPolicy{BaseInterval: time.Hour, Multiplier: 2.0, MaxInterval: 24 * time.Hour},
			PendingSubmit: RetryPolicy{BaseInterval: 15 * time.Minute, Multiplier: 1.5, MaxInterval: 2 * time.Hour},
			MaxAttempts:   12,
			LeaseTimeout:  15 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 5 * time.Minute,
			BatchSize:    25,
			JobTimeout:   2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidateProductionConfig(t *testing.T) {
	t.Run("ValidConfigPasses", func(t *testing.T) {
		require.NoError(t, ValidateProductionConfig(validConfig()))
	})

	t.Run("ShortJWTSecretRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.JWT.SecretKey = "short"
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
	})

	t.Run("RealSchemeNeedsCredentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scheme.BaseURL = "https://api.depositscheme.example"
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SCHEME_API_KEY")
		assert.Contains(t, err.Error(), "SCHEME_MEMBER_ID")
	})

	t.Run("SubUnityMultiplierRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retry.PendingData.Multiplier = 0.5
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RETRY_PENDING_DATA_MULTIPLIER")
	})

	t.Run("MaxBelowBaseRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retry.PendingSubmit.MaxInterval = time.Minute
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RETRY_PENDING_SUBMIT_MAX")
	})

	t.Run("ZeroMaxAttemptsRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retry.MaxAttempts = 0
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RETRY_MAX_ATTEMPTS")
	})

	t.Run("BadLogLevelRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "verbose"
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LOG_LEVEL")
	})
}

func TestPolicyFor(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, cfg.Retry.PendingSubmit, cfg.Retry.PolicyFor(true))
	assert.Equal(t, cfg.Retry.PendingData, cfg.Retry.PolicyFor(false))
}
