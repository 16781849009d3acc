package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Risk      RiskConfig
	Otp       OtpConfig
	RateLimit RateLimitConfig
	Challenge ChallengeConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	CleanupInterval time.Duration
	TrustedProxies  []string // CIDR ranges allowed to set forwarding headers
}

// RiskConfig tunes the risk scoring engine. Defaults mirror the documented
// scoring table: 5 failures in 24h, 30-day device trust, unusual hours 0-6
// inclusive, level thresholds 30/60/80.
type RiskConfig struct {
	FailedAttemptsThreshold int
	TimeWindow              time.Duration
	TrustDeviceDuration     time.Duration
	UnusualHourStart        int
	UnusualHourEnd          int // inclusive
	LowThreshold            int
	MediumThreshold         int
	HighThreshold           int
}

type OtpConfig struct {
	Length          int
	Expiry          time.Duration
	BackupCodeCount int
}

type RateLimitConfig struct {
	MaxAttemptsPerWindow int
	Window               time.Duration
	BlockDuration        time.Duration
}

type ChallengeConfig struct {
	SigningSecret string
	TokenExpiry   time.Duration
	TOTPIssuer    string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	Mock        bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	challengeSecret := getEnv("CHALLENGE_SECRET", "")
	if challengeSecret == "" {
		return nil, fmt.Errorf("CHALLENGE_SECRET is required")
	}
	if err := validateChallengeSecret(challengeSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TrustedProxies:  getEnvAsSlice("TRUSTED_PROXIES"),
		},
		Risk: RiskConfig{
			FailedAttemptsThreshold: getEnvAsInt("RISK_FAILED_ATTEMPTS_THRESHOLD", 5),
			TimeWindow:              getEnvAsDuration("RISK_TIME_WINDOW", 24*time.Hour),
			TrustDeviceDuration:     getEnvAsDuration("RISK_TRUST_DEVICE_DURATION", 30*24*time.Hour),
			UnusualHourStart:        getEnvAsInt("RISK_UNUSUAL_HOUR_START", 0),
			UnusualHourEnd:          getEnvAsInt("RISK_UNUSUAL_HOUR_END", 6),
			LowThreshold:            getEnvAsInt("RISK_LOW_THRESHOLD", 30),
			MediumThreshold:         getEnvAsInt("RISK_MEDIUM_THRESHOLD", 60),
			HighThreshold:           getEnvAsInt("RISK_HIGH_THRESHOLD", 80),
		},
		Otp: OtpConfig{
			Length:          getEnvAsInt("OTP_LENGTH", 6),
			Expiry:          getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			BackupCodeCount: getEnvAsInt("BACKUP_CODE_COUNT", 10),
		},
		RateLimit: RateLimitConfig{
			MaxAttemptsPerWindow: getEnvAsInt("RATE_LIMIT_ATTEMPTS", 5),
			Window:               getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			BlockDuration:        getEnvAsDuration("RATE_LIMIT_BLOCK_DURATION", 5*time.Minute),
		},
		Challenge: ChallengeConfig{
			SigningSecret: challengeSecret,
			TokenExpiry:   getEnvAsDuration("CHALLENGE_TOKEN_EXPIRY", 5*time.Minute),
			TOTPIssuer:    getEnv("TOTP_ISSUER", "Bastion"),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			Mock:        getEnvAsBool("EMAIL_MOCK", env != "production"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Risk.UnusualHourStart < 0 || cfg.Risk.UnusualHourEnd > 23 ||
		cfg.Risk.UnusualHourStart > cfg.Risk.UnusualHourEnd {
		return nil, fmt.Errorf("invalid unusual hour range [%d, %d]",
			cfg.Risk.UnusualHourStart, cfg.Risk.UnusualHourEnd)
	}

	if cfg.Risk.LowThreshold >= cfg.Risk.MediumThreshold ||
		cfg.Risk.MediumThreshold >= cfg.Risk.HighThreshold {
		return nil, fmt.Errorf("risk level thresholds must be strictly increasing")
	}

	return cfg, nil
}

// validateChallengeSecret enforces minimum strength for the challenge token
// signing secret.
func validateChallengeSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("CHALLENGE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
