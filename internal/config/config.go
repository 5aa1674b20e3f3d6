package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// ABDM gateway credentials and environment selection.
	ABDMClientID     string `mapstructure:"ABDM_CLIENT_ID"`
	ABDMClientSecret string `mapstructure:"ABDM_CLIENT_SECRET"`
	ABDMEnv          string `mapstructure:"ABDM_ENV"`
	ABDMBaseURL      string `mapstructure:"ABDM_BASE_URL"`
	ABDMSessionURL   string `mapstructure:"ABDM_SESSION_URL"`
	ABDMTimeoutSecs  int    `mapstructure:"ABDM_TIMEOUT_SECS"`

	// TokenEncryptionKey protects refresh tokens at rest: 64 hex chars
	// (32 bytes). There is deliberately no fallback to a generated key —
	// a key that rotates on restart makes existing ciphertext unreadable.
	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`

	// ConsentSigningKeyFile points at a PEM-encoded RSA private key used
	// to sign consent tokens.
	ConsentSigningKeyFile string `mapstructure:"CONSENT_SIGNING_KEY_FILE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled     bool    `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string  `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string  `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ABDM_ENV", "sandbox")
	v.SetDefault("ABDM_TIMEOUT_SECS", 15)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("ABDM_CLIENT_ID")
	v.BindEnv("ABDM_CLIENT_SECRET")
	v.BindEnv("ABDM_ENV")
	v.BindEnv("ABDM_BASE_URL")
	v.BindEnv("ABDM_SESSION_URL")
	v.BindEnv("ABDM_TIMEOUT_SECS")
	v.BindEnv("TOKEN_ENCRYPTION_KEY")
	v.BindEnv("CONSENT_SIGNING_KEY_FILE")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Missing or
// malformed key material is a startup-time fatal condition, never a
// per-request soft failure.
func (c *Config) Validate() error {
	if c.ABDMClientID == "" || c.ABDMClientSecret == "" {
		return fmt.Errorf("ABDM_CLIENT_ID and ABDM_CLIENT_SECRET are required")
	}
	if c.ABDMEnv != "sandbox" && c.ABDMEnv != "production" {
		return fmt.Errorf("ABDM_ENV must be \"sandbox\" or \"production\", got %q", c.ABDMEnv)
	}
	if c.IsProduction() && c.ABDMEnv != "production" {
		return fmt.Errorf("ABDM_ENV must be \"production\" when ENV is production")
	}

	if c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	keyBytes, err := hex.DecodeString(c.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}

	if c.ConsentSigningKeyFile == "" {
		return fmt.Errorf("CONSENT_SIGNING_KEY_FILE is required")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
