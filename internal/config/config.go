package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer  string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string  `mapstructure:"AUTH_AUDIENCE"`
	AuthHMACKey string   `mapstructure:"AUTH_HMAC_KEY"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Billing policy. Default fees apply when a source record carries no
	// cost of its own; due offsets are days from invoice creation.
	DefaultFeeCheckup      float64 `mapstructure:"BILLING_DEFAULT_FEE_CHECKUP"`
	DefaultFeeProcedure    float64 `mapstructure:"BILLING_DEFAULT_FEE_PROCEDURE"`
	DefaultFeeLab          float64 `mapstructure:"BILLING_DEFAULT_FEE_LAB"`
	DefaultFeePrescription float64 `mapstructure:"BILLING_DEFAULT_FEE_PRESCRIPTION"`
	DueDaysCheckup         int     `mapstructure:"BILLING_DUE_DAYS_CHECKUP"`
	DueDaysProcedure       int     `mapstructure:"BILLING_DUE_DAYS_PROCEDURE"`
	DueDaysLab             int     `mapstructure:"BILLING_DUE_DAYS_LAB"`
	DueDaysPrescription    int     `mapstructure:"BILLING_DUE_DAYS_PRESCRIPTION"`
	AdvancePaymentPct      int     `mapstructure:"BILLING_ADVANCE_PAYMENT_PCT"`
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
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BILLING_DEFAULT_FEE_CHECKUP", 50)
	v.SetDefault("BILLING_DEFAULT_FEE_PROCEDURE", 0)
	v.SetDefault("BILLING_DEFAULT_FEE_LAB", 0)
	v.SetDefault("BILLING_DEFAULT_FEE_PRESCRIPTION", 10)
	v.SetDefault("BILLING_DUE_DAYS_CHECKUP", 7)
	v.SetDefault("BILLING_DUE_DAYS_PROCEDURE", 30)
	v.SetDefault("BILLING_DUE_DAYS_LAB", 15)
	v.SetDefault("BILLING_DUE_DAYS_PRESCRIPTION", 7)
	v.SetDefault("BILLING_ADVANCE_PAYMENT_PCT", 25)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_HMAC_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"BILLING_DEFAULT_FEE_CHECKUP", "BILLING_DEFAULT_FEE_PROCEDURE",
		"BILLING_DEFAULT_FEE_LAB", "BILLING_DEFAULT_FEE_PRESCRIPTION",
		"BILLING_DUE_DAYS_CHECKUP", "BILLING_DUE_DAYS_PROCEDURE",
		"BILLING_DUE_DAYS_LAB", "BILLING_DUE_DAYS_PRESCRIPTION",
		"BILLING_ADVANCE_PAYMENT_PCT",
	} {
		v.BindEnv(key)
	}

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

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// mode, a JWT validation path must be configured so real authentication is
// enforced.
func (c *Config) Validate() error {
	if c.IsDev() {
		return nil
	}
	if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthHMACKey == "" {
		return fmt.Errorf(
			"one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_HMAC_KEY must be set when ENV=%q; "+
				"refusing to start without authentication configuration", c.Env)
	}
	if c.DueDaysCheckup <= 0 || c.DueDaysProcedure <= 0 || c.DueDaysLab <= 0 || c.DueDaysPrescription <= 0 {
		return fmt.Errorf("billing due-day offsets must be positive")
	}
	return nil
}
