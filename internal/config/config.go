package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engine.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port string `mapstructure:"SERVER_PORT"`
	Host string `mapstructure:"SERVER_HOST"`
	Env  string `mapstructure:"ENV"`
}

type DatabaseConfig struct {
	URL           string `mapstructure:"DATABASE_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	MaxOpenConns  int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns  int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type LedgerConfig struct {
	BaseURL     string `mapstructure:"LEDGER_BASE_URL"`
	Timeout     string `mapstructure:"LEDGER_TIMEOUT"`
	MaxAttempts int    `mapstructure:"LEDGER_MAX_ATTEMPTS"`
}

type SchedulerConfig struct {
	AdvanceSpec string `mapstructure:"SCHEDULER_ADVANCE_SPEC"`
	OverdueSpec string `mapstructure:"SCHEDULER_OVERDUE_SPEC"`
	OutboxSpec  string `mapstructure:"SCHEDULER_OUTBOX_SPEC"`
	Timezone    string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// BusinessConfig carries the policy knobs the engine refuses to hard-code.
// The rotation missed-round limit and plan overdue limit have no defaults:
// operators must choose them explicitly.
type BusinessConfig struct {
	MinUpfrontPercent int `mapstructure:"MIN_UPFRONT_PERCENT"`

	// Markup table, basis points keyed by supported term length.
	MarkupBps6M  int64 `mapstructure:"MARKUP_BPS_6M"`
	MarkupBps12M int64 `mapstructure:"MARKUP_BPS_12M"`

	// Consecutive rounds a member may miss before their payout is forfeited.
	RotationMissedRoundLimit int `mapstructure:"ROTATION_MISSED_ROUND_LIMIT"`

	// Consecutive overdue installments before a plan is defaulted.
	PlanOverdueLimit int `mapstructure:"PLAN_OVERDUE_LIMIT"`
}

// MarkupTable maps a term in months to its markup rate in basis points.
func (b BusinessConfig) MarkupTable() map[int]int64 {
	return map[int]int64{
		6:  b.MarkupBps6M,
		12: b.MarkupBps12M,
	}
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("MIGRATIONS_DIR", "migrations")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("LEDGER_TIMEOUT", "10s")
	viper.SetDefault("LEDGER_MAX_ATTEMPTS", 8)
	viper.SetDefault("SCHEDULER_ADVANCE_SPEC", "0 */5 * * * *")
	viper.SetDefault("SCHEDULER_OVERDUE_SPEC", "0 0 0 * * *")
	viper.SetDefault("SCHEDULER_OUTBOX_SPEC", "0 * * * * *")
	viper.SetDefault("SCHEDULER_TIMEZONE", "Africa/Lagos")
	viper.SetDefault("MIN_UPFRONT_PERCENT", 10)
	viper.SetDefault("MARKUP_BPS_6M", 1000)
	viper.SetDefault("MARKUP_BPS_12M", 2000)

	viper.AutomaticEnv()

	// Optional .env file; absence is fine.
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./deployments")
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration before anything starts.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Business.MinUpfrontPercent < 0 || c.Business.MinUpfrontPercent > 100 {
		return fmt.Errorf("MIN_UPFRONT_PERCENT must be between 0 and 100")
	}
	if c.Business.MarkupBps6M < 0 || c.Business.MarkupBps12M < 0 {
		return fmt.Errorf("markup rates must not be negative")
	}
	if c.Business.RotationMissedRoundLimit <= 0 {
		return fmt.Errorf("ROTATION_MISSED_ROUND_LIMIT is required and must be greater than 0")
	}
	if c.Business.PlanOverdueLimit <= 0 {
		return fmt.Errorf("PLAN_OVERDUE_LIMIT is required and must be greater than 0")
	}
	if c.Ledger.MaxAttempts <= 0 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be greater than 0")
	}
	if _, err := time.ParseDuration(c.Ledger.Timeout); err != nil {
		return fmt.Errorf("LEDGER_TIMEOUT must be a valid duration: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid location: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the service runs in a dev environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// LedgerTimeout returns the ledger call timeout as a duration.
func (c *Config) LedgerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Ledger.Timeout)
	return d
}
