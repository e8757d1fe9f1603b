package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
	Business  BusinessConfig
	Health    HealthConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	ShutdownTimeout string
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

// RedisConfig enables distributed loan locks when URL is set.
type RedisConfig struct {
	URL     string
	LockTTL string
}

// RabbitMQConfig enables event publishing and the journal relay when URL is set.
type RabbitMQConfig struct {
	URL               string
	Exchange          string
	JournalRoutingKey string
}

type SchedulerConfig struct {
	OutboxRelaySpec string
	AccrualSpec     string
	Timezone        string
	BatchSize       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type BusinessConfig struct {
	DefaultTenant     string
	DefaultStrategy   string
	WorkingDays       string
	NonWorkingDayRule string
	OutboxMaxAttempts int
}

type HealthConfig struct {
	Timeout string
}

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// a local .env only fills variables the environment does not set
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("REDIS_LOCK_TTL", "30s")
	v.SetDefault("RABBITMQ_EXCHANGE", "loan.events")
	v.SetDefault("RABBITMQ_JOURNAL_ROUTING_KEY", "journal.entries")
	v.SetDefault("OUTBOX_RELAY_SPEC", "*/10 * * * * *")
	v.SetDefault("ACCRUAL_SPEC", "0 30 0 * * *")
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("DEFAULT_PROCESSING_STRATEGY", "penalties-fees-interest-principal")
	v.SetDefault("WORKING_DAYS", "MON,TUE,WED,THU,FRI")
	v.SetDefault("NON_WORKING_DAY_RULE", "NEXT_WORKING_DAY")
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 5)
	v.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	// Read from environment variables
	v.AutomaticEnv()

	// Try to read from .env file (optional)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = v.ReadInConfig()

	config := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			Host:            v.GetString("SERVER_HOST"),
			Env:             v.GetString("ENV"),
			ShutdownTimeout: v.GetString("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("DATABASE_DRIVER"),
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL:     v.GetString("REDIS_URL"),
			LockTTL: v.GetString("REDIS_LOCK_TTL"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               v.GetString("RABBITMQ_URL"),
			Exchange:          v.GetString("RABBITMQ_EXCHANGE"),
			JournalRoutingKey: v.GetString("RABBITMQ_JOURNAL_ROUTING_KEY"),
		},
		Scheduler: SchedulerConfig{
			OutboxRelaySpec: v.GetString("OUTBOX_RELAY_SPEC"),
			AccrualSpec:     v.GetString("ACCRUAL_SPEC"),
			Timezone:        v.GetString("SCHEDULER_TIMEZONE"),
			BatchSize:       v.GetInt("OUTBOX_BATCH_SIZE"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Business: BusinessConfig{
			DefaultTenant:     v.GetString("DEFAULT_TENANT"),
			DefaultStrategy:   v.GetString("DEFAULT_PROCESSING_STRATEGY"),
			WorkingDays:       v.GetString("WORKING_DAYS"),
			NonWorkingDayRule: strings.ToUpper(v.GetString("NON_WORKING_DAY_RULE")),
			OutboxMaxAttempts: v.GetInt("OUTBOX_MAX_ATTEMPTS"),
		},
		Health: HealthConfig{
			Timeout: v.GetString("HEALTH_CHECK_TIMEOUT"),
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("DATABASE_MAX_OPEN_CONNS must be greater than 0")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("DATABASE_MAX_IDLE_CONNS cannot be negative")
	}

	if c.RabbitMQ.URL != "" && c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("RABBITMQ_EXCHANGE is required when RABBITMQ_URL is set")
	}

	if _, err := cronParser.Parse(c.Scheduler.OutboxRelaySpec); err != nil {
		return fmt.Errorf("OUTBOX_RELAY_SPEC must be a valid cron spec: %w", err)
	}
	if _, err := cronParser.Parse(c.Scheduler.AccrualSpec); err != nil {
		return fmt.Errorf("ACCRUAL_SPEC must be a valid cron spec: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid timezone: %w", err)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be greater than 0")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}

	if c.Business.DefaultTenant == "" {
		return fmt.Errorf("DEFAULT_TENANT is required")
	}
	if _, err := c.GetWorkingDays(); err != nil {
		return err
	}
	switch c.Business.NonWorkingDayRule {
	case "NEXT_WORKING_DAY", "PREVIOUS_WORKING_DAY", "SAME_DAY":
	default:
		return fmt.Errorf("NON_WORKING_DAY_RULE must be NEXT_WORKING_DAY, PREVIOUS_WORKING_DAY or SAME_DAY")
	}
	if c.Business.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be greater than 0")
	}

	durations := map[string]string{
		"SHUTDOWN_TIMEOUT":           c.Server.ShutdownTimeout,
		"DATABASE_CONN_MAX_LIFETIME": c.Database.ConnMaxLifetime,
		"REDIS_LOCK_TTL":             c.Redis.LockTTL,
		"HEALTH_CHECK_TIMEOUT":       c.Health.Timeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetWorkingDays parses the comma separated WORKING_DAYS list.
func (c *Config) GetWorkingDays() ([]time.Weekday, error) {
	var days []time.Weekday
	for _, name := range strings.Split(c.Business.WorkingDays, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		d, ok := weekdays[name]
		if !ok {
			return nil, fmt.Errorf("WORKING_DAYS contains unknown day %q", name)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("WORKING_DAYS must name at least one day")
	}
	return days, nil
}

// GetLocation returns the scheduler timezone
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetShutdownTimeout returns the graceful shutdown timeout as duration
func (c *Config) GetShutdownTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.ShutdownTimeout)
	return d
}

// GetConnMaxLifetime returns the pooled connection lifetime as duration
func (c *Config) GetConnMaxLifetime() time.Duration {
	d, _ := time.ParseDuration(c.Database.ConnMaxLifetime)
	return d
}

// GetLockTTL returns the redis lock lifetime as duration
func (c *Config) GetLockTTL() time.Duration {
	d, _ := time.ParseDuration(c.Redis.LockTTL)
	return d
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Health.Timeout)
	return timeout
}
