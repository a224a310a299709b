// Package config loads engine settings: built-in defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// Scheduler timezones must resolve in minimal container images.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"shift-engine/internal/assignment"
	"shift-engine/internal/transfer"
)

type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Stream receives notifications when set.
	Stream       string `yaml:"stream"`
	StreamMaxLen int64  `yaml:"stream_max_len"`
}

type NotifyConfig struct {
	NATSURL     string        `yaml:"nats_url"`
	MQTTBroker  string        `yaml:"mqtt_broker"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	// Log also writes every notification to the service log.
	Log bool `yaml:"log"`
}

type AuditConfig struct {
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
	// Recent is how many events the API keeps in memory.
	Recent int `yaml:"recent"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
	// JobLock is "local" or "redis".
	JobLock        string        `yaml:"job_lock"`
	LookaheadDays  int           `yaml:"lookahead_days"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	NotifyWithin   time.Duration `yaml:"notify_within"`
	ActiveFrom     string        `yaml:"active_from"`
	ActiveTo       string        `yaml:"active_to"`
	GenerateAt     string        `yaml:"generate_at"`
	RebalanceAt    string        `yaml:"rebalance_at"`
	ExpireEvery    time.Duration `yaml:"expire_every"`
	TransferEvery  time.Duration `yaml:"transfer_every"`
	NotifyEvery    time.Duration `yaml:"notify_every"`
	RequestEvery   time.Duration `yaml:"request_every"`
	ReconcileEvery time.Duration `yaml:"reconcile_every"`
	SweepEvery     time.Duration `yaml:"sweep_every"`
}

type Config struct {
	Service   string            `yaml:"service"`
	HTTPAddr  string            `yaml:"http_addr"`
	Database  DatabaseConfig    `yaml:"database"`
	Redis     RedisConfig       `yaml:"redis"`
	Notify    NotifyConfig      `yaml:"notify"`
	Audit     AuditConfig       `yaml:"audit"`
	Log       LogConfig         `yaml:"log"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Scoring   assignment.Config `yaml:"scoring"`
	Transfers transfer.Config   `yaml:"transfers"`
}

func Default() *Config {
	return &Config{
		Service:  "shift-engine",
		HTTPAddr: ":8080",
		Database: DatabaseConfig{
			Driver:   "memory",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "shift_engine",
			SSLMode:  "disable",
			MaxConns: 20,
			MaxIdle:  5,
		},
		Redis:  RedisConfig{StreamMaxLen: 10000},
		Notify: NotifyConfig{CallTimeout: 10 * time.Second, Log: true},
		Audit:  AuditConfig{MongoDB: "shift_engine", Recent: 500},
		Log:    LogConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Timezone:       "UTC",
			JobLock:        "local",
			LookaheadDays:  7,
			JobTimeout:     5 * time.Minute,
			NotifyWithin:   2 * time.Hour,
			ActiveFrom:     "07:00",
			ActiveTo:       "22:00",
			GenerateAt:     "00:30",
			RebalanceAt:    "06:00",
			ExpireEvery:    2 * time.Hour,
			TransferEvery:  15 * time.Minute,
			NotifyEvery:    30 * time.Minute,
			RequestEvery:   15 * time.Minute,
			ReconcileEvery: 30 * time.Minute,
			SweepEvery:     time.Hour,
		},
		Scoring:   assignment.DefaultConfig(),
		Transfers: transfer.DefaultConfig(),
	}
}

// Load reads path (or SHIFT_ENGINE_CONFIG when path is empty) over the
// defaults and applies environment overrides. A missing file is not an error
// when no path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv("SHIFT_ENGINE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !explicit:
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Stream = getEnv("REDIS_NOTIFY_STREAM", cfg.Redis.Stream)

	cfg.Notify.NATSURL = getEnv("NATS_URL", cfg.Notify.NATSURL)
	cfg.Notify.MQTTBroker = getEnv("MQTT_BROKER", cfg.Notify.MQTTBroker)

	cfg.Audit.MongoURI = getEnv("MONGO_URI", cfg.Audit.MongoURI)
	cfg.Audit.MongoDB = getEnv("MONGO_DB", cfg.Audit.MongoDB)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Scheduler.Enabled = getEnvBool("SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.Timezone = getEnv("SCHEDULER_TIMEZONE", cfg.Scheduler.Timezone)
	cfg.Scheduler.JobLock = getEnv("JOB_LOCK", cfg.Scheduler.JobLock)

	if managers := getEnv("TRANSFER_MANAGERS", ""); managers != "" {
		cfg.Transfers.Managers = strings.Split(managers, ",")
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be memory or postgres, got %q", c.Database.Driver))
	}
	switch c.Scheduler.JobLock {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("scheduler.job_lock redis needs redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("scheduler.job_lock must be local or redis, got %q", c.Scheduler.JobLock))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if c.Scheduler.LookaheadDays < 1 {
		errs = append(errs, errors.New("scheduler.lookahead_days must be positive"))
	}
	if c.Transfers.MaxRetries < 0 {
		errs = append(errs, errors.New("transfers.max_retries must not be negative"))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the scheduler timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
