// Package config loads the settings of the dblock tools from files,
// environment variables and flags through viper.
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g. DBLOCK_LOCK_PARALLEL.
const EnvPrefix = "DBLOCK"

// Config represents the complete dblock configuration
type Config struct {
	Lock   LockConfig   `mapstructure:"lock"`
	Log    LogConfig    `mapstructure:"log"`
	Admin  AdminConfig  `mapstructure:"admin"`
	Bus    BusConfig    `mapstructure:"bus"`
	Stress StressConfig `mapstructure:"stress"`
}

// LockConfig controls the lock manager
type LockConfig struct {
	// Parallel is the maximum number of concurrently granted requests (0 = unbounded)
	Parallel int `mapstructure:"parallel"`
}

// LogConfig controls logging
type LogConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `mapstructure:"level"`
}

// AdminConfig controls the HTTP admin endpoints
type AdminConfig struct {
	// Addr is the listen address; empty disables the server
	Addr string `mapstructure:"addr"`
}

// BusConfig selects how lock events are propagated
type BusConfig struct {
	// Kind is one of: memory, redis, nats
	Kind      string `mapstructure:"kind"`
	RedisAddr string `mapstructure:"redis_addr"`
	NATSURL   string `mapstructure:"nats_url"`
}

// StressConfig shapes the generated workload
type StressConfig struct {
	Workers   int `mapstructure:"workers"`
	Requests  int `mapstructure:"requests"`
	Resources int `mapstructure:"resources"`
	// HoldMicros is the maximum time a worker keeps its locks
	HoldMicros int `mapstructure:"hold_micros"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Lock:   LockConfig{Parallel: 8},
		Log:    LogConfig{Level: "info"},
		Bus:    BusConfig{Kind: "memory", RedisAddr: "localhost:6379", NATSURL: "nats://127.0.0.1:4222"},
		Stress: StressConfig{Workers: 16, Requests: 200, Resources: 8, HoldMicros: 500},
	}
}

// SetDefaults registers default values and environment bindings with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("lock.parallel", defaults.Lock.Parallel)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("admin.addr", defaults.Admin.Addr)
	v.SetDefault("bus.kind", defaults.Bus.Kind)
	v.SetDefault("bus.redis_addr", defaults.Bus.RedisAddr)
	v.SetDefault("bus.nats_url", defaults.Bus.NATSURL)
	v.SetDefault("stress.workers", defaults.Stress.Workers)
	v.SetDefault("stress.requests", defaults.Stress.Requests)
	v.SetDefault("stress.resources", defaults.Stress.Resources)
	v.SetDefault("stress.hold_micros", defaults.Stress.HoldMicros)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ValidationErrors collects every problem found in a Config.
type ValidationErrors []error

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() []error {
	var errs []error
	if c.Lock.Parallel < 0 {
		errs = append(errs, fmt.Errorf("lock.parallel must not be negative, got %d", c.Lock.Parallel))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Bus.Kind {
	case "memory":
	case "redis":
		if c.Bus.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("bus.redis_addr is required for the redis bus"))
		}
	case "nats":
		if c.Bus.NATSURL == "" {
			errs = append(errs, fmt.Errorf("bus.nats_url is required for the nats bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.kind must be one of memory, redis, nats, got %q", c.Bus.Kind))
	}
	if c.Stress.Workers < 1 {
		errs = append(errs, fmt.Errorf("stress.workers must be at least 1"))
	}
	if c.Stress.Requests < 0 {
		errs = append(errs, fmt.Errorf("stress.requests must not be negative"))
	}
	if c.Stress.Resources < 1 {
		errs = append(errs, fmt.Errorf("stress.resources must be at least 1"))
	}
	return errs
}

// LogLevel returns the parsed log level, falling back to info.
func (c *LogConfig) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
