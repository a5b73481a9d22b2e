package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Lock.Parallel != 8 {
		t.Errorf("Lock.Parallel = %d, want 8", cfg.Lock.Parallel)
	}
	if cfg.Bus.Kind != "memory" {
		t.Errorf("Bus.Kind = %q, want memory", cfg.Bus.Kind)
	}
	if cfg.Log.LogLevel() != logrus.InfoLevel {
		t.Errorf("LogLevel() = %v, want info", cfg.Log.LogLevel())
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dblock.yaml")
	data := []byte("lock:\n  parallel: 3\nbus:\n  kind: redis\n  redis_addr: 10.0.0.1:6379\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DBLOCK_LOG_LEVEL", "debug")

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Lock.Parallel != 3 {
		t.Errorf("Lock.Parallel = %d, want 3", cfg.Lock.Parallel)
	}
	if cfg.Bus.RedisAddr != "10.0.0.1:6379" {
		t.Errorf("Bus.RedisAddr = %q", cfg.Bus.RedisAddr)
	}
	if cfg.Log.LogLevel() != logrus.DebugLevel {
		t.Errorf("LogLevel() = %v, want debug", cfg.Log.LogLevel())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Lock.Parallel = -1
	cfg.Log.Level = "loud"
	cfg.Bus.Kind = "kafka"
	cfg.Stress.Workers = 0
	errs := cfg.Validate()
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}

	v := viper.New()
	SetDefaults(v)
	v.Set("bus.kind", "nats")
	v.Set("bus.nats_url", "")
	_, err := Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Fatalf("expected one validation error, got %v", err)
	}
}
