// Package config содержит логику чтения конфигурации сервиса совместных закупок.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultSweepInterval = time.Minute
	defaultLogLevel      = "info"
)

// Config содержит параметры конфигурации сервиса.
//
// Пустой DatabaseURI включает хранилище в памяти, пустой RedisAddress включает
// уведомления в журнал и блокировки внутри процесса.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	RedisAddress         string        `env:"REDIS_ADDRESS"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	OverdueSweepInterval time.Duration `env:"OVERDUE_SWEEP_INTERVAL"`
	LogLevel             string        `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for notifications and locks")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")
	flag.DurationVar(&cfg.OverdueSweepInterval, "i", defaultSweepInterval, "overdue credit sweep interval")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.RedisAddress != "" {
		cfg.RedisAddress = envCfg.RedisAddress
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}
	if envCfg.OverdueSweepInterval != 0 {
		cfg.OverdueSweepInterval = envCfg.OverdueSweepInterval
	}
	if envCfg.LogLevel != "" {
		cfg.LogLevel = envCfg.LogLevel
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	return cfg, nil
}
