// Package config содержит логику чтения конфигурации движка лояльности.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации движка лояльности.
type Config struct {
	RunAddress            string        `env:"RUN_ADDRESS"`
	DatabaseURI           string        `env:"DATABASE_URI"`
	AuthSecret            string        `env:"AUTH_SECRET"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL"`
	SweepBatchSize        int           `env:"SWEEP_BATCH_SIZE"`
	PointsRetentionMonths int           `env:"POINTS_RETENTION_MONTHS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envSweepInterval := cfg.SweepInterval
	envSweepBatchSize := cfg.SweepBatchSize
	envRetentionMonths := cfg.PointsRetentionMonths

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for signed identity tokens")
	flag.DurationVar(&cfg.SweepInterval, "i", 24*time.Hour, "expiry sweep interval")
	flag.IntVar(&cfg.SweepBatchSize, "b", 500, "expiry sweep batch size")
	flag.IntVar(&cfg.PointsRetentionMonths, "m", 6, "earned points retention in months")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}
	if envSweepBatchSize != 0 {
		cfg.SweepBatchSize = envSweepBatchSize
	}
	if envRetentionMonths != 0 {
		cfg.PointsRetentionMonths = envRetentionMonths
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
