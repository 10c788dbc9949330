package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	SimServerURL string `env:"SIM_SERVER_URL" envDefault:"ws://localhost:9000/ws"`
	DatabaseDSN  string `env:"DATABASE_DSN"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
