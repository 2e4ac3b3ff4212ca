package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg, which must be a pointer to a
// struct annotated with `env` and `envDefault` tags:
//
//	type Config struct {
//	    MaxConcurrentSagas int    `env:"SAGA_MAX_CONCURRENT" envDefault:"100"`
//	    LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
