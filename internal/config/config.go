// Package config loads per-role environment configuration: cleanenv
// reads the process environment (falling back from an optional .env
// file), then validator checks required fields so a misconfigured
// node fails at startup instead of misbehaving once running.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads cfg from .env (if present) or the process environment,
// then validates it.
func Load[T any](cfg *T) error {
	if err := cleanenv.ReadConfig(".env", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("read env config: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
