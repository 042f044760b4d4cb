package config

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// QuickBooks environment names accepted for QB_ENVIRONMENT. They select
// which QuickBooks API host the gateway proxies to.
const (
	QBSandbox    = "sandbox"
	QBProduction = "production"
)

// Config holds all environment-based configuration for books-gateway.
type Config struct {
	// QuickBooks app credentials (always required)
	ClientID     string `env:"QB_CLIENT_ID"`
	ClientSecret string `env:"QB_CLIENT_SECRET"`

	// OAuth redirect URI registered for the app. Must point at the
	// callback route this gateway exposes, e.g.
	// http://localhost:3000/auth/callback.
	RedirectURI string `env:"QB_REDIRECT_URI"`

	// QuickBooks environment to proxy to: "sandbox" or "production".
	QBEnvironment string `env:"QB_ENVIRONMENT" envDefault:"sandbox"`

	// TCP port the HTTP server listens on.
	Port int `env:"PORT" envDefault:"3000"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("QB_CLIENT_ID is required")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("QB_CLIENT_SECRET is required")
	}

	if c.RedirectURI == "" {
		return fmt.Errorf("QB_REDIRECT_URI is required")
	}

	if c.QBEnvironment != QBSandbox && c.QBEnvironment != QBProduction {
		return fmt.Errorf("QB_ENVIRONMENT must be %q or %q, got %q", QBSandbox, QBProduction, c.QBEnvironment)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	return nil
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
