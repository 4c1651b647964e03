// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the CLI reads from the environment.
type Config struct {
	// Compiler
	CompilerPath   string        `env:"CALLIGRAPHER_INKLECATE"`
	CompileTimeout time.Duration `env:"CALLIGRAPHER_COMPILE_TIMEOUT" envDefault:"60s"`

	// Narrative engine bridge, e.g. "node ./inkjs-bridge.js"
	EngineCommand string `env:"CALLIGRAPHER_ENGINE"`

	WatchInterval time.Duration `env:"CALLIGRAPHER_WATCH_INTERVAL" envDefault:"1s"`
	SaveDir       string        `env:"CALLIGRAPHER_SAVE_DIR" envDefault:"."`

	// logging
	LogLevel    string `env:"CALLIGRAPHER_LOG_LEVEL" envDefault:"warn"`
	LogEncoding string `env:"CALLIGRAPHER_LOG_ENCODING" envDefault:"console"`
	LogFile     string `env:"CALLIGRAPHER_LOG_FILE"`

	// Preview server
	ServeAddr      string `env:"CALLIGRAPHER_SERVE_ADDR" envDefault:"127.0.0.1:8080"`
	ServeRateLimit int    `env:"CALLIGRAPHER_SERVE_RATE_LIMIT" envDefault:"120"`

	// Resolved at load time, not read from the environment.
	ToolDir string
	HomeDir string
}

// Load reads the configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if exe, err := os.Executable(); err == nil {
		cfg.ToolDir = filepath.Dir(exe)
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HomeDir = home
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	if c.CompileTimeout < 0 {
		return fmt.Errorf("CALLIGRAPHER_COMPILE_TIMEOUT must not be negative")
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("CALLIGRAPHER_WATCH_INTERVAL must be positive")
	}
	if c.ServeRateLimit < 0 {
		return fmt.Errorf("CALLIGRAPHER_SERVE_RATE_LIMIT must not be negative")
	}
	if c.SaveDir == "" {
		c.SaveDir = "."
	}
	return nil
}

// DefaultSavePath is the save destination offered for a story file.
func (c *Config) DefaultSavePath(storyPath string) string {
	base := filepath.Base(storyPath)
	base = base[:len(base)-len(filepath.Ext(base))]
	return filepath.Join(c.SaveDir, base+".save.json")
}
