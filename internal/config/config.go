package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/lazypower/stepwise/internal/logging"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "STEPWISE_"

// Config holds all stepwise configuration. Every field is read from the
// environment; defaults live in the envDefault tags.
type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Client   ClientConfig   `envPrefix:"CLIENT_"`
	Steps    StepsConfig    `envPrefix:"STEPS_"`
}

type ServerConfig struct {
	Bind string `env:"BIND" envDefault:"127.0.0.1"`
	Port int    `env:"PORT" envDefault:"5001"`
}

type DatabaseConfig struct {
	Path string `env:"PATH"` // empty: resolved at runtime via store.DefaultDBPath()
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"` // "text" or "json"
}

type ClientConfig struct {
	URL     string        `env:"URL" envDefault:"http://127.0.0.1:5001"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type StepsConfig struct {
	DefaultLimit int `env:"DEFAULT_LIMIT" envDefault:"50"`
	MaxLimit     int `env:"MAX_LIMIT" envDefault:"500"`
}

// Default returns a Config with only the tag defaults applied.
func Default() Config {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		// Tag defaults are constants; a failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(environMap(os.Environ()))
}

// LoadFrom reads configuration from the given environment map.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid %sSERVER_PORT %d", EnvPrefix, c.Server.Port)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("invalid %sLOG_FORMAT: %w", EnvPrefix, err)
	}
	if c.Steps.DefaultLimit < 0 || c.Steps.MaxLimit < 0 {
		return fmt.Errorf("step limits must be non-negative")
	}
	if c.Steps.MaxLimit > 0 && c.Steps.DefaultLimit > c.Steps.MaxLimit {
		c.Steps.DefaultLimit = c.Steps.MaxLimit
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return logging.ParseLevel(c.Log.Level)
}

// LogFormat returns the configured log format. validate has already
// rejected unknown values.
func (c *Config) LogFormat() logging.Format {
	f, _ := logging.ParseFormat(c.Log.Format)
	return f
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
