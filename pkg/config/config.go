package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for kalla-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, database passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3780"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// LLM endpoint configuration
	LLM LLMConfig `yaml:"llm"`

	// Session store configuration
	Session SessionConfig `yaml:"session"`

	// Durable session mirror (optional - mirroring is disabled when URL is empty)
	Mirror MirrorConfig `yaml:"mirror"`

	// Batch matching worker dispatch (optional - disabled when URL is empty)
	Worker WorkerConfig `yaml:"worker"`
}

// LLMConfig holds the structured-completion endpoint settings.
type LLMConfig struct {
	// Provider selects the transport: "openai" (any OpenAI-compatible
	// endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// TimeoutSeconds is the hard per-call deadline. Every model invocation
	// runs under context.WithTimeout with this value.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"60"`

	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
}

// Timeout returns the per-call deadline as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionConfig holds in-process session store settings.
type SessionConfig struct {
	// TTLHours is how long an idle session survives before eviction.
	TTLHours int `yaml:"ttl_hours" env:"SESSION_TTL_HOURS" env-default:"24"`
	// CleanupMinutes is the eviction janitor interval.
	CleanupMinutes int `yaml:"cleanup_minutes" env:"SESSION_CLEANUP_MINUTES" env-default:"10"`
}

// TTL returns the session expiry as a duration.
func (c *SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// CleanupInterval returns the janitor interval as a duration.
func (c *SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupMinutes) * time.Minute
}

// MirrorConfig holds the optional PostgreSQL session mirror settings.
type MirrorConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"kalla"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"kalla_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"5"`
}

// Enabled reports whether a mirror database is configured.
func (c *MirrorConfig) Enabled() bool {
	return c.Host != ""
}

// ConnectionString returns a PostgreSQL connection string.
func (c *MirrorConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the mirror as a pgx5:// URL, the form the migration
// tooling expects.
func (c *MirrorConfig) URL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// WorkerConfig holds NATS dispatch settings for the batch matching worker.
type WorkerConfig struct {
	NATSURL    string `yaml:"nats_url" env:"NATS_URL" env-default:""`
	OutputPath string `yaml:"output_path" env:"WORKER_OUTPUT_PATH" env-default:"results/"`
	// CallbackBase overrides the callback URL advertised to the worker.
	// Defaults to BaseURL + "/api/worker".
	CallbackBase string `yaml:"callback_base" env:"WORKER_CALLBACK_BASE" env-default:""`
}

// Enabled reports whether worker dispatch is configured.
func (c *WorkerConfig) Enabled() bool {
	return c.NATSURL != ""
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("llm timeout must be positive")
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	if cfg.Worker.CallbackBase == "" {
		cfg.Worker.CallbackBase = cfg.BaseURL + "/api/worker"
	}

	return cfg, nil
}
