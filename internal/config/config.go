package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port       string `yaml:"port"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr        string `yaml:"addr"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		TTL         string `yaml:"ttl"`
		EventPrefix string `yaml:"event_prefix"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Game struct {
		Questions       int    `yaml:"questions"`
		QuestionTimeout string `yaml:"question_timeout"`
		SettleDelay     string `yaml:"settle_delay"`
		LeadIn          string `yaml:"lead_in"`
		TickInterval    string `yaml:"tick_interval"`
		Category        string `yaml:"category"`
	} `yaml:"game"`
	Provider struct {
		// Kind is opentdb, postgres or static.
		Kind          string `yaml:"kind"`
		BaseURL       string `yaml:"base_url"`
		Timeout       string `yaml:"timeout"`
		Retries       int    `yaml:"retries"`
		RetryInterval string `yaml:"retry_interval"`
		PoolSize      int    `yaml:"pool_size"`
		PoolTTL       string `yaml:"pool_ttl"`
	} `yaml:"provider"`
	Explain struct {
		Enabled       bool   `yaml:"enabled"`
		BaseURL       string `yaml:"base_url"`
		Model         string `yaml:"model"`
		Timeout       string `yaml:"timeout"`
		RatePerMinute int    `yaml:"rate_per_minute"`
	} `yaml:"explain"`
	Leaderboard struct {
		Path string `yaml:"path"`
	} `yaml:"leaderboard"`
}

// Load reads YAML config from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets secrets and endpoints come from the environment (or .env).
func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"TRIVIA_ADMIN_TOKEN", &c.Server.AdminToken},
		{"OPENTDB_URL", &c.Provider.BaseURL},
		{"OLLAMA_URL", &c.Explain.BaseURL},
		{"OLLAMA_MODEL", &c.Explain.Model},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"POSTGRES_URL", &c.Postgres.URL},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// LogLevel maps the configured level name to a slog level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
