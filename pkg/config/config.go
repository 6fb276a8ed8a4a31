package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Gateways  map[string]GatewayConfig  `yaml:"gateways"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Calendar  CalendarConfig            `yaml:"calendar"`
	Email     EmailConfig               `yaml:"email"`
	Memory    MemoryConfig              `yaml:"memory"`
	Limits    LimitsConfig              `yaml:"limits"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type CalendarConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	CalendarID      string `yaml:"calendar_id"`
}

type EmailConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	Address         string `yaml:"address"`
	Enabled         bool   `yaml:"enabled"`
}

type MemoryConfig struct {
	Path string `yaml:"path"`
}

type LimitsConfig struct {
	MaxInflight  int           `yaml:"max_inflight"`
	StateTTL     time.Duration `yaml:"state_ttl"`
	HistoryTurns int           `yaml:"history_turns"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Environment variables win over file values for secrets.
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		tg := cfg.Gateways["telegram"]
		tg.Token = v
		if cfg.Gateways == nil {
			cfg.Gateways = map[string]GatewayConfig{}
		}
		cfg.Gateways["telegram"] = tg
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		dc := cfg.Gateways["discord"]
		dc.Token = v
		if cfg.Gateways == nil {
			cfg.Gateways = map[string]GatewayConfig{}
		}
		cfg.Gateways["discord"] = dc
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		for name, p := range cfg.Providers {
			if p.APIKey == "" {
				p.APIKey = v
				cfg.Providers[name] = p
			}
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Timezone == "" {
		c.App.Timezone = "Local"
	}
	if c.Limits.MaxInflight <= 0 {
		c.Limits.MaxInflight = 16
	}
	if c.Limits.StateTTL <= 0 {
		c.Limits.StateTTL = 30 * time.Minute
	}
	if c.Limits.HistoryTurns <= 0 {
		c.Limits.HistoryTurns = 5
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "concierge.db"
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = "primary"
	}
}

// GetDefaultProvider returns the first enabled provider.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGateway returns a gateway config if enabled and usable.
func (c *Config) GetGateway(name string) (GatewayConfig, bool) {
	gw, ok := c.Gateways[name]
	if ok && gw.Enabled && gw.Token != "" {
		return gw, true
	}
	return GatewayConfig{}, false
}
