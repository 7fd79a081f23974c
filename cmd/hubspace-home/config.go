package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hubspace-go-home/internal/auth"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/retry"
)

type Config struct {
	Account struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		ClientID string `yaml:"client_id"`
	} `yaml:"account"`
	API struct {
		BaseURL  string        `yaml:"base_url"`
		TokenURL string        `yaml:"token_url"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Auth struct {
		RefreshMargin time.Duration `yaml:"refresh_margin"`
		MaxAttempts   int           `yaml:"max_attempts"`
		InitialDelay  time.Duration `yaml:"initial_delay"`
		MaxDelay      time.Duration `yaml:"max_delay"`
	} `yaml:"auth"`
	Discovery struct {
		Interval     time.Duration `yaml:"interval"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"discovery"`
	Store struct {
		Driver string `yaml:"driver"` // "bolt" or "sqlite"
		Path   string `yaml:"path"`
	} `yaml:"store"`
	Web struct {
		Enabled        bool     `yaml:"enabled"`
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled         bool          `yaml:"enabled"`
		Broker          string        `yaml:"broker"`
		Username        string        `yaml:"username"`
		Password        string        `yaml:"password"`
		TopicPrefix     string        `yaml:"topic_prefix"`
		DiscoveryPrefix string        `yaml:"discovery_prefix"`
		PollInterval    time.Duration `yaml:"poll_interval"`
	} `yaml:"mqtt"`
	History struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Token   string `yaml:"token"`
		Org     string `yaml:"org"`
		Bucket  string `yaml:"bucket"`
	} `yaml:"history"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Account.ClientID = auth.DefaultClientID
	cfg.API.BaseURL = cloud.DefaultBaseURL
	cfg.API.TokenURL = auth.DefaultTokenURL
	cfg.API.Timeout = cloud.DefaultTimeout
	cfg.Auth.RefreshMargin = auth.DefaultMargin
	cfg.Auth.MaxAttempts = 3
	cfg.Auth.InitialDelay = time.Second
	cfg.Auth.MaxDelay = 10 * time.Second
	cfg.Discovery.Interval = 5 * time.Minute
	cfg.Discovery.MaxAttempts = 3
	cfg.Discovery.InitialDelay = 2 * time.Second
	cfg.Discovery.MaxDelay = 30 * time.Second
	cfg.Store.Driver = "bolt"
	cfg.Store.Path = "hubspace.db"
	cfg.Web.Enabled = true
	cfg.Web.Listen = ":8080"
	cfg.MQTT.TopicPrefix = "hubspace"
	cfg.MQTT.DiscoveryPrefix = "homeassistant"
	cfg.MQTT.PollInterval = 30 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// loadConfig reads the YAML file at path, expanding ${VAR} references from
// the environment, over the defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Account.Username == "" {
		return fmt.Errorf("account.username is required")
	}
	if c.Account.Password == "" {
		return fmt.Errorf("account.password is required")
	}
	switch c.Store.Driver {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("store.driver must be bolt or sqlite, got %q", c.Store.Driver)
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("discovery.interval must be positive, got %s", c.Discovery.Interval)
	}
	if c.Auth.MaxAttempts < 1 {
		return fmt.Errorf("auth.max_attempts must be at least 1, got %d", c.Auth.MaxAttempts)
	}
	if c.Discovery.MaxAttempts < 1 {
		return fmt.Errorf("discovery.max_attempts must be at least 1, got %d", c.Discovery.MaxAttempts)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.History.Enabled && (c.History.URL == "" || c.History.Org == "" || c.History.Bucket == "") {
		return fmt.Errorf("history.url, history.org and history.bucket are required when history is enabled")
	}
	return nil
}

func (c *Config) authPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Auth.MaxAttempts,
		InitialDelay: c.Auth.InitialDelay,
		MaxDelay:     c.Auth.MaxDelay,
		Multiplier:   2,
	}
}

func (c *Config) discoveryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Discovery.MaxAttempts,
		InitialDelay: c.Discovery.InitialDelay,
		MaxDelay:     c.Discovery.MaxDelay,
		Multiplier:   2,
	}
}
