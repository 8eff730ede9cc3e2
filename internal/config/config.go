package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// FileName is the config file read from the home directory.
const FileName = "config.yaml"

// Config is the server configuration, loaded from <home>/config.yaml. Zero
// values fall back to defaults; a missing file yields Default().
type Config struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`

	DB struct {
		Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
		URL    string `yaml:"url"`
	} `yaml:"db"`

	Agent struct {
		BaseURL        string `yaml:"base_url"` // empty means stub collaborators
		APIKey         string `yaml:"api_key"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"agent"`

	Chat struct {
		HistoryWindow int `yaml:"history_window"`
	} `yaml:"chat"`

	CascadeDelete bool `yaml:"cascade_delete"`
	Seed          bool `yaml:"seed"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	c.Addr = "127.0.0.1:8815"
	c.DB.Driver = "sqlite"
	c.Agent.TimeoutSeconds = int(agent.DefaultTimeout / time.Second)
	c.Chat.HistoryWindow = models.DefaultChatHistoryWindow
	c.Seed = true
	return c
}

// Load reads <home>/config.yaml, filling unset fields with defaults. A
// missing file is not an error.
func Load(home string) (Config, error) {
	c := Default()
	path := filepath.Join(home, FileName)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// Save writes the config to <home>/config.yaml, creating home if needed.
func Save(home string, c Config) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(home, FileName), b, 0o644)
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.DB.Driver == "" {
		c.DB.Driver = d.DB.Driver
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = d.Agent.TimeoutSeconds
	}
	if c.Chat.HistoryWindow <= 0 {
		c.Chat.HistoryWindow = d.Chat.HistoryWindow
	}
}

// AgentTimeout returns the collaborator call timeout as a duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// Roster builds the collaborator roster: LLM-backed when a base URL is
// configured, stubs otherwise.
func (c Config) Roster() agent.Roster {
	if c.Agent.BaseURL == "" {
		return agent.StubRoster()
	}
	return agent.ClientRoster(&agent.Client{
		BaseURL: c.Agent.BaseURL,
		APIKey:  c.Agent.APIKey,
		Model:   c.Agent.Model,
		Timeout: c.AgentTimeout(),
	})
}
