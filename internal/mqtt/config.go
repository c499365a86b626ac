package mqtt

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = 1883
	DefaultClientID = "dalybms-tool"
)

// Config is the broker connection file consumed by the daemon.
type Config struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// LoadConfig reads a YAML broker config. server and topic are required.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mqtt config: %w", err)
	}

	cfg := Config{Port: DefaultPort, ClientID: DefaultClientID}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse mqtt config %s: %w", path, err)
	}
	if cfg.Server == "" {
		return nil, errors.New("mqtt config: server is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt config: topic is required")
	}
	return &cfg, nil
}

func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Server, c.Port)
}

// SessionClientID returns the configured client id. The default (or empty)
// id gets a random suffix so several instances can share a broker.
func (c *Config) SessionClientID() string {
	if c.ClientID != "" && c.ClientID != DefaultClientID {
		return c.ClientID
	}
	return DefaultClientID + "-" + uuid.NewString()[:8]
}
