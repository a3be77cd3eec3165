package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the service configuration.
type Config struct {
	ListenAddr    string        `yaml:"listenAddr"`
	DataRoot      string        `yaml:"dataRoot"`
	NatsURL       string        `yaml:"natsURL"`
	AuthServerURL string        `yaml:"authServerURL"`
	JwksURL       string        `yaml:"jwksURL"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	MaxResults    int           `yaml:"maxResults"`
	BatchSize     int           `yaml:"batchSize"`
	Fetch         FetchConfig   `yaml:"fetch"`
}

// FetchConfig selects how much message detail sync requests from
// providers.
type FetchConfig struct {
	Headers bool `yaml:"headers"`
	Body    bool `yaml:"body"`
	Labels  bool `yaml:"labels"`
}

// Load reads the configuration from the specified YAML file and applies
// defaults for omitted fields.
func Load(filepath string) (*Config, error) {
	configFile, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(configFile, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DataRoot == "" {
		c.DataRoot = "data"
	}
	if c.NatsURL == "" {
		c.NatsURL = "nats://127.0.0.1:4222"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
}
