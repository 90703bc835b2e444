package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/synthea-ws/genclient/internal/protocol"
)

type Config struct {
	Client  ClientConfig           `yaml:"client"`
	Request protocol.Configuration `yaml:"request"`
	Log     LogConfig              `yaml:"log"`
	Mock    MockConfig             `yaml:"mock"`
}

type ClientConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Transport string `yaml:"transport"`
	Token     string `yaml:"token"`
	// RESTBase defaults to the scheme and host of Endpoint.
	RESTBase         string        `yaml:"rest_base"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	HeartBeat        time.Duration `yaml:"heart_beat"`
	RESTTimeout      time.Duration `yaml:"rest_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File receives logs while the console owns the terminal. Empty discards them.
	File string `yaml:"file"`
}

type MockConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Token          string        `yaml:"token"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Interval       time.Duration `yaml:"interval"`
	MaxConnections int           `yaml:"max_connections"`
	// Retention is how long a finished request stays retrievable.
	Retention time.Duration `yaml:"retention"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Endpoint:         "ws://127.0.0.1:8080/ws",
			Transport:        "websocket",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			PongTimeout:      60 * time.Second,
			PingInterval:     30 * time.Second,
			HeartBeat:        10 * time.Second,
			RESTTimeout:      30 * time.Second,
		},
		Request: protocol.PopulationConfig(protocol.DefaultPopulation),
		Log: LogConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			Interval:       200 * time.Millisecond,
			MaxConnections: 64,
			Retention:      24 * time.Hour,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if cfg.Request == nil {
		cfg.Request = protocol.PopulationConfig(protocol.DefaultPopulation)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that an empty path or a missing file yields
// the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
