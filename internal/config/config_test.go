package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
client:
  endpoint: "wss://gen.example.org/stomp"
  transport: stomp
  token: "s3cret"
  ping_interval: 15s
request:
  population: 10
  seed: 42
  state: Massachusetts
log:
  level: debug
  file: /tmp/genclient.log
mock:
  port: 9090
  interval: 50ms
  allowed_origins:
    - "http://localhost:3000"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Client.Endpoint != "wss://gen.example.org/stomp" {
		t.Errorf("Client.Endpoint = %q", cfg.Client.Endpoint)
	}
	if cfg.Client.Transport != "stomp" {
		t.Errorf("Client.Transport = %q, want stomp", cfg.Client.Transport)
	}
	if cfg.Client.PingInterval != 15*time.Second {
		t.Errorf("Client.PingInterval = %v, want 15s", cfg.Client.PingInterval)
	}
	if n, _ := cfg.Request.Population(); n != 10 {
		t.Errorf("Request population = %d, want 10", n)
	}
	if seed, _ := cfg.Request.Seed(); seed != 42 {
		t.Errorf("Request seed = %d, want 42", seed)
	}
	if s, _ := cfg.Request.String("state"); s != "Massachusetts" {
		t.Errorf("Request state = %q", s)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Mock.Port != 9090 || cfg.Mock.Interval != 50*time.Millisecond {
		t.Errorf("Mock = %+v", cfg.Mock)
	}
	if len(cfg.Mock.AllowedOrigins) != 1 {
		t.Errorf("Mock.AllowedOrigins = %v", cfg.Mock.AllowedOrigins)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Client.PongTimeout != 60*time.Second {
		t.Errorf("Client.PongTimeout = %v, want default 60s", cfg.Client.PongTimeout)
	}
	if cfg.Mock.Host != "127.0.0.1" {
		t.Errorf("Mock.Host = %q, want default", cfg.Mock.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefault(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/path/config.yaml"} {
		cfg, err := LoadOrDefault(path)
		if err != nil {
			t.Fatalf("LoadOrDefault(%q) error: %v", path, err)
		}
		if cfg.Client.Endpoint != "ws://127.0.0.1:8080/ws" {
			t.Errorf("Client.Endpoint = %q, want default", cfg.Client.Endpoint)
		}
		if n, _ := cfg.Request.Population(); n != 50 {
			t.Errorf("Request population = %d, want default 50", n)
		}
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Fatal("LoadOrDefault() with invalid YAML should return error")
	}
}
