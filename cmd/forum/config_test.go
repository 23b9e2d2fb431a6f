package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("config.toml")
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("want shipped config valid, got %v", err)
	}
	if cfg.Backend != backendMemory {
		t.Errorf("want memory backend, got %q", cfg.Backend)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`backend = "postgres"`), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	want := defaultConfig()
	want.Backend = backendPostgres
	if cfg != want {
		t.Errorf("want config\n%+v\n\ngot config\n%+v\n", want, cfg)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("want error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.toml")
	os.WriteFile(path, []byte(`backend = `), 0o600)
	if _, err := loadConfig(path); err == nil {
		t.Error("want error for malformed file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "mongo", modify: func(c *Config) { c.Backend = backendMongo }},
		{name: "unknown backend", modify: func(c *Config) { c.Backend = "sqlite" }, wantErr: true},
		{name: "no port", modify: func(c *Config) { c.HTTPAddr = "localhost" }, wantErr: true},
		{name: "no db name", modify: func(c *Config) { c.Backend = backendPostgres; c.DBName = "" }, wantErr: true},
		{name: "kafka without topic", modify: func(c *Config) { c.KafkaAddr = "localhost:9092" }, wantErr: true},
		{name: "kafka", modify: func(c *Config) { c.KafkaAddr = "localhost:9092"; c.KafkaTopic = "logs" }},
		{name: "negative batch", modify: func(c *Config) { c.KafkaBatch = -1 }, wantErr: true},
		{name: "empty service name", modify: func(c *Config) { c.ServiceName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
