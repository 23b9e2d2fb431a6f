package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	backendMemory   = "memory"
	backendMongo    = "mongo"
	backendPostgres = "postgres"
)

type Config struct {
	ServiceName    string `toml:"serviceName"`
	CensorConfPath string `toml:"censorConfPath"`

	HTTPAddr string `toml:"httpAddr"`
	LogLevel string `toml:"logLevel"`

	Backend string `toml:"backend"`
	DBName  string `toml:"dbName"`

	KafkaAddr  string `toml:"kafkaAddr"`
	KafkaTopic string `toml:"kafkaTopic"`
	KafkaBatch int    `toml:"kafkaBatch"`
}

func defaultConfig() Config {
	return Config{
		ServiceName: "forum",
		HTTPAddr:    ":8088",
		LogLevel:    "info",
		Backend:     backendMemory,
		DBName:      "forum",
		KafkaBatch:  1,
	}
}

// loadConfig decodes the TOML file at path over the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case backendMemory, backendMongo, backendPostgres:
	default:
		return fmt.Errorf("unknown backend %q, want one of memory, mongo, postgres", c.Backend)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("serviceName is empty")
	}
	if !strings.Contains(c.HTTPAddr, ":") {
		return fmt.Errorf("httpAddr %q has no port, use ':' before port number, e.g. ':8080'", c.HTTPAddr)
	}
	if c.Backend != backendMemory && c.DBName == "" {
		return fmt.Errorf("dbName is empty")
	}
	if (c.KafkaAddr == "") != (c.KafkaTopic == "") {
		return fmt.Errorf("kafkaAddr and kafkaTopic must be set together")
	}
	if c.KafkaBatch < 0 {
		return fmt.Errorf("kafkaBatch must not be negative")
	}
	return nil
}
