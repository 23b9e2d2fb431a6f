package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	LogLevel     string   `toml:"logLevel"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`
	KafkaGroupID string   `toml:"kafkaGroupID"`

	ElasticSearchIndex string   `toml:"elasticSearchIndex"`
	ElasticSearchNodes []string `toml:"elasticSearchNodes"`

	NumWorkers int `toml:"numWorkers"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:           "info",
		KafkaGroupID:       "logkeeper",
		ElasticSearchIndex: "forum-logs",
		NumWorkers:         1,
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
	switch {
	case len(c.KafkaBrokers) == 0:
		return fmt.Errorf("kafkaBrokers is empty")
	case c.KafkaTopic == "":
		return fmt.Errorf("kafkaTopic is empty")
	case c.ElasticSearchIndex == "":
		return fmt.Errorf("elasticSearchIndex is empty")
	case len(c.ElasticSearchNodes) == 0:
		return fmt.Errorf("elasticSearchNodes is empty")
	case c.NumWorkers < 1:
		return fmt.Errorf("numWorkers must be positive, got %d", c.NumWorkers)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level is the configured log level, Info when it does not parse.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
