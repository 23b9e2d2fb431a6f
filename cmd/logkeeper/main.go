package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "cmd/logkeeper/config.toml", "Path to TOML config file")
	logLevel := flag.String("log", "", "Log level: debug, info, warn, error.")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[logkeeper] %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[logkeeper] invalid config: %v", err)
	}
	log.SetLevel(cfg.Level())

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.ElasticSearchNodes})
	if err != nil {
		log.Fatalf("[logkeeper] failed to create elasticsearch client: %v", err)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("[logkeeper] accepting logs from %s with %d workers", cfg.KafkaTopic, cfg.NumWorkers)
	consume(ctx, r, es, cfg.ElasticSearchIndex, cfg.NumWorkers)
	log.Info("[logkeeper] shut down gracefully")
}
