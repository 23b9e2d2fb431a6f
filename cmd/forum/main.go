package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/api"
	"addipath/pkg/censor"
	"addipath/pkg/storage"
	"addipath/pkg/storage/memdb"
	"addipath/pkg/storage/mongo"
	"addipath/pkg/storage/postgres"
)

func main() {
	var (
		configPath     string
		censorConfPath string
		httpAddr       string
		logLevel       string
		backend        string
		kafkaAddr      string
		kafkaTopic     string
		kafkaBatch     int
	)

	flag.StringVar(&configPath, "config", "cmd/forum/config.toml", "Path to TOML config file")
	flag.StringVar(&censorConfPath, "censconf", "", "Path to JSON banned words file.")
	flag.StringVar(&httpAddr, "http", "", "HTTP server address in the form 'host:port'.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.StringVar(&backend, "backend", "", "Storage backend: memory, mongo, postgres.")
	flag.StringVar(&kafkaAddr, "kafka", "", "Kafka server address in the form 'host:port'.")
	flag.StringVar(&kafkaTopic, "topic", "", "Kafka topic.")
	flag.IntVar(&kafkaBatch, "batch", 0, "Kafka batch size.")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	// Override config with flags if set
	if censorConfPath != "" {
		cfg.CensorConfPath = censorConfPath
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if kafkaAddr != "" {
		cfg.KafkaAddr = kafkaAddr
	}
	if kafkaTopic != "" {
		cfg.KafkaTopic = kafkaTopic
	}
	if kafkaBatch != 0 {
		cfg.KafkaBatch = kafkaBatch
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[server] invalid config: %v", err)
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	}

	var cens = censor.New()
	if cfg.CensorConfPath != "" {
		if err := cens.LoadFromJSON(cfg.CensorConfPath); err != nil {
			log.Fatalf("[server] failed to load censor config file %s: %v", cfg.CensorConfPath, err)
		}
		log.Infof("[server] censor loaded with %d banned words", cens.Len())
	} else {
		log.Warn("[server] censor was not configured, content will not be moderated")
	}

	sdb, closeDB, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	defer closeDB()

	var kafkaWriter *kafka.Writer
	if cfg.KafkaAddr != "" && cfg.KafkaTopic != "" {
		kafkaWriter = &kafka.Writer{
			Addr:      kafka.TCP(cfg.KafkaAddr),
			Topic:     cfg.KafkaTopic,
			BatchSize: cfg.KafkaBatch,
		}
		defer kafkaWriter.Close()

		err := createTopic(kafkaWriter.Addr.String(), kafkaWriter.Topic)
		if err != nil {
			log.Warnf("[server] failed to create Kafka topic: %v", err)
		}
	} else {
		log.Warnf("[server] kafka was not configured, logs will not be sent to Kafka")
	}

	api := api.New(cfg.ServiceName, sdb, cens, kafkaWriter)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Infof("[server] starting on %v with %s backend", cfg.HTTPAddr, cfg.Backend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
			return
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}
}

// openStorage connects the configured backend and returns it with its close
// function.
func openStorage(cfg Config) (storage.Storage, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Backend {
	case backendMongo:
		conf, err := mongo.NewConfig(cfg.DBName)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid mongo config: %w", err)
		}
		db, err := mongo.New(ctx, conf)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
		}
		closeDB := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			db.Close(ctx)
		}
		if err := db.Ping(ctx); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrDBNotResponding, err)
		}
		if err := db.SeedTopics(ctx); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("failed to seed topics: %w", err)
		}
		log.Infof("[server] connected to mongo: %s", conf)
		return db, closeDB, nil

	case backendPostgres:
		conf := postgres.ConfigFromEnv(postgres.Config{
			User:   "postgres",
			Host:   "localhost",
			Port:   "5432",
			DBName: cfg.DBName,
		})
		if !conf.IsValid() {
			return nil, nil, fmt.Errorf("invalid postgres config: %s", conf)
		}
		db, err := postgres.New(ctx, conf.ConString())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrDBNotResponding, err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
		log.Infof("[server] connected to postgres: %s", conf)
		return db, db.Close, nil

	default:
		log.Info("[server] running with in-memory DB")
		return memdb.New(), func() {}, nil
	}
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}
