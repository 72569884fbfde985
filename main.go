package main

import (
	"context"
	"crypto/rand"
	"log"
	"os/signal"
	"syscall"

	"example.com/photoposts/cmd/server"
	"example.com/photoposts/cmd/worker"
	appkafka "example.com/photoposts/internal/broker"
	config "example.com/photoposts/internal/init"
	"example.com/photoposts/internal/logger"
	"example.com/photoposts/internal/store"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	logger.SetLevel(cfg.LogLevel)

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	switch cfg.Mode {
	case "server":
		runServer(ctx, cfg, kafkaCfg)
	case "worker":
		runWorker(ctx, cfg, kafkaCfg)
	default:
		log.Fatalf("unknown mode: %s", cfg.Mode)
	}

	log.Println("Shutdown completed")
}

// runServer seeds the in-memory store and serves it. With the journal
// enabled, committed mutations are published to Kafka and history is read
// from Cassandra.
func runServer(ctx context.Context, cfg *config.Config, kafkaCfg appkafka.KafkaConfig) {
	posts := store.NewMemory(store.ParseOrder(cfg.SortOrder), store.Generate(cfg.SeedCount, nil))

	var journal store.JournalInterface
	publisher := appkafka.NewPublisher(nil)

	if cfg.JournalEnabled {
		j, err := store.NewJournal()
		if err != nil {
			log.Fatalf("Cassandra connection failed: %v", err)
		}
		defer j.Close()
		journal = j

		kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
		if err != nil {
			log.Fatalf("Kafka writer init failed: %v", err)
		}
		publisher = appkafka.NewPublisher(kafkaWriter)
		defer publisher.Close()
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("session key generation failed: %v", err)
		}
		log.Println("JWT_SECRET not set, using a random per-process session key")
	}

	server.Run(ctx, posts, journal, publisher, server.Options{
		Addr:        cfg.ServerAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		JWTSecret:   secret,
		SessionTTL:  cfg.SessionTTL,
		PageSize:    cfg.PageSize,
		CORSOrigins: cfg.CORSOrigins,
	})
}

// runWorker journals events from Kafka into Cassandra until ctx is done.
func runWorker(ctx context.Context, cfg *config.Config, kafkaCfg appkafka.KafkaConfig) {
	journal, err := store.NewJournal()
	if err != nil {
		log.Fatalf("Cassandra connection failed: %v", err)
	}

	kafkaReader := appkafka.NewKafkaReader(kafkaCfg)

	w := worker.New(journal, kafkaReader, cfg.WorkerCount, cfg.WorkerQueueSize)
	w.Run(ctx)
	if err := w.Close(); err != nil {
		log.Printf("worker close: %v", err)
	}
}
