// The marketing worker consumes funnel events from Kafka and syncs them to
// the CRM. It runs as a separate process so CRM latency and rate limits
// never touch the API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"funnel-server/internal/clients/crm"
	"funnel-server/internal/config"
	"funnel-server/internal/kafka"
	"funnel-server/internal/marketing"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Kafka.Brokers == "" {
		log.Fatal("KAFKA_BROKERS not set, marketing worker has nothing to consume")
	}

	logger := observability.NewLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "Starting marketing worker...")

	dataStore, err := store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	crmClient := crm.NewClient(cfg.Services.CRMBaseURL, cfg.Services.CRMAPIKey, logger)
	consumer := marketing.NewConsumer(crmClient, &dataStore, logger)

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	dlqProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: brokers,
		Topic:   kafka.TopicDeadLetter,
	}, logger)
	defer dlqProducer.Close()

	kafkaConsumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.ConsumerGroup,
	}, consumer.Handle, dlqProducer, logger)
	defer kafkaConsumer.Close()

	go func() {
		if err := kafkaConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "consumer stopped with error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info(ctx, "Shutting down marketing worker...")
		cancel()
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Marketing worker exited")
}
