package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/adapters/rabbit"
	"github.com/campustix/campustix/internal/config"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	publisher, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "campustix.notifications.delivery")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// One process drains the outbox into the broker and delivers what the
	// broker hands back. Either loop can be split out later.
	outbox := notify.NewOutboxPublisher(repo, publisher, logger)
	go outbox.Run(ctx)

	worker := notify.NewWorker(consumer, notify.LogNotifier{Logger: logger}, logger)
	go func() {
		if err := worker.Run(ctx); err != nil {
			log.Fatalf("notification worker: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	logger.Info("notify worker exiting")
}
