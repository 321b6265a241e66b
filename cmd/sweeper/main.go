package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/campustix/campustix/internal/adapters/postgres"
	redisadapter "github.com/campustix/campustix/internal/adapters/redis"
	"github.com/campustix/campustix/internal/config"
	"github.com/campustix/campustix/internal/inventory"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/sweeper"
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

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)

	ledger := inventory.NewLedger(repo, cache, logger)
	sw := sweeper.New(repo, ledger, cfg.SweepInterval, cfg.ReminderLead, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sw.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	logger.Info("sweeper exiting")
}
