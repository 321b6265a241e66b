package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campustix/campustix/internal/adapters/blob"
	mongoadapter "github.com/campustix/campustix/internal/adapters/mongo"
	"github.com/campustix/campustix/internal/adapters/postgres"
	redisadapter "github.com/campustix/campustix/internal/adapters/redis"
	"github.com/campustix/campustix/internal/checkin"
	"github.com/campustix/campustix/internal/config"
	httphandler "github.com/campustix/campustix/internal/http"
	"github.com/campustix/campustix/internal/inventory"
	"github.com/campustix/campustix/internal/issuance"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/payment"
	"github.com/campustix/campustix/internal/ratelimit"
	"github.com/campustix/campustix/internal/registration"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditTrail(mongoClient.Database("campustix"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := redisadapter.NewIdempotency(redisClient)
	rl := ratelimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	codec, err := issuance.NewCodec(cfg.CredentialKey)
	if err != nil {
		log.Fatalf("invalid credential key: %v", err)
	}

	ledger := inventory.NewLedger(repo, cache, logger)
	issuer := issuance.NewIssuer(repo, codec, blob.NewStore(cfg.BlobBaseURL), logger)
	intents := payment.NewClient(payment.ClientConfig{
		BaseURL:         cfg.PaymentBaseURL,
		MerchantID:      cfg.PaymentMerchant,
		ServerKey:       cfg.PaymentServerKey,
		CallbackBaseURL: cfg.CallbackBaseURL,
		Timeout:         10 * time.Second,
	})
	reconciler := payment.NewReconciler(repo, ledger, issuer, cfg.PaymentMerchant, cfg.PaymentServerKey, logger)
	registrations := registration.NewService(repo, ledger, intents, issuer, cache, cfg.StatsCacheTTL, logger)
	validator := checkin.NewValidator(repo, codec, audit, logger)

	handlers := httphandler.NewHandlers(registrations, reconciler, validator, repo, logger)
	router := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	logger.Info("server exiting")
}
