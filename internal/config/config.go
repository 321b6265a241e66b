package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	PaymentBaseURL   string
	PaymentMerchant  string
	PaymentServerKey string
	CallbackBaseURL  string
	CredentialKey    string

	BlobBaseURL string

	SweepInterval time.Duration
	ReminderLead  time.Duration
	StatsCacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    envOr("REDIS_ADDR", "localhost:6379"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		PaymentBaseURL:   os.Getenv("PAYMENT_BASE_URL"),
		PaymentMerchant:  os.Getenv("PAYMENT_MERCHANT_ID"),
		PaymentServerKey: os.Getenv("PAYMENT_SERVER_KEY"),
		CallbackBaseURL:  os.Getenv("CALLBACK_BASE_URL"),
		CredentialKey:    os.Getenv("TICKET_CREDENTIAL_KEY"),

		BlobBaseURL: os.Getenv("BLOB_BASE_URL"),

		SweepInterval: durationOr("SWEEP_INTERVAL", time.Minute),
		ReminderLead:  durationOr("REMINDER_LEAD", 3*time.Hour),
		StatsCacheTTL: durationOr("STATS_CACHE_TTL", 5*time.Minute),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d == 0 {
		return fallback
	}
	return d
}
