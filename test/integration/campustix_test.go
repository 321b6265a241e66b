package integration_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/campustix/campustix/internal/adapters/mongo"
	"github.com/campustix/campustix/internal/adapters/postgres"
	redisadapter "github.com/campustix/campustix/internal/adapters/redis"
	"github.com/campustix/campustix/internal/checkin"
	"github.com/campustix/campustix/internal/domain"
	httphandler "github.com/campustix/campustix/internal/http"
	"github.com/campustix/campustix/internal/inventory"
	"github.com/campustix/campustix/internal/issuance"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/payment"
	"github.com/campustix/campustix/internal/ratelimit"
	"github.com/campustix/campustix/internal/registration"
)

const (
	merchantID    = "M-INTEGRATION"
	serverKey     = "sk-integration"
	credentialKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

func notificationSignature(orderID string, grossAmount int64, statusCode string) string {
	// Provider token: values of all params concatenated in alphabetical
	// key order (GrossAmount, MerchantId, OrderId, ServerKey, StatusCode).
	concatenated := strconv.FormatInt(grossAmount, 10) + merchantID + orderID + serverKey + statusCode
	sum := sha256.Sum256([]byte(concatenated))
	return hex.EncodeToString(sum[:])
}

func TestIntegration_RegisterPayCheckIn(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "campustix",
				"POSTGRES_PASSWORD": "campustix",
				"POSTGRES_DB":       "campustix",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	dsn := "postgres://campustix:campustix@" + pgHost + ":" + pgPort.Port() + "/campustix?sslmode=disable"
	var pool *pgxpool.Pool
	for i := 0; i < 20; i++ {
		pool, err = pgxpool.New(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoHost+":"+mongoPort.Port()))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger()
	audit := mongoadapter.NewAuditTrail(mongoClient.Database("campustix"), logger)

	rdb := redisclient.NewClient(&redisclient.Options{Addr: redisHost + ":" + redisPort.Port()})
	cache := redisadapter.NewCache(rdb)
	idemp := redisadapter.NewIdempotency(rdb)
	rl := ratelimit.NewRateLimiter(cache)

	// Stand-in payment provider: accepts every intent and echoes the order id.
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID string `json:"orderId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"orderId":     req.OrderID,
			"token":       "snap-token",
			"redirectUrl": "https://pay.example.com/" + req.OrderID,
		})
	}))
	defer provider.Close()

	codec, err := issuance.NewCodec(credentialKey)
	if err != nil {
		t.Fatal(err)
	}
	ledger := inventory.NewLedger(repo, cache, logger)
	issuer := issuance.NewIssuer(repo, codec, nil, logger)
	intents := payment.NewClient(payment.ClientConfig{
		BaseURL:         provider.URL,
		MerchantID:      merchantID,
		ServerKey:       serverKey,
		CallbackBaseURL: "http://localhost:8080",
		Timeout:         5 * time.Second,
	})
	reconciler := payment.NewReconciler(repo, ledger, issuer, merchantID, serverKey, logger)
	registrations := registration.NewService(repo, ledger, intents, issuer, cache, time.Minute, logger)
	validator := checkin.NewValidator(repo, codec, audit, logger)

	handlers := httphandler.NewHandlers(registrations, reconciler, validator, repo, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl, idemp))
	defer srv.Close()

	// Seed a published event with one paid tier.
	now := time.Now().UTC()
	eventID := uuid.New()
	organizerID := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO events (id, organizer_id, title, status, registration_opens_at, registration_closes_at,
			starts_at, ends_at, payment_window_seconds, admin_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, eventID, organizerID, "Tech Career Fair", domain.EventPublished, now.Add(-time.Hour),
		now.Add(24*time.Hour), now.Add(48*time.Hour), now.Add(54*time.Hour), 7200, int64(2_000))
	if err != nil {
		t.Fatal(err)
	}
	tierID := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO ticket_tiers (id, event_id, name, unit_price, quota, sold, reserved, active)
		VALUES ($1, $2, $3, $4, $5, 0, 0, true)
	`, tierID, eventID, "Regular", int64(50_000), 10)
	if err != nil {
		t.Fatal(err)
	}

	buyerID := uuid.New()
	staffID := uuid.New()

	doJSON := func(method, path string, body any, userID uuid.UUID, role string) *http.Response {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatal(err)
			}
		}
		req, err := http.NewRequest(method, srv.URL+path, &buf)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", userID.String())
		req.Header.Set("X-User-Role", role)
		if method == http.MethodPost {
			req.Header.Set("Idempotency-Key", uuid.New().String())
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	// Register for two tickets.
	resp := doJSON(http.MethodPost, "/v1/registrations", map[string]any{
		"event_id":       eventID,
		"tier_id":        tierID,
		"quantity":       2,
		"payment_method": "qris",
		"participant": map[string]string{
			"name":  "Sari Dewi",
			"email": "sari@example.ac.id",
		},
	}, buyerID, "student")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create registration: status %d", resp.StatusCode)
	}
	var created struct {
		Registration struct {
			ID          uuid.UUID `json:"id"`
			Number      string    `json:"number"`
			Status      string    `json:"status"`
			TotalAmount int64     `json:"total_amount"`
		} `json:"registration"`
		Payment struct {
			RedirectURL string `json:"redirect_url"`
		} `json:"payment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if created.Registration.Status != "pending_payment" {
		t.Fatalf("expected pending_payment, got %s", created.Registration.Status)
	}
	if created.Payment.RedirectURL == "" {
		t.Fatal("expected a checkout redirect URL")
	}
	if created.Registration.TotalAmount != 102_000 {
		t.Fatalf("expected total 102000, got %d", created.Registration.TotalAmount)
	}

	// Provider settles the payment.
	resp = doJSON(http.MethodPost, "/v1/payments/notifications", map[string]any{
		"orderId":           created.Registration.Number,
		"transactionId":     "tx-it-1",
		"transactionStatus": "settlement",
		"statusCode":        "200",
		"grossAmount":       created.Registration.TotalAmount,
		"signature":         notificationSignature(created.Registration.Number, created.Registration.TotalAmount, "200"),
	}, uuid.Nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook ack: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Reconciliation runs after the ack, so poll until the ticket shows up.
	var reg struct {
		Status     string `json:"status"`
		Credential string `json:"credential"`
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp = doJSON(http.MethodGet, "/v1/registrations/"+created.Registration.ID.String(), nil, buyerID, "student")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get registration: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if reg.Status == "confirmed" && reg.Credential != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("registration never confirmed, last status %s", reg.Status)
		}
		time.Sleep(200 * time.Millisecond)
	}

	// Gate scan admits once.
	resp = doJSON(http.MethodPost, "/v1/checkins", map[string]string{
		"credential": reg.Credential,
		"location":   "Main Hall",
	}, staffID, "staff")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-in: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(http.MethodPost, "/v1/checkins", map[string]string{
		"credential": reg.Credential,
		"location":   "Main Hall",
	}, staffID, "staff")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second scan: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Undo lands the original record in the audit trail and reopens the gate.
	resp = doJSON(http.MethodPost, "/v1/checkins/"+created.Registration.ID.String()+"/undo", map[string]string{
		"reason": "scanned the wrong attendee",
	}, staffID, "staff")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("undo: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	history, err := audit.History(ctx, created.Registration.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 archived check-in, got %d", len(history))
	}

	resp = doJSON(http.MethodPost, "/v1/checkins", map[string]string{
		"credential": reg.Credential,
		"location":   "Main Hall",
	}, staffID, "staff")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-scan after undo: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Tier counters ended up as sold inventory.
	var sold, reserved int
	if err := pool.QueryRow(ctx, `SELECT sold, reserved FROM ticket_tiers WHERE id = $1`, tierID).Scan(&sold, &reserved); err != nil {
		t.Fatal(err)
	}
	if sold != 2 || reserved != 0 {
		t.Fatalf("expected sold=2 reserved=0, got sold=%d reserved=%d", sold, reserved)
	}
}
