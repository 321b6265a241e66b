package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campustix/campustix/internal/adapters/memory"
	"github.com/campustix/campustix/internal/checkin"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/inventory"
	"github.com/campustix/campustix/internal/issuance"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/payment"
	"github.com/campustix/campustix/internal/registration"
)

const handlerTestKey = "101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f"

type stubIntents struct{}

func (stubIntents) CreateIntent(ctx context.Context, reg domain.Registration) (payment.Intent, error) {
	return payment.Intent{
		OrderID:     reg.Number,
		Token:       "tok",
		RedirectURL: "https://pay.example.com/" + reg.Number,
	}, nil
}

type noopArchive struct{}

func (noopArchive) ArchiveCheckIn(ctx context.Context, reg domain.Registration, rec domain.CheckInRecord, undoneBy uuid.UUID, reason string) error {
	return nil
}

type apiFixture struct {
	store  *memory.Store
	router *chi.Mux
	event  domain.Event
	tier   domain.TicketTier
}

// newAPIFixture wires the handlers over the in-memory store with only the
// identity middleware, which is all the handlers themselves depend on.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	now := time.Now().UTC()
	store := memory.NewStore()
	event := domain.Event{
		ID:                   uuid.New(),
		OrganizerID:          uuid.New(),
		Title:                "Campus Expo",
		Status:               domain.EventPublished,
		RegistrationOpensAt:  now.Add(-time.Hour),
		RegistrationClosesAt: now.Add(24 * time.Hour),
		StartsAt:             now.Add(48 * time.Hour),
		EndsAt:               now.Add(54 * time.Hour),
		PaymentWindow:        2 * time.Hour,
	}
	tier := domain.TicketTier{
		ID:        uuid.New(),
		EventID:   event.ID,
		Name:      "Regular",
		UnitPrice: 30_000,
		Quota:     5,
		Active:    true,
	}
	store.PutEvent(event)
	store.PutTier(tier)

	logger := observability.NewLogger()
	codec, err := issuance.NewCodec(handlerTestKey)
	require.NoError(t, err)
	ledger := inventory.NewLedger(store, nil, logger)
	issuer := issuance.NewIssuer(store, codec, nil, logger)
	reconciler := payment.NewReconciler(store, ledger, issuer, "M-1", "sk-1", logger)
	registrations := registration.NewService(store, ledger, stubIntents{}, issuer, nil, time.Minute, logger)
	validator := checkin.NewValidator(store, codec, noopArchive{}, logger)

	handlers := NewHandlers(registrations, reconciler, validator, store, logger)
	router := chi.NewRouter()
	router.Use(IdentityMiddleware)
	router.Post("/v1/registrations", handlers.CreateRegistration)
	router.Get("/v1/registrations/{id}", handlers.GetRegistration)
	router.Post("/v1/registrations/{id}/cancel", handlers.CancelRegistration)
	router.Get("/v1/my/registrations", handlers.ListMyRegistrations)
	router.Get("/v1/events/{id}/tiers", handlers.ListEventTiers)
	router.Get("/v1/events/{id}/stats", handlers.EventStats)
	router.Get("/v1/events/{id}/registrations/export", handlers.ExportEventRegistrations)
	router.Post("/v1/checkins", handlers.CheckIn)
	router.Post("/v1/checkins/validate", handlers.ValidateCredential)

	return &apiFixture{store: store, router: router, event: event, tier: tier}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, identity *uuid.UUID, role string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if identity != nil {
		req.Header.Set("X-User-ID", identity.String())
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func createBody(f *apiFixture, quantity int) map[string]any {
	return map[string]any{
		"event_id":       f.event.ID,
		"tier_id":        f.tier.ID,
		"quantity":       quantity,
		"payment_method": "qris",
		"participant": map[string]string{
			"name":  "Bayu Pratama",
			"email": "bayu@example.ac.id",
		},
	}
}

func TestCreateRegistrationEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	buyer := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), &buyer, "student")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Registration registrationResponse `json:"registration"`
		Payment      struct {
			RedirectURL string `json:"redirect_url"`
		} `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pending_payment", resp.Registration.Status)
	require.NotEmpty(t, resp.Payment.RedirectURL)
}

func TestCreateRegistrationRequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRegistrationConflictStatuses(t *testing.T) {
	f := newAPIFixture(t)
	buyer := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), &buyer, "student")
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same buyer again: duplicate.
	rec = f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), &buyer, "student")
	require.Equal(t, http.StatusConflict, rec.Code)

	// Another buyer asking for more than remains: sold out.
	other := uuid.New()
	rec = f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 5), &other, "student")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRegistrationHidesOtherBuyers(t *testing.T) {
	f := newAPIFixture(t)
	buyer := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), &buyer, "student")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Registration registrationResponse `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	path := "/v1/registrations/" + resp.Registration.ID.String()
	rec = f.do(t, http.MethodGet, path, nil, &buyer, "student")
	require.Equal(t, http.StatusOK, rec.Code)

	stranger := uuid.New()
	rec = f.do(t, http.MethodGet, path, nil, &stranger, "student")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/registrations/not-a-uuid", nil, &buyer, "student")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelEndpointMapsStateErrors(t *testing.T) {
	f := newAPIFixture(t)
	buyer := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), &buyer, "student")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Registration registrationResponse `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	path := "/v1/registrations/" + resp.Registration.ID.String() + "/cancel"

	rec = f.do(t, http.MethodPost, path, map[string]string{"reason": "schedule clash"}, &buyer, "student")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, &buyer, "student")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTiersAndStatsEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/events/"+f.event.ID.String()+"/tiers", nil, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Regular")

	staff := uuid.New()
	rec = f.do(t, http.MethodGet, "/v1/events/"+f.event.ID.String()+"/stats", nil, &staff, "organizer")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExportRequiresStaffRole(t *testing.T) {
	f := newAPIFixture(t)
	path := "/v1/events/" + f.event.ID.String() + "/registrations/export"

	student := uuid.New()
	rec := f.do(t, http.MethodGet, path, nil, &student, "student")
	require.Equal(t, http.StatusForbidden, rec.Code)

	organizer := uuid.New()
	rec = f.do(t, http.MethodGet, path, nil, &organizer, "organizer")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestCheckInEndpointRejectsForgedCredential(t *testing.T) {
	f := newAPIFixture(t)
	staff := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/checkins", map[string]string{"credential": "forged"}, &staff, "staff")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	// The error body never explains what part of the credential failed.
	require.Contains(t, rec.Body.String(), "unauthorized")
}

func TestCheckInEndpointFlow(t *testing.T) {
	f := newAPIFixture(t)
	buyer := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/registrations", createBody(f, 1), &buyer, "student")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Registration registrationResponse `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Settle the payment directly against the store, then issue.
	ctx := context.Background()
	won, err := f.store.ConfirmPayment(ctx, created.Registration.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)
	codec, err := issuance.NewCodec(handlerTestKey)
	require.NoError(t, err)
	logger := observability.NewLogger()
	reg, err := f.store.GetRegistration(ctx, created.Registration.ID)
	require.NoError(t, err)
	require.NoError(t, issuance.NewIssuer(f.store, codec, nil, logger).Issue(ctx, reg))
	reg, err = f.store.GetRegistration(ctx, created.Registration.ID)
	require.NoError(t, err)

	staff := uuid.New()
	body := map[string]string{"credential": reg.Ticket.Credential, "location": "Gate 1"}

	rec = f.do(t, http.MethodPost, "/v1/checkins/validate", body, &staff, "staff")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"valid":true`)

	rec = f.do(t, http.MethodPost, "/v1/checkins", body, &staff, "staff")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/checkins", body, &staff, "staff")
	require.Equal(t, http.StatusConflict, rec.Code)
}
