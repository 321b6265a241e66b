package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campustix/campustix/internal/domain"
)

func pendingRegistration() domain.Registration {
	event := domain.Event{
		ID:            uuid.New(),
		OrganizerID:   uuid.New(),
		Status:        domain.EventPublished,
		PaymentWindow: time.Hour,
		AdminFee:      2_000,
	}
	tier := domain.TicketTier{ID: uuid.New(), EventID: event.ID, Name: "Regular", UnitPrice: 60_000, Quota: 10, Active: true}
	return domain.NewRegistration(event, tier, uuid.New(), 2, domain.Participant{
		Name:  "Citra Ayu",
		Email: "citra@example.ac.id",
	}, "qris")
}

func TestCreateIntentSignsAndParses(t *testing.T) {
	reg := pendingRegistration()

	var received intentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/intents", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(intentResponse{
			Success:     true,
			OrderID:     received.OrderID,
			Token:       "snap-token",
			RedirectURL: "https://pay.example.com/" + received.OrderID,
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL:         srv.URL,
		MerchantID:      testMerchant,
		ServerKey:       testServerKey,
		CallbackBaseURL: "https://api.campus.example.com",
	})

	intent, err := client.CreateIntent(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, reg.Number, intent.OrderID)
	require.Equal(t, "snap-token", intent.Token)
	require.NotEmpty(t, intent.RedirectURL)

	require.Equal(t, reg.Payment.TotalAmount, received.Amount)
	require.Equal(t, "https://api.campus.example.com/v1/payments/notifications", received.NotificationURL)

	expected := requestToken(map[string]string{
		"Amount":  strconv.FormatInt(received.Amount, 10),
		"OrderId": received.OrderID,
	}, testMerchant, testServerKey)
	require.Equal(t, expected, received.Token)
}

func TestCreateIntentRejectedByProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(intentResponse{Success: false, Message: "merchant suspended"})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, MerchantID: testMerchant, ServerKey: testServerKey})
	_, err := client.CreateIntent(context.Background(), pendingRegistration())
	require.ErrorContains(t, err, "merchant suspended")
}

func TestCreateIntentProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, MerchantID: testMerchant, ServerKey: testServerKey})
	_, err := client.CreateIntent(context.Background(), pendingRegistration())
	require.ErrorContains(t, err, "502")
}
