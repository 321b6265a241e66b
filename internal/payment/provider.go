// Package payment talks to the hosted-checkout payment provider and folds
// its asynchronous notifications back into the registration lifecycle.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/campustix/campustix/internal/domain"
)

// Intent is the provider-side order created for a non-free registration.
type Intent struct {
	OrderID     string
	Token       string
	RedirectURL string
}

// ProviderClient creates hosted-checkout intents. The HTTP implementation is
// Client; tests substitute a recorder.
type ProviderClient interface {
	CreateIntent(ctx context.Context, reg domain.Registration) (Intent, error)
}

type ClientConfig struct {
	BaseURL         string
	MerchantID      string
	ServerKey       string
	CallbackBaseURL string
	Timeout         time.Duration
}

type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type intentRequest struct {
	MerchantID      string       `json:"merchantId"`
	Token           string       `json:"token"`
	OrderID         string       `json:"orderId"`
	Amount          int64        `json:"amount"`
	CustomerName    string       `json:"customerName"`
	CustomerEmail   string       `json:"customerEmail"`
	Items           []intentItem `json:"items"`
	NotificationURL string       `json:"notificationURL"`
	SuccessURL      string       `json:"successURL"`
	FailURL         string       `json:"failURL"`
}

type intentItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type intentResponse struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"orderId"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
	Message     string `json:"message"`
}

// CreateIntent registers the order with the provider. The returned order id
// is the sole correlation key for later notifications, so the caller must
// persist it before replying to the buyer.
func (c *Client) CreateIntent(ctx context.Context, reg domain.Registration) (Intent, error) {
	orderID := reg.Number
	req := intentRequest{
		MerchantID:    c.cfg.MerchantID,
		OrderID:       orderID,
		Amount:        reg.Payment.TotalAmount,
		CustomerName:  reg.Participant.Name,
		CustomerEmail: reg.Participant.Email,
		Items: []intentItem{
			{Name: reg.Tier.Name, Quantity: reg.Quantity, UnitPrice: reg.Tier.UnitPrice},
		},
		NotificationURL: c.cfg.CallbackBaseURL + "/v1/payments/notifications",
		SuccessURL:      c.cfg.CallbackBaseURL + "/payments/success",
		FailURL:         c.cfg.CallbackBaseURL + "/payments/failed",
	}
	req.Token = requestToken(map[string]string{
		"Amount":  strconv.FormatInt(req.Amount, 10),
		"OrderId": req.OrderID,
	}, c.cfg.MerchantID, c.cfg.ServerKey)

	body, err := json.Marshal(req)
	if err != nil {
		return Intent{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/intents", bytes.NewReader(body))
	if err != nil {
		return Intent{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Intent{}, errors.Wrap(err, "payment provider unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Intent{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Intent{}, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	var parsed intentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Intent{}, err
	}
	if !parsed.Success {
		return Intent{}, fmt.Errorf("payment provider rejected intent: %s", parsed.Message)
	}
	return Intent{
		OrderID:     parsed.OrderID,
		Token:       parsed.Token,
		RedirectURL: parsed.RedirectURL,
	}, nil
}
