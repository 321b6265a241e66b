package payment

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
)

// Notification is the provider's webhook payload. Delivery is at-least-once
// and unordered; everything here is untrusted until the signature checks out.
type Notification struct {
	OrderID           string `json:"orderId"`
	TransactionID     string `json:"transactionId"`
	TransactionStatus string `json:"transactionStatus"`
	StatusCode        string `json:"statusCode"`
	GrossAmount       int64  `json:"grossAmount"`
	FraudStatus       string `json:"fraudStatus"`
	Signature         string `json:"signature"`
}

type Store interface {
	GetRegistration(ctx context.Context, id uuid.UUID) (domain.Registration, error)
	GetByExternalOrderID(ctx context.Context, orderID string) (domain.Registration, error)
	ConfirmPayment(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error)
	CancelPending(ctx context.Context, id uuid.UUID, c domain.Cancellation, ticketStatus domain.TicketStatus, paymentStatus domain.PaymentStatus) (bool, error)
	CancelConfirmed(ctx context.Context, id uuid.UUID, c domain.Cancellation) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	InsertOutbox(ctx context.Context, rec postgres.OutboxRecord) error
}

type Ledger interface {
	ReleaseReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
	ConvertReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
	ReleaseSold(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
}

type Issuer interface {
	Issue(ctx context.Context, reg domain.Registration) error
}

// Reconciler maps provider transaction statuses onto registration
// transitions. Every transition is guarded on the current status, so
// redelivered notifications and sweeper races resolve to exactly one winner.
type Reconciler struct {
	store      Store
	ledger     Ledger
	issuer     Issuer
	merchantID string
	serverKey  string
	logger     observability.Logger
}

func NewReconciler(store Store, ledger Ledger, issuer Issuer, merchantID, serverKey string, logger observability.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		ledger:     ledger,
		issuer:     issuer,
		merchantID: merchantID,
		serverKey:  serverKey,
		logger:     logger,
	}
}

// HandleNotification is the webhook entry point. Integrity failures reject
// with no state change and no detail beyond "invalid"; an unknown order id
// is logged and swallowed because the provider may retry an order we
// already purged.
func (r *Reconciler) HandleNotification(ctx context.Context, raw []byte) error {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		observability.WebhooksTotal.WithLabelValues("malformed").Inc()
		return errors.Wrap(domain.ErrInvalidInput, "malformed notification payload")
	}

	expected := requestToken(map[string]string{
		"GrossAmount": strconv.FormatInt(n.GrossAmount, 10),
		"OrderId":     n.OrderID,
		"StatusCode":  n.StatusCode,
	}, r.merchantID, r.serverKey)
	if !tokenEqual(expected, n.Signature) {
		observability.WebhooksTotal.WithLabelValues("bad_signature").Inc()
		r.logger.WithField("order_id", n.OrderID).Warn("webhook signature mismatch")
		return domain.ErrInvalidSignature
	}

	reg, err := r.store.GetByExternalOrderID(ctx, n.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		observability.WebhooksTotal.WithLabelValues("unknown_order").Inc()
		r.logger.WithField("order_id", n.OrderID).Warn("notification for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	switch n.TransactionStatus {
	case "settlement", "capture":
		if n.FraudStatus == "deny" {
			return r.fail(ctx, reg, "payment denied by fraud review")
		}
		return r.confirm(ctx, reg)
	case "expire":
		return r.expire(ctx, reg)
	case "deny", "cancel":
		return r.fail(ctx, reg, "payment "+n.TransactionStatus)
	case "pending", "challenge":
		// Stays pending_payment; the expiry sweep is the backstop.
		observability.WebhooksTotal.WithLabelValues("pending").Inc()
		return nil
	default:
		observability.WebhooksTotal.WithLabelValues("unknown_status").Inc()
		r.logger.WithField("status", n.TransactionStatus).Warn("unknown transaction status")
		return nil
	}
}

func (r *Reconciler) confirm(ctx context.Context, reg domain.Registration) error {
	won, err := r.store.ConfirmPayment(ctx, reg.ID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !won {
		// Redelivery, or the sweeper cancelled first. Either way the
		// current state stands.
		observability.WebhooksTotal.WithLabelValues("replay").Inc()
		return nil
	}
	observability.WebhooksTotal.WithLabelValues("confirmed").Inc()

	if _, err := r.ledger.ConvertReservation(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
		r.logger.WithField("registration_id", reg.ID).Error("failed to convert reservation", err)
	}

	// The webhook endpoint acknowledges before reconciliation runs, so
	// issuing synchronously here never delays the provider's response.
	// Issuance failure is non-fatal: the payment stays confirmed and the
	// issue call is retried out-of-band.
	confirmed, err := r.store.GetRegistration(ctx, reg.ID)
	if err != nil {
		confirmed = reg
	}
	if err := r.issuer.Issue(ctx, confirmed); err != nil {
		r.logger.WithField("registration_id", confirmed.ID).Error("ticket issuance failed", err)
	}
	return nil
}

func (r *Reconciler) expire(ctx context.Context, reg domain.Registration) error {
	won, err := r.store.CancelPending(ctx, reg.ID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		Reason:      "payment window expired",
	}, domain.TicketExpired, domain.PaymentExpired)
	if err != nil {
		return err
	}
	if won {
		observability.WebhooksTotal.WithLabelValues("expired").Inc()
		if _, err := r.ledger.ReleaseReservation(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
			r.logger.WithField("registration_id", reg.ID).Error("failed to release reservation", err)
		}
		r.enqueue(ctx, reg, notify.KindPaymentExpired)
	}
	return nil
}

func (r *Reconciler) fail(ctx context.Context, reg domain.Registration, reason string) error {
	won, err := r.store.CancelPending(ctx, reg.ID, domain.Cancellation{
		CancelledAt: time.Now().UTC(),
		Reason:      reason,
	}, domain.TicketCancelled, domain.PaymentFailed)
	if err != nil {
		return err
	}
	if won {
		observability.WebhooksTotal.WithLabelValues("failed").Inc()
		if _, err := r.ledger.ReleaseReservation(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
			r.logger.WithField("registration_id", reg.ID).Error("failed to release reservation", err)
		}
		r.enqueue(ctx, reg, notify.KindCancellation)
	}
	return nil
}

// ProcessRefund acknowledges that funds moved back to the buyer. If the
// registration is still confirmed (a refund settled without a prior
// cancellation) it is cancelled and its sold units released first.
func (r *Reconciler) ProcessRefund(ctx context.Context, registrationID uuid.UUID, processedBy uuid.UUID) (domain.Registration, error) {
	reg, err := r.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return domain.Registration{}, err
	}

	if reg.Status == domain.StatusConfirmed {
		won, err := r.store.CancelConfirmed(ctx, reg.ID, domain.Cancellation{
			CancelledAt:  time.Now().UTC(),
			CancelledBy:  processedBy,
			Reason:       "refund processed",
			RefundStatus: domain.RefundPending,
		})
		if err != nil {
			return domain.Registration{}, err
		}
		if won {
			if _, err := r.ledger.ReleaseSold(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
				r.logger.WithField("registration_id", reg.ID).Error("failed to release sold units", err)
			}
		}
	}

	won, err := r.store.MarkRefunded(ctx, registrationID, time.Now().UTC())
	if err != nil {
		return domain.Registration{}, err
	}
	if !won {
		return domain.Registration{}, errors.Wrap(domain.ErrConflict, "no pending refund for registration")
	}

	updated, err := r.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return domain.Registration{}, err
	}
	r.enqueue(ctx, updated, notify.KindRefundCompleted)
	return updated, nil
}

func (r *Reconciler) enqueue(ctx context.Context, reg domain.Registration, kind notify.Kind) {
	rec, err := notify.NewOutboxRecord(reg, notify.ForRegistration(reg, kind))
	if err == nil {
		err = r.store.InsertOutbox(ctx, rec)
	}
	if err != nil {
		r.logger.WithField("registration_id", reg.ID).Warn("failed to enqueue notification", err)
	}
}
