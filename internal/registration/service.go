// Package registration owns the lifecycle of a single registration:
// creation with an inventory reservation, payment-status transitions,
// cancellation, and the read side (queries, statistics, CSV export).
package registration

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/inventory"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/payment"
)

type Store interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error)
	GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error)
	InsertRegistration(ctx context.Context, reg domain.Registration) error
	GetRegistration(ctx context.Context, id uuid.UUID) (domain.Registration, error)
	GetByNumber(ctx context.Context, number string) (domain.Registration, error)
	HasActiveRegistration(ctx context.Context, buyerID, eventID uuid.UUID) (bool, error)
	SetExternalOrder(ctx context.Context, id uuid.UUID, orderID string) error
	ConfirmPayment(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error)
	CancelPending(ctx context.Context, id uuid.UUID, c domain.Cancellation, ticketStatus domain.TicketStatus, paymentStatus domain.PaymentStatus) (bool, error)
	CancelConfirmed(ctx context.Context, id uuid.UUID, c domain.Cancellation) (bool, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Registration, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, limit, offset int) ([]domain.Registration, error)
	ListByEventAndStatus(ctx context.Context, eventID uuid.UUID, status domain.RegistrationStatus) ([]domain.Registration, error)
	GetEventStats(ctx context.Context, eventID uuid.UUID) (postgres.EventStats, error)
	InsertOutbox(ctx context.Context, rec postgres.OutboxRecord) error
}

// StatsCache fronts the event statistics projection.
type StatsCache interface {
	GetEventStats(ctx context.Context, eventID string, dest any) (bool, error)
	SetEventStats(ctx context.Context, eventID string, stats any, ttl time.Duration) error
}

type Issuer interface {
	Issue(ctx context.Context, reg domain.Registration) error
}

type Service struct {
	store    Store
	ledger   *inventory.Ledger
	intents  payment.ProviderClient
	issuer   Issuer
	cache    StatsCache
	cacheTTL time.Duration
	logger   observability.Logger
}

func NewService(store Store, ledger *inventory.Ledger, intents payment.ProviderClient, issuer Issuer, cache StatsCache, cacheTTL time.Duration, logger observability.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		intents:  intents,
		issuer:   issuer,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

type CreateRequest struct {
	BuyerID     uuid.UUID
	EventID     uuid.UUID
	TierID      uuid.UUID
	Quantity    int
	Participant domain.Participant
	Method      string
}

// CreateResult carries the checkout handoff for paid registrations.
type CreateResult struct {
	Registration domain.Registration
	RedirectURL  string
	Token        string
}

func (req *CreateRequest) validate() error {
	req.Participant.Name = strings.TrimSpace(req.Participant.Name)
	req.Participant.Email = strings.TrimSpace(strings.ToLower(req.Participant.Email))
	if req.Participant.Name == "" {
		return errors.Wrap(domain.ErrInvalidInput, "participant name is required")
	}
	if req.Participant.Email == "" || !strings.Contains(req.Participant.Email, "@") {
		return errors.Wrap(domain.ErrInvalidInput, "participant email is required")
	}
	if req.Quantity < 1 {
		return errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}
	return nil
}

// Create reserves inventory and produces a pending_payment registration.
// Free registrations auto-confirm inside the same call. The reservation is
// released if anything past the reserve fails, so a failed attempt never
// strands inventory.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := req.validate(); err != nil {
		observability.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return CreateResult{}, err
	}

	event, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return CreateResult{}, err
	}
	now := time.Now().UTC()
	if event.Status != domain.EventPublished {
		return CreateResult{}, domain.ErrEventNotPublished
	}
	if !event.RegistrationOpen(now) {
		return CreateResult{}, domain.ErrRegistrationWindowClosed
	}

	tier, err := s.store.GetTier(ctx, req.TierID)
	if err != nil {
		return CreateResult{}, err
	}
	if tier.EventID != event.ID {
		return CreateResult{}, errors.Wrap(domain.ErrInvalidInput, "tier does not belong to event")
	}

	if exists, err := s.store.HasActiveRegistration(ctx, req.BuyerID, req.EventID); err != nil {
		return CreateResult{}, err
	} else if exists {
		observability.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		return CreateResult{}, domain.ErrDuplicateRegistration
	}

	if _, err := s.ledger.TryReserve(ctx, tier.ID, req.Quantity); err != nil {
		observability.RegistrationsTotal.WithLabelValues("sold_out").Inc()
		return CreateResult{}, err
	}

	reg := domain.NewRegistration(event, tier, req.BuyerID, req.Quantity, req.Participant, req.Method)
	if err := s.store.InsertRegistration(ctx, reg); err != nil {
		// The duplicate check above raced with another request from the
		// same buyer; the unique index is the authority.
		s.release(ctx, tier.ID, req.Quantity)
		observability.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		return CreateResult{}, err
	}

	if reg.IsFree() {
		return s.confirmFree(ctx, reg)
	}
	return s.startCheckout(ctx, reg, tier.ID)
}

// confirmFree completes a zero-amount registration in the same operation:
// no payment intent, straight to confirmed with a ticket.
func (s *Service) confirmFree(ctx context.Context, reg domain.Registration) (CreateResult, error) {
	won, err := s.store.ConfirmPayment(ctx, reg.ID, time.Now().UTC())
	if err != nil {
		return CreateResult{}, err
	}
	if won {
		if _, err := s.ledger.ConvertReservation(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to convert reservation", err)
		}
	}

	confirmed, err := s.store.GetRegistration(ctx, reg.ID)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.issuer.Issue(ctx, confirmed); err != nil {
		s.logger.WithField("registration_id", reg.ID).Error("ticket issuance failed", err)
	}

	final, err := s.store.GetRegistration(ctx, reg.ID)
	if err != nil {
		return CreateResult{}, err
	}
	observability.RegistrationsTotal.WithLabelValues("free_confirmed").Inc()
	return CreateResult{Registration: final}, nil
}

// startCheckout creates the provider intent. Intent failure is fatal to the
// attempt: the registration is cancelled and the reservation released.
func (s *Service) startCheckout(ctx context.Context, reg domain.Registration, tierID uuid.UUID) (CreateResult, error) {
	intent, err := s.intents.CreateIntent(ctx, reg)
	if err != nil {
		if _, cerr := s.store.CancelPending(ctx, reg.ID, domain.Cancellation{
			CancelledAt: time.Now().UTC(),
			Reason:      "payment intent creation failed",
		}, domain.TicketCancelled, domain.PaymentFailed); cerr != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to cancel after intent failure", cerr)
		}
		s.release(ctx, tierID, reg.Quantity)
		observability.RegistrationsTotal.WithLabelValues("intent_failed").Inc()
		return CreateResult{}, errors.Wrap(err, "create payment intent")
	}

	// The order id must be durable before we answer: it is the only key
	// that correlates the provider's webhook back to this registration.
	if err := s.store.SetExternalOrder(ctx, reg.ID, intent.OrderID); err != nil {
		return CreateResult{}, err
	}
	reg.Payment.ExternalOrderID = intent.OrderID

	observability.RegistrationsTotal.WithLabelValues("pending").Inc()
	return CreateResult{
		Registration: reg,
		RedirectURL:  intent.RedirectURL,
		Token:        intent.Token,
	}, nil
}

// Cancel drives an explicit cancellation by the buyer or the organizer.
func (s *Service) Cancel(ctx context.Context, registrationID, actorID uuid.UUID, reason string) (domain.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return domain.Registration{}, err
	}
	if actorID != reg.BuyerID && actorID != reg.OrganizerID {
		return domain.Registration{}, errors.Wrap(domain.ErrConflict, "actor may not cancel this registration")
	}

	switch reg.Status {
	case domain.StatusPendingPayment:
		won, err := s.store.CancelPending(ctx, reg.ID, domain.Cancellation{
			CancelledAt: time.Now().UTC(),
			CancelledBy: actorID,
			Reason:      reason,
		}, domain.TicketCancelled, domain.PaymentFailed)
		if err != nil {
			return domain.Registration{}, err
		}
		if won {
			s.release(ctx, reg.Tier.TierID, reg.Quantity)
			s.enqueue(ctx, reg, notify.KindCancellation)
		}

	case domain.StatusConfirmed:
		refund := domain.RefundNone
		if reg.Payment.Status == domain.PaymentPaid && reg.Payment.TotalAmount > 0 {
			refund = domain.RefundPending
		}
		won, err := s.store.CancelConfirmed(ctx, reg.ID, domain.Cancellation{
			CancelledAt:  time.Now().UTC(),
			CancelledBy:  actorID,
			Reason:       reason,
			RefundStatus: refund,
		})
		if err != nil {
			return domain.Registration{}, err
		}
		if won {
			if _, err := s.ledger.ReleaseSold(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
				s.logger.WithField("registration_id", reg.ID).Error("failed to release sold units", err)
			}
			s.enqueue(ctx, reg, notify.KindCancellation)
			if refund == domain.RefundPending {
				s.enqueue(ctx, reg, notify.KindRefundRequested)
			}
		}

	case domain.StatusCancelled:
		return domain.Registration{}, domain.ErrAlreadyCancelled

	default:
		return domain.Registration{}, errors.Wrapf(domain.ErrInvalidTransition,
			"cannot cancel registration in status %q", reg.Status)
	}

	return s.store.GetRegistration(ctx, registrationID)
}

// CancelEventRegistrations cascades an organizer-initiated event
// cancellation to every live registration. Failures are isolated per item.
func (s *Service) CancelEventRegistrations(ctx context.Context, eventID, organizerID uuid.UUID, reason string) (cancelled, failed int, err error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return 0, 0, err
	}
	if event.OrganizerID != organizerID {
		return 0, 0, errors.Wrap(domain.ErrConflict, "actor is not the event organizer")
	}

	for _, status := range []domain.RegistrationStatus{domain.StatusConfirmed, domain.StatusPendingPayment} {
		regs, err := s.store.ListByEventAndStatus(ctx, eventID, status)
		if err != nil {
			return cancelled, failed, err
		}
		for _, reg := range regs {
			if _, err := s.Cancel(ctx, reg.ID, organizerID, reason); err != nil {
				if errors.Is(err, domain.ErrAlreadyCancelled) {
					continue
				}
				failed++
				s.logger.WithField("registration_id", reg.ID).Error("cascade cancellation failed", err)
				continue
			}
			cancelled++
		}
	}
	return cancelled, failed, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Registration, error) {
	return s.store.GetRegistration(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (domain.Registration, error) {
	return s.store.GetByNumber(ctx, number)
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Registration, error) {
	return s.store.ListByBuyer(ctx, buyerID)
}

func (s *Service) ListByEvent(ctx context.Context, eventID uuid.UUID, limit, offset int) ([]domain.Registration, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByEvent(ctx, eventID, limit, offset)
}

// Stats serves the event statistics projection through the cache; ledger
// mutations invalidate it.
func (s *Service) Stats(ctx context.Context, eventID uuid.UUID) (postgres.EventStats, error) {
	var stats postgres.EventStats
	if s.cache != nil {
		hit, err := s.cache.GetEventStats(ctx, eventID.String(), &stats)
		if err != nil {
			s.logger.WithField("event_id", eventID).Warn("stats cache read failed", err)
		} else if hit {
			return stats, nil
		}
	}

	stats, err := s.store.GetEventStats(ctx, eventID)
	if err != nil {
		return stats, err
	}
	if s.cache != nil {
		if err := s.cache.SetEventStats(ctx, eventID.String(), stats, s.cacheTTL); err != nil {
			s.logger.WithField("event_id", eventID).Warn("stats cache write failed", err)
		}
	}
	return stats, nil
}

var csvHeader = []string{
	"number", "status", "participant_name", "participant_email",
	"tier", "quantity", "total_amount", "payment_status",
	"ticket_number", "checked_in_at", "created_at",
}

// ExportCSV streams an event's registrations, paging through the store.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, eventID uuid.UUID) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		regs, err := s.store.ListByEvent(ctx, eventID, pageSize, offset)
		if err != nil {
			return err
		}
		for _, reg := range regs {
			checkedIn := ""
			if reg.Ticket.CheckIn != nil {
				checkedIn = reg.Ticket.CheckIn.CheckedAt.Format(time.RFC3339)
			}
			record := []string{
				reg.Number,
				string(reg.Status),
				reg.Participant.Name,
				reg.Participant.Email,
				reg.Tier.Name,
				strconv.Itoa(reg.Quantity),
				strconv.FormatInt(reg.Payment.TotalAmount, 10),
				string(reg.Payment.Status),
				reg.Ticket.TicketNumber,
				checkedIn,
				reg.CreatedAt.Format(time.RFC3339),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		if len(regs) < pageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func (s *Service) release(ctx context.Context, tierID uuid.UUID, quantity int) {
	if _, err := s.ledger.ReleaseReservation(ctx, tierID, quantity); err != nil {
		s.logger.WithField("tier_id", tierID).Error("failed to release reservation", err)
	}
}

func (s *Service) enqueue(ctx context.Context, reg domain.Registration, kind notify.Kind) {
	rec, err := notify.NewOutboxRecord(reg, notify.ForRegistration(reg, kind))
	if err == nil {
		err = s.store.InsertOutbox(ctx, rec)
	}
	if err != nil {
		s.logger.WithField("registration_id", reg.ID).Warn("failed to enqueue notification", err)
	}
}
