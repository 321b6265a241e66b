// Package sweeper runs the background passes that move registrations along
// when nobody is pushing them: expiring unpaid registrations, sending payment
// reminders, and closing out ended events. Every transition goes through the
// same conditional updates the webhook path uses, so a sweep racing a
// payment settles cleanly in favor of whoever commits first.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
)

const batchSize = 200

type Store interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error)
	ListPendingDueReminder(ctx context.Context, deadline time.Time, limit int) ([]domain.Registration, error)
	ListConfirmedForEndedEvents(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error)
	ListAttendedNeedingThankYou(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error)
	CancelPending(ctx context.Context, id uuid.UUID, c domain.Cancellation, ticketStatus domain.TicketStatus, paymentStatus domain.PaymentStatus) (bool, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (bool, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error)
	MarkThankYouSent(ctx context.Context, id uuid.UUID) (bool, error)
	InsertOutbox(ctx context.Context, rec postgres.OutboxRecord) error
}

type Ledger interface {
	ReleaseReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
}

type Sweeper struct {
	store        Store
	ledger       Ledger
	interval     time.Duration
	reminderLead time.Duration
	logger       observability.Logger
}

func New(store Store, ledger Ledger, interval, reminderLead time.Duration, logger observability.Logger) *Sweeper {
	return &Sweeper{
		store:        store,
		ledger:       ledger,
		interval:     interval,
		reminderLead: reminderLead,
		logger:       logger,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. Each pass
// is independent; a failed pass is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.SweepExpiredPayments(ctx, now)
			s.SweepReminders(ctx, now)
			s.SweepNoShows(ctx, now)
			s.SweepThankYous(ctx, now)
		}
	}
}

// SweepExpiredPayments cancels pending registrations whose payment window
// closed and releases their inventory. A registration whose webhook lands
// between the list and the update simply loses the guard and is skipped.
func (s *Sweeper) SweepExpiredPayments(ctx context.Context, now time.Time) int {
	regs, err := s.store.ListExpiredPending(ctx, now, batchSize)
	if err != nil {
		s.logger.Error("failed to list expired pending registrations", err)
		return 0
	}

	swept := 0
	for _, reg := range regs {
		won, err := s.store.CancelPending(ctx, reg.ID, domain.Cancellation{
			CancelledAt: now,
			Reason:      "payment window expired",
		}, domain.TicketExpired, domain.PaymentExpired)
		if err != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to expire registration", err)
			continue
		}
		if !won {
			continue
		}
		if _, err := s.ledger.ReleaseReservation(ctx, reg.Tier.TierID, reg.Quantity); err != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to release expired reservation", err)
		}
		s.enqueue(ctx, reg, notify.KindPaymentExpired)
		observability.SweepItemsTotal.WithLabelValues("expired_payment").Inc()
		swept++
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Info("expired unpaid registrations")
	}
	return swept
}

// SweepReminders notifies buyers whose payment window is about to close.
// The reminder_sent flag guard makes each reminder at-most-once.
func (s *Sweeper) SweepReminders(ctx context.Context, now time.Time) int {
	regs, err := s.store.ListPendingDueReminder(ctx, now.Add(s.reminderLead), batchSize)
	if err != nil {
		s.logger.Error("failed to list registrations due reminder", err)
		return 0
	}

	sent := 0
	for _, reg := range regs {
		won, err := s.store.MarkReminderSent(ctx, reg.ID)
		if err != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to mark reminder sent", err)
			continue
		}
		if !won {
			continue
		}
		s.enqueue(ctx, reg, notify.KindPaymentReminder)
		observability.SweepItemsTotal.WithLabelValues("payment_reminder").Inc()
		sent++
	}
	return sent
}

// SweepNoShows marks confirmed registrations of ended events as no_show.
// Check-in and the sweep race through the same status guard, so a late
// gate scan and this pass can never both win.
func (s *Sweeper) SweepNoShows(ctx context.Context, now time.Time) int {
	regs, err := s.store.ListConfirmedForEndedEvents(ctx, now, batchSize)
	if err != nil {
		s.logger.Error("failed to list confirmed registrations for ended events", err)
		return 0
	}

	marked := 0
	for _, reg := range regs {
		won, err := s.store.MarkNoShow(ctx, reg.ID)
		if err != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to mark no-show", err)
			continue
		}
		if won {
			observability.SweepItemsTotal.WithLabelValues("no_show").Inc()
			marked++
		}
	}
	if marked > 0 {
		s.logger.WithField("count", marked).Info("marked no-show registrations")
	}
	return marked
}

// SweepThankYous sends the post-event message to attendees, once.
func (s *Sweeper) SweepThankYous(ctx context.Context, now time.Time) int {
	regs, err := s.store.ListAttendedNeedingThankYou(ctx, now, batchSize)
	if err != nil {
		s.logger.Error("failed to list attendees due thank-you", err)
		return 0
	}

	sent := 0
	for _, reg := range regs {
		won, err := s.store.MarkThankYouSent(ctx, reg.ID)
		if err != nil {
			s.logger.WithField("registration_id", reg.ID).Error("failed to mark thank-you sent", err)
			continue
		}
		if !won {
			continue
		}
		s.enqueue(ctx, reg, notify.KindThankYou)
		observability.SweepItemsTotal.WithLabelValues("thank_you").Inc()
		sent++
	}
	return sent
}

func (s *Sweeper) enqueue(ctx context.Context, reg domain.Registration, kind notify.Kind) {
	rec, err := notify.NewOutboxRecord(reg, notify.ForRegistration(reg, kind))
	if err == nil {
		err = s.store.InsertOutbox(ctx, rec)
	}
	if err != nil {
		s.logger.WithField("registration_id", reg.ID).Warn("failed to enqueue notification", err)
	}
}
