// Package memory is an in-process store with the same guard semantics as the
// Postgres adapter. It backs unit tests, including the concurrency property
// tests, without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
)

type Store struct {
	mu            sync.Mutex
	events        map[uuid.UUID]domain.Event
	tiers         map[uuid.UUID]domain.TicketTier
	registrations map[uuid.UUID]domain.Registration
	Outbox        []postgres.OutboxRecord
}

func NewStore() *Store {
	return &Store{
		events:        make(map[uuid.UUID]domain.Event),
		tiers:         make(map[uuid.UUID]domain.TicketTier),
		registrations: make(map[uuid.UUID]domain.Registration),
	}
}

func (s *Store) PutEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

func (s *Store) PutTier(t domain.TicketTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[t.ID] = t
}

func (s *Store) PutRegistration(reg domain.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.ID] = reg
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *Store) eventEnded(eventID uuid.UUID, now time.Time) bool {
	e, ok := s.events[eventID]
	return ok && !e.EndsAt.After(now)
}

func (s *Store) ListConfirmedForEndedEvents(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.sorted(func(r domain.Registration) bool {
		return r.Status == domain.StatusConfirmed && s.eventEnded(r.EventID, now)
	})
	if len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}

func (s *Store) ListAttendedNeedingThankYou(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.sorted(func(r domain.Registration) bool {
		return r.Status == domain.StatusAttended && !r.Flags.ThankYouSent && s.eventEnded(r.EventID, now)
	})
	if len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}

func snapshot(t domain.TicketTier) domain.TierSnapshot {
	return domain.TierSnapshot{
		TierID:    t.ID,
		EventID:   t.EventID,
		Name:      t.Name,
		UnitPrice: t.UnitPrice,
		Quota:     t.Quota,
		Sold:      t.Sold,
		Reserved:  t.Reserved,
	}
}

func (s *Store) GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.TicketTier{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *Store) TryReserve(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.TierSnapshot{}, domain.ErrNotFound
	}
	if !t.Active {
		return domain.TierSnapshot{}, domain.ErrTierInactive
	}
	if t.Quota-t.Sold-t.Reserved < quantity {
		return domain.TierSnapshot{}, domain.ErrInsufficientInventory
	}
	t.Reserved += quantity
	s.tiers[tierID] = t
	return snapshot(t), nil
}

func (s *Store) ReleaseReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.TierSnapshot{}, domain.ErrNotFound
	}
	t.Reserved -= quantity
	if t.Reserved < 0 {
		t.Reserved = 0
	}
	s.tiers[tierID] = t
	return snapshot(t), nil
}

func (s *Store) ConvertReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.TierSnapshot{}, domain.ErrNotFound
	}
	if t.Reserved < quantity {
		return domain.TierSnapshot{}, domain.ErrConflict
	}
	t.Reserved -= quantity
	t.Sold += quantity
	s.tiers[tierID] = t
	return snapshot(t), nil
}

func (s *Store) ReleaseSold(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.TierSnapshot{}, domain.ErrNotFound
	}
	t.Sold -= quantity
	if t.Sold < 0 {
		t.Sold = 0
	}
	s.tiers[tierID] = t
	return snapshot(t), nil
}

func (s *Store) ListTiers(ctx context.Context, eventID uuid.UUID) ([]domain.TicketTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tiers []domain.TicketTier
	for _, t := range s.tiers {
		if t.EventID == eventID {
			tiers = append(tiers, t)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].UnitPrice < tiers[j].UnitPrice })
	return tiers, nil
}

func (s *Store) InsertRegistration(ctx context.Context, reg domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.registrations {
		if existing.BuyerID == reg.BuyerID && existing.EventID == reg.EventID && existing.Status != domain.StatusCancelled {
			return domain.ErrDuplicateRegistration
		}
	}
	s.registrations[reg.ID] = reg
	return nil
}

func (s *Store) GetRegistration(ctx context.Context, id uuid.UUID) (domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return domain.Registration{}, domain.ErrNotFound
	}
	return reg, nil
}

func (s *Store) GetByNumber(ctx context.Context, number string) (domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.registrations {
		if reg.Number == number {
			return reg, nil
		}
	}
	return domain.Registration{}, domain.ErrNotFound
}

func (s *Store) GetByExternalOrderID(ctx context.Context, orderID string) (domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.registrations {
		if reg.Payment.ExternalOrderID == orderID && orderID != "" {
			return reg, nil
		}
	}
	return domain.Registration{}, domain.ErrNotFound
}

func (s *Store) HasActiveRegistration(ctx context.Context, buyerID, eventID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.registrations {
		if reg.BuyerID == buyerID && reg.EventID == eventID && reg.Status != domain.StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetExternalOrder(ctx context.Context, id uuid.UUID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return domain.ErrNotFound
	}
	reg.Payment.ExternalOrderID = orderID
	s.registrations[id] = reg
	return nil
}

func (s *Store) ConfirmPayment(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Status != domain.StatusPendingPayment {
		return false, nil
	}
	reg.Status = domain.StatusConfirmed
	reg.Payment.Status = domain.PaymentPaid
	reg.Payment.PaidAt = &paidAt
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) CancelPending(ctx context.Context, id uuid.UUID, c domain.Cancellation, ticketStatus domain.TicketStatus, paymentStatus domain.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Status != domain.StatusPendingPayment {
		return false, nil
	}
	reg.Status = domain.StatusCancelled
	reg.Payment.Status = paymentStatus
	reg.Ticket.Status = ticketStatus
	c.RefundStatus = domain.RefundNone
	reg.Cancelled = &c
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) CancelConfirmed(ctx context.Context, id uuid.UUID, c domain.Cancellation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Status != domain.StatusConfirmed {
		return false, nil
	}
	reg.Status = domain.StatusCancelled
	reg.Ticket.Status = domain.TicketCancelled
	reg.Payment.RefundReason = c.Reason
	reg.Cancelled = &c
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) AssignTicket(ctx context.Context, id uuid.UUID, number, credential string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Ticket.TicketNumber != "" {
		return false, nil
	}
	reg.Ticket.TicketNumber = number
	reg.Ticket.Credential = credential
	reg.Ticket.Status = domain.TicketValid
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) SetTicketArtifacts(ctx context.Context, id uuid.UUID, qrURL, pdfURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return domain.ErrNotFound
	}
	reg.Ticket.QRCodeURL = qrURL
	reg.Ticket.PDFURL = pdfURL
	s.registrations[id] = reg
	return nil
}

func (s *Store) CheckIn(ctx context.Context, id uuid.UUID, rec domain.CheckInRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Status != domain.StatusConfirmed || reg.Ticket.Status != domain.TicketValid {
		return false, nil
	}
	reg.Status = domain.StatusAttended
	reg.Ticket.Status = domain.TicketUsed
	reg.Ticket.CheckIn = &rec
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) UndoCheckIn(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Status != domain.StatusAttended {
		return false, nil
	}
	reg.Status = domain.StatusConfirmed
	reg.Ticket.Status = domain.TicketValid
	reg.Ticket.CheckIn = nil
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) MarkNoShow(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Status != domain.StatusConfirmed {
		return false, nil
	}
	reg.Status = domain.StatusNoShow
	reg.Ticket.Status = domain.TicketExpired
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Cancelled == nil || reg.Cancelled.RefundStatus != domain.RefundPending {
		return false, nil
	}
	reg.Payment.Status = domain.PaymentRefunded
	reg.Payment.RefundedAt = &at
	reg.Cancelled.RefundStatus = domain.RefundCompleted
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Flags.ReminderSent {
		return false, nil
	}
	reg.Flags.ReminderSent = true
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) MarkConfirmationSent(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Flags.ConfirmationSent {
		return false, nil
	}
	reg.Flags.ConfirmationSent = true
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) MarkThankYouSent(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok || reg.Flags.ThankYouSent {
		return false, nil
	}
	reg.Flags.ThankYouSent = true
	s.registrations[id] = reg
	return true, nil
}

func (s *Store) sorted(match func(domain.Registration) bool) []domain.Registration {
	var regs []domain.Registration
	for _, reg := range s.registrations {
		if match(reg) {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.Before(regs[j].CreatedAt) })
	return regs
}

func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.sorted(func(r domain.Registration) bool {
		return r.Status == domain.StatusPendingPayment && !r.Payment.ExpiresAt.After(now)
	})
	if len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}

func (s *Store) ListPendingDueReminder(ctx context.Context, deadline time.Time, limit int) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.sorted(func(r domain.Registration) bool {
		return r.Status == domain.StatusPendingPayment && !r.Flags.ReminderSent && !r.Payment.ExpiresAt.After(deadline)
	})
	if len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}

func (s *Store) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(r domain.Registration) bool { return r.BuyerID == buyerID }), nil
}

func (s *Store) ListByEvent(ctx context.Context, eventID uuid.UUID, limit, offset int) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.sorted(func(r domain.Registration) bool { return r.EventID == eventID })
	if offset >= len(regs) {
		return nil, nil
	}
	regs = regs[offset:]
	if len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}

func (s *Store) ListByEventAndStatus(ctx context.Context, eventID uuid.UUID, status domain.RegistrationStatus) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(r domain.Registration) bool {
		return r.EventID == eventID && r.Status == status
	}), nil
}

func (s *Store) GetEventStats(ctx context.Context, eventID uuid.UUID) (postgres.EventStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := postgres.EventStats{EventID: eventID}
	for _, reg := range s.registrations {
		if reg.EventID != eventID {
			continue
		}
		if reg.Payment.Status == domain.PaymentPaid {
			stats.TotalSold += reg.Quantity
			stats.TotalRevenue += reg.Payment.TotalAmount
		}
		switch reg.Status {
		case domain.StatusPendingPayment:
			stats.PendingCount++
		case domain.StatusConfirmed:
			stats.ConfirmedCount++
		case domain.StatusAttended:
			stats.AttendedCount++
		case domain.StatusCancelled:
			stats.CancelledCount++
		case domain.StatusNoShow:
			stats.NoShowCount++
		}
	}
	return stats, nil
}

func (s *Store) InsertOutbox(ctx context.Context, rec postgres.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CreatedAt = time.Now().UTC()
	rec.Status = "NEW"
	s.Outbox = append(s.Outbox, rec)
	return nil
}

// OutboxEventTypes lists the enqueued event types in insertion order, for
// test assertions.
func (s *Store) OutboxEventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.Outbox))
	for i, rec := range s.Outbox {
		types[i] = rec.EventType
	}
	return types
}
