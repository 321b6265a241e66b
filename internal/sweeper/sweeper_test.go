package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campustix/campustix/internal/adapters/memory"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/inventory"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
	"github.com/campustix/campustix/internal/sweeper"
)

type sweepFixture struct {
	store  *memory.Store
	ledger *inventory.Ledger
	sw     *sweeper.Sweeper
	event  domain.Event
	tier   domain.TicketTier
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	now := time.Now().UTC()
	store := memory.NewStore()
	event := domain.Event{
		ID:                   uuid.New(),
		OrganizerID:          uuid.New(),
		Status:               domain.EventPublished,
		RegistrationOpensAt:  now.Add(-24 * time.Hour),
		RegistrationClosesAt: now.Add(24 * time.Hour),
		StartsAt:             now.Add(48 * time.Hour),
		EndsAt:               now.Add(54 * time.Hour),
		PaymentWindow:        2 * time.Hour,
	}
	tier := domain.TicketTier{
		ID:        uuid.New(),
		EventID:   event.ID,
		Name:      "Regular",
		UnitPrice: 40_000,
		Quota:     100,
		Active:    true,
	}
	store.PutEvent(event)
	store.PutTier(tier)

	logger := observability.NewLogger()
	ledger := inventory.NewLedger(store, nil, logger)
	return &sweepFixture{
		store:  store,
		ledger: ledger,
		sw:     sweeper.New(store, ledger, time.Minute, 3*time.Hour, logger),
		event:  event,
		tier:   tier,
	}
}

// pending seeds a pending_payment registration whose window closes at the
// given time, with its inventory held.
func (f *sweepFixture) pending(t *testing.T, expiresAt time.Time) domain.Registration {
	t.Helper()
	reg := domain.NewRegistration(f.event, f.tier, uuid.New(), 1, domain.Participant{
		Name:  "Andi Wijaya",
		Email: "andi@example.ac.id",
	}, "qris")
	reg.Payment.ExpiresAt = expiresAt
	f.store.PutRegistration(reg)
	_, err := f.ledger.TryReserve(context.Background(), f.tier.ID, 1)
	require.NoError(t, err)
	return reg
}

func TestSweepExpiredPayments(t *testing.T) {
	f := newSweepFixture(t)
	now := time.Now().UTC()

	expired := f.pending(t, now.Add(-time.Minute))
	live := f.pending(t, now.Add(time.Hour))

	swept := f.sw.SweepExpiredPayments(context.Background(), now)
	require.Equal(t, 1, swept)

	got, _ := f.store.GetRegistration(context.Background(), expired.ID)
	require.Equal(t, domain.StatusCancelled, got.Status)
	require.Equal(t, domain.PaymentExpired, got.Payment.Status)
	require.Equal(t, domain.TicketExpired, got.Ticket.Status)

	untouched, _ := f.store.GetRegistration(context.Background(), live.ID)
	require.Equal(t, domain.StatusPendingPayment, untouched.Status)

	tier, _ := f.store.GetTier(context.Background(), f.tier.ID)
	require.Equal(t, 1, tier.Reserved)

	require.Contains(t, f.store.OutboxEventTypes(), notify.RoutingKey(notify.KindPaymentExpired))
}

func TestSweepSkipsRegistrationPaidMeanwhile(t *testing.T) {
	f := newSweepFixture(t)
	now := time.Now().UTC()
	ctx := context.Background()

	reg := f.pending(t, now.Add(-time.Minute))

	// A webhook settles the payment between the list query and the guard.
	won, err := f.store.ConfirmPayment(ctx, reg.ID, now)
	require.NoError(t, err)
	require.True(t, won)
	_, err = f.ledger.ConvertReservation(ctx, f.tier.ID, 1)
	require.NoError(t, err)

	swept := f.sw.SweepExpiredPayments(ctx, now)
	require.Zero(t, swept)

	got, _ := f.store.GetRegistration(ctx, reg.ID)
	require.Equal(t, domain.StatusConfirmed, got.Status)
	tier, _ := f.store.GetTier(ctx, f.tier.ID)
	require.Equal(t, 1, tier.Sold)
}

func TestSweepRemindersSendsOnce(t *testing.T) {
	f := newSweepFixture(t)
	now := time.Now().UTC()

	f.pending(t, now.Add(2*time.Hour))  // inside the 3h reminder lead
	f.pending(t, now.Add(12*time.Hour)) // not due yet

	sent := f.sw.SweepReminders(context.Background(), now)
	require.Equal(t, 1, sent)

	// A second pass finds the flag set and sends nothing.
	require.Zero(t, f.sw.SweepReminders(context.Background(), now))

	kinds := f.store.OutboxEventTypes()
	count := 0
	for _, k := range kinds {
		if k == notify.RoutingKey(notify.KindPaymentReminder) {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestSweepNoShowsAfterEventEnds(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	reg := f.pending(t, time.Now().UTC().Add(time.Hour))
	won, err := f.store.ConfirmPayment(ctx, reg.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	// Before the event ends nothing happens.
	require.Zero(t, f.sw.SweepNoShows(ctx, f.event.EndsAt.Add(-time.Minute)))

	marked := f.sw.SweepNoShows(ctx, f.event.EndsAt.Add(time.Minute))
	require.Equal(t, 1, marked)

	got, _ := f.store.GetRegistration(ctx, reg.ID)
	require.Equal(t, domain.StatusNoShow, got.Status)
	require.Equal(t, domain.TicketExpired, got.Ticket.Status)
}

func TestSweepNoShowsSkipsAttendees(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	reg := f.pending(t, time.Now().UTC().Add(time.Hour))
	won, err := f.store.ConfirmPayment(ctx, reg.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)
	won, err = f.store.CheckIn(ctx, reg.ID, domain.CheckInRecord{CheckedAt: time.Now().UTC(), StaffID: uuid.New()})
	require.NoError(t, err)
	require.True(t, won)

	require.Zero(t, f.sw.SweepNoShows(ctx, f.event.EndsAt.Add(time.Minute)))

	got, _ := f.store.GetRegistration(ctx, reg.ID)
	require.Equal(t, domain.StatusAttended, got.Status)
}

func TestSweepThankYousSendsOnce(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	reg := f.pending(t, time.Now().UTC().Add(time.Hour))
	won, err := f.store.ConfirmPayment(ctx, reg.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)
	won, err = f.store.CheckIn(ctx, reg.ID, domain.CheckInRecord{CheckedAt: time.Now().UTC(), StaffID: uuid.New()})
	require.NoError(t, err)
	require.True(t, won)

	after := f.event.EndsAt.Add(time.Minute)
	require.Equal(t, 1, f.sw.SweepThankYous(ctx, after))
	require.Zero(t, f.sw.SweepThankYous(ctx, after))

	require.Contains(t, f.store.OutboxEventTypes(), notify.RoutingKey(notify.KindThankYou))
}
