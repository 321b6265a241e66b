// Package inventory owns the per-tier counters. Every mutation funnels
// through the Ledger so quota can never be oversold and the event statistics
// cache is invalidated on each change.
package inventory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/observability"
)

// Store is the persistence contract for tier counters. Each mutation is a
// single atomic conditional update; concurrent callers on the same tier
// serialize on the row.
type Store interface {
	GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error)
	TryReserve(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
	ReleaseReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
	ConvertReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
	ReleaseSold(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error)
}

// StatsInvalidator drops the cached statistics projection of the parent
// event. Invalidation is best-effort.
type StatsInvalidator interface {
	InvalidateEventStats(ctx context.Context, eventID string) error
}

type Ledger struct {
	store  Store
	cache  StatsInvalidator
	logger observability.Logger
}

func NewLedger(store Store, cache StatsInvalidator, logger observability.Logger) *Ledger {
	return &Ledger{store: store, cache: cache, logger: logger}
}

// TryReserve places a hold of quantity units on the tier. Exactly one caller
// wins each unit of remaining inventory; losers get ErrInsufficientInventory.
func (l *Ledger) TryReserve(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	if quantity < 1 {
		return domain.TierSnapshot{}, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}
	snap, err := l.store.TryReserve(ctx, tierID, quantity)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientInventory) {
			observability.InventoryConflicts.Inc()
		}
		return snap, err
	}
	l.invalidate(ctx, snap.EventID)
	return snap, nil
}

// ReleaseReservation returns held units after cancellation or expiry.
func (l *Ledger) ReleaseReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	snap, err := l.store.ReleaseReservation(ctx, tierID, quantity)
	if err != nil {
		return snap, err
	}
	l.invalidate(ctx, snap.EventID)
	return snap, nil
}

// ConvertReservation turns held units into sold units on payment success.
func (l *Ledger) ConvertReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	snap, err := l.store.ConvertReservation(ctx, tierID, quantity)
	if err != nil {
		return snap, err
	}
	l.invalidate(ctx, snap.EventID)
	return snap, nil
}

// ReleaseSold returns sold units to the pool when a confirmed registration
// is cancelled.
func (l *Ledger) ReleaseSold(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	snap, err := l.store.ReleaseSold(ctx, tierID, quantity)
	if err != nil {
		return snap, err
	}
	l.invalidate(ctx, snap.EventID)
	return snap, nil
}

func (l *Ledger) invalidate(ctx context.Context, eventID uuid.UUID) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidateEventStats(ctx, eventID.String()); err != nil {
		l.logger.WithField("event_id", eventID).Warn("failed to invalidate event stats cache", err)
	}
}
