package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campustix/campustix/internal/domain"
)

const tierSnapshotColumns = "id, event_id, name, unit_price, quota, sold, reserved"

func scanTierSnapshot(row pgx.Row) (domain.TierSnapshot, error) {
	var s domain.TierSnapshot
	err := row.Scan(&s.TierID, &s.EventID, &s.Name, &s.UnitPrice, &s.Quota, &s.Sold, &s.Reserved)
	return s, err
}

func (r *Repository) GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error) {
	var t domain.TicketTier
	err := r.pool.QueryRow(ctx, `
		SELECT id, event_id, name, unit_price, quota, sold, reserved, active
		FROM ticket_tiers WHERE id = $1
	`, tierID).Scan(&t.ID, &t.EventID, &t.Name, &t.UnitPrice, &t.Quota, &t.Sold, &t.Reserved, &t.Active)
	if err == pgx.ErrNoRows {
		return t, domain.ErrNotFound
	}
	return t, err
}

// TryReserve increments reserved in a single conditional update. Concurrent
// callers serialize on the row; whoever finds insufficient headroom gets
// zero rows back and the caller maps that to ErrInsufficientInventory after
// distinguishing an inactive or missing tier.
func (r *Repository) TryReserve(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE ticket_tiers
		SET reserved = reserved + $2
		WHERE id = $1 AND active AND quota - sold - reserved >= $2
		RETURNING `+tierSnapshotColumns,
		tierID, quantity)
	snap, err := scanTierSnapshot(row)
	if err == pgx.ErrNoRows {
		t, gerr := r.GetTier(ctx, tierID)
		if gerr != nil {
			return snap, gerr
		}
		if !t.Active {
			return snap, domain.ErrTierInactive
		}
		return snap, domain.ErrInsufficientInventory
	}
	return snap, err
}

// ReleaseReservation hands a reservation back to the available pool. The
// GREATEST guard keeps a double release from driving reserved negative.
func (r *Repository) ReleaseReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE ticket_tiers
		SET reserved = GREATEST(reserved - $2, 0)
		WHERE id = $1
		RETURNING `+tierSnapshotColumns,
		tierID, quantity)
	snap, err := scanTierSnapshot(row)
	if err == pgx.ErrNoRows {
		return snap, domain.ErrNotFound
	}
	return snap, err
}

// ConvertReservation moves units from reserved to sold on payment success.
func (r *Repository) ConvertReservation(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE ticket_tiers
		SET reserved = reserved - $2, sold = sold + $2
		WHERE id = $1 AND reserved >= $2
		RETURNING `+tierSnapshotColumns,
		tierID, quantity)
	snap, err := scanTierSnapshot(row)
	if err == pgx.ErrNoRows {
		return snap, domain.ErrConflict
	}
	return snap, err
}

// ReleaseSold returns sold units to the available pool after a confirmed
// registration is cancelled.
func (r *Repository) ReleaseSold(ctx context.Context, tierID uuid.UUID, quantity int) (domain.TierSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE ticket_tiers
		SET sold = GREATEST(sold - $2, 0)
		WHERE id = $1
		RETURNING `+tierSnapshotColumns,
		tierID, quantity)
	snap, err := scanTierSnapshot(row)
	if err == pgx.ErrNoRows {
		return snap, domain.ErrNotFound
	}
	return snap, err
}

func (r *Repository) ListTiers(ctx context.Context, eventID uuid.UUID) ([]domain.TicketTier, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, name, unit_price, quota, sold, reserved, active
		FROM ticket_tiers WHERE event_id = $1 ORDER BY unit_price ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []domain.TicketTier
	for rows.Next() {
		var t domain.TicketTier
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.UnitPrice, &t.Quota, &t.Sold, &t.Reserved, &t.Active); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}
