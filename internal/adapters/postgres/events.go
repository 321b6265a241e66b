package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campustix/campustix/internal/domain"
)

func (r *Repository) GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	var (
		e           domain.Event
		windowSecs  int64
		statusValue string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, organizer_id, title, status,
			registration_opens_at, registration_closes_at,
			starts_at, ends_at, payment_window_seconds, admin_fee
		FROM events WHERE id = $1
	`, eventID).Scan(&e.ID, &e.OrganizerID, &e.Title, &statusValue,
		&e.RegistrationOpensAt, &e.RegistrationClosesAt,
		&e.StartsAt, &e.EndsAt, &windowSecs, &e.AdminFee)
	if err == pgx.ErrNoRows {
		return e, domain.ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Status = domain.EventStatus(statusValue)
	e.PaymentWindow = time.Duration(windowSecs) * time.Second
	return e, nil
}
