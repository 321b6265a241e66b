package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campustix/campustix/internal/domain"
)

const uniqueViolationCode = "23505"

const regColumns = `id, number, buyer_id, event_id, organizer_id,
	tier_id, tier_name, unit_price, quantity,
	participant_name, participant_email, participant_phone, participant_institution, participant_student_id,
	payment_method, payment_status, amount, admin_fee, total_amount,
	external_order_id, paid_at, payment_expires_at, refunded_at, refund_reason,
	ticket_number, credential, ticket_status, qr_url, pdf_url,
	checked_in_at, checked_in_by, checkin_location, checkin_device,
	status, cancelled_at, cancelled_by, cancel_reason, refund_status,
	reminder_sent, confirmation_sent, thank_you_sent, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (domain.Registration, error) {
	var (
		reg          domain.Registration
		extOrderID   *string
		ticketNumber *string
		paidAt       *time.Time
		refundedAt   *time.Time
		checkedInAt  *time.Time
		cancelledAt  *time.Time
		checkedInBy  uuid.NullUUID
		cancelledBy  uuid.NullUUID
		checkinLoc   string
		checkinDev   string
		cancelReason string
		refundStatus string
	)

	err := row.Scan(
		&reg.ID, &reg.Number, &reg.BuyerID, &reg.EventID, &reg.OrganizerID,
		&reg.Tier.TierID, &reg.Tier.Name, &reg.Tier.UnitPrice, &reg.Quantity,
		&reg.Participant.Name, &reg.Participant.Email, &reg.Participant.Phone,
		&reg.Participant.Institution, &reg.Participant.StudentID,
		&reg.Payment.Method, &reg.Payment.Status, &reg.Payment.Amount,
		&reg.Payment.AdminFee, &reg.Payment.TotalAmount,
		&extOrderID, &paidAt, &reg.Payment.ExpiresAt, &refundedAt, &reg.Payment.RefundReason,
		&ticketNumber, &reg.Ticket.Credential, &reg.Ticket.Status,
		&reg.Ticket.QRCodeURL, &reg.Ticket.PDFURL,
		&checkedInAt, &checkedInBy, &checkinLoc, &checkinDev,
		&reg.Status, &cancelledAt, &cancelledBy, &cancelReason, &refundStatus,
		&reg.Flags.ReminderSent, &reg.Flags.ConfirmationSent, &reg.Flags.ThankYouSent,
		&reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return reg, err
	}

	if extOrderID != nil {
		reg.Payment.ExternalOrderID = *extOrderID
	}
	if ticketNumber != nil {
		reg.Ticket.TicketNumber = *ticketNumber
	}
	reg.Payment.PaidAt = paidAt
	reg.Payment.RefundedAt = refundedAt
	if checkedInAt != nil {
		reg.Ticket.CheckIn = &domain.CheckInRecord{
			CheckedAt:  *checkedInAt,
			StaffID:    checkedInBy.UUID,
			Location:   checkinLoc,
			DeviceInfo: checkinDev,
		}
	}
	if cancelledAt != nil {
		reg.Cancelled = &domain.Cancellation{
			CancelledAt:  *cancelledAt,
			CancelledBy:  cancelledBy.UUID,
			Reason:       cancelReason,
			RefundStatus: domain.RefundStatus(refundStatus),
		}
	}
	return reg, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertRegistration writes a freshly created pending registration. A hit on
// the one-live-registration-per-buyer partial unique index maps to
// ErrDuplicateRegistration so the caller can release its reservation.
func (r *Repository) InsertRegistration(ctx context.Context, reg domain.Registration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO registrations (
			id, number, buyer_id, event_id, organizer_id,
			tier_id, tier_name, unit_price, quantity,
			participant_name, participant_email, participant_phone, participant_institution, participant_student_id,
			payment_method, payment_status, amount, admin_fee, total_amount,
			external_order_id, payment_expires_at,
			ticket_status, status, refund_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21,
			$22, $23, 'none',
			$24, $25
		)
	`,
		reg.ID, reg.Number, reg.BuyerID, reg.EventID, reg.OrganizerID,
		reg.Tier.TierID, reg.Tier.Name, reg.Tier.UnitPrice, reg.Quantity,
		reg.Participant.Name, reg.Participant.Email, reg.Participant.Phone,
		reg.Participant.Institution, reg.Participant.StudentID,
		reg.Payment.Method, reg.Payment.Status, reg.Payment.Amount,
		reg.Payment.AdminFee, reg.Payment.TotalAmount,
		nilIfEmpty(reg.Payment.ExternalOrderID), reg.Payment.ExpiresAt,
		reg.Ticket.Status, reg.Status,
		reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrDuplicateRegistration
		}
		return err
	}
	return nil
}

func (r *Repository) GetRegistration(ctx context.Context, id uuid.UUID) (domain.Registration, error) {
	reg, err := scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return reg, domain.ErrNotFound
	}
	return reg, err
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (domain.Registration, error) {
	reg, err := scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE number = $1`, number))
	if err == pgx.ErrNoRows {
		return reg, domain.ErrNotFound
	}
	return reg, err
}

func (r *Repository) GetByExternalOrderID(ctx context.Context, orderID string) (domain.Registration, error) {
	reg, err := scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE external_order_id = $1`, orderID))
	if err == pgx.ErrNoRows {
		return reg, domain.ErrNotFound
	}
	return reg, err
}

func (r *Repository) HasActiveRegistration(ctx context.Context, buyerID, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM registrations
			WHERE buyer_id = $1 AND event_id = $2 AND status <> 'cancelled'
		)
	`, buyerID, eventID).Scan(&exists)
	return exists, err
}

// SetExternalOrder records the provider order id that correlates later
// webhook deliveries with this registration.
func (r *Repository) SetExternalOrder(ctx context.Context, id uuid.UUID, orderID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations SET external_order_id = $2, updated_at = now() WHERE id = $1
	`, id, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConfirmPayment performs the pending_payment -> confirmed transition. The
// status guard makes webhook redelivery and the expiry sweep race safe:
// whoever loses sees zero rows.
func (r *Repository) ConfirmPayment(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET status = 'confirmed', payment_status = 'paid', paid_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending_payment'
	`, id, paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelPending closes out a registration that never reached confirmed. The
// ticket and payment statuses distinguish expiry from failure from an
// explicit cancel.
func (r *Repository) CancelPending(ctx context.Context, id uuid.UUID, c domain.Cancellation, ticketStatus domain.TicketStatus, paymentStatus domain.PaymentStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET status = 'cancelled', payment_status = $2, ticket_status = $3,
			cancelled_at = $4, cancelled_by = $5, cancel_reason = $6,
			refund_status = 'none', updated_at = now()
		WHERE id = $1 AND status = 'pending_payment'
	`, id, paymentStatus, ticketStatus, c.CancelledAt, c.CancelledBy, c.Reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelConfirmed cancels a paid registration and flags the refund request.
func (r *Repository) CancelConfirmed(ctx context.Context, id uuid.UUID, c domain.Cancellation) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET status = 'cancelled', ticket_status = 'cancelled',
			cancelled_at = $2, cancelled_by = $3, cancel_reason = $4,
			refund_status = $5, refund_reason = $4, updated_at = now()
		WHERE id = $1 AND status = 'confirmed'
	`, id, c.CancelledAt, c.CancelledBy, c.Reason, c.RefundStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AssignTicket sets the ticket number and credential exactly once.
func (r *Repository) AssignTicket(ctx context.Context, id uuid.UUID, number, credential string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET ticket_number = $2, credential = $3, ticket_status = 'valid', updated_at = now()
		WHERE id = $1 AND ticket_number IS NULL
	`, id, number, credential)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) SetTicketArtifacts(ctx context.Context, id uuid.UUID, qrURL, pdfURL string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE registrations SET qr_url = $2, pdf_url = $3, updated_at = now() WHERE id = $1
	`, id, qrURL, pdfURL)
	return err
}

// CheckIn is the at-most-once gate: a single conditional update keyed on
// the current status, so two simultaneous scans cannot both win.
func (r *Repository) CheckIn(ctx context.Context, id uuid.UUID, rec domain.CheckInRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET status = 'attended', ticket_status = 'used',
			checked_in_at = $2, checked_in_by = $3,
			checkin_location = $4, checkin_device = $5, updated_at = now()
		WHERE id = $1 AND status = 'confirmed' AND ticket_status = 'valid'
	`, id, rec.CheckedAt, rec.StaffID, rec.Location, rec.DeviceInfo)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UndoCheckIn reverts attended -> confirmed. The caller archives the prior
// check-in record to the audit trail before invoking this.
func (r *Repository) UndoCheckIn(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET status = 'confirmed', ticket_status = 'valid',
			checked_in_at = NULL, checked_in_by = NULL,
			checkin_location = '', checkin_device = '', updated_at = now()
		WHERE id = $1 AND status = 'attended'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkNoShow(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET status = 'no_show', ticket_status = 'expired', updated_at = now()
		WHERE id = $1 AND status = 'confirmed'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRefunded settles a previously requested refund.
func (r *Repository) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET payment_status = 'refunded', refund_status = 'completed',
			refunded_at = $2, updated_at = now()
		WHERE id = $1 AND refund_status = 'pending'
	`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// The notification flag mutators flip each guard at most once; the boolean
// result tells the caller whether it owns the send.

func (r *Repository) MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations SET reminder_sent = TRUE, updated_at = now()
		WHERE id = $1 AND NOT reminder_sent
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkConfirmationSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations SET confirmation_sent = TRUE, updated_at = now()
		WHERE id = $1 AND NOT confirmation_sent
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkThankYouSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations SET thank_you_sent = TRUE, updated_at = now()
		WHERE id = $1 AND NOT thank_you_sent
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) listRegistrations(ctx context.Context, query string, args ...any) ([]domain.Registration, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (r *Repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE status = 'pending_payment' AND payment_expires_at <= $1
		ORDER BY payment_expires_at ASC LIMIT $2
	`, now, limit)
}

func (r *Repository) ListPendingDueReminder(ctx context.Context, deadline time.Time, limit int) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE status = 'pending_payment' AND NOT reminder_sent AND payment_expires_at <= $1
		ORDER BY payment_expires_at ASC LIMIT $2
	`, deadline, limit)
}

func (r *Repository) ListConfirmedForEndedEvents(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE status = 'confirmed'
		  AND event_id IN (SELECT id FROM events WHERE ends_at <= $1)
		ORDER BY created_at ASC LIMIT $2
	`, now, limit)
}

func (r *Repository) ListAttendedNeedingThankYou(ctx context.Context, now time.Time, limit int) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE status = 'attended' AND NOT thank_you_sent
		  AND event_id IN (SELECT id FROM events WHERE ends_at <= $1)
		ORDER BY created_at ASC LIMIT $2
	`, now, limit)
}

func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE buyer_id = $1 ORDER BY created_at DESC
	`, buyerID)
}

func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID, limit, offset int) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE event_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3
	`, eventID, limit, offset)
}

func (r *Repository) ListByEventAndStatus(ctx context.Context, eventID uuid.UUID, status domain.RegistrationStatus) ([]domain.Registration, error) {
	return r.listRegistrations(ctx, `
		SELECT `+regColumns+` FROM registrations
		WHERE event_id = $1 AND status = $2 ORDER BY created_at ASC
	`, eventID, status)
}

// EventStats aggregates sold quantity and captured revenue per event;
// results are cached in Redis and invalidated by ledger mutations.
type EventStats struct {
	EventID          uuid.UUID `json:"event_id"`
	TotalSold        int       `json:"total_sold"`
	TotalRevenue     int64     `json:"total_revenue"`
	PendingCount     int       `json:"pending_count"`
	ConfirmedCount   int       `json:"confirmed_count"`
	AttendedCount    int       `json:"attended_count"`
	CancelledCount   int       `json:"cancelled_count"`
	NoShowCount      int       `json:"no_show_count"`
}

func (r *Repository) GetEventStats(ctx context.Context, eventID uuid.UUID) (EventStats, error) {
	stats := EventStats{EventID: eventID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(quantity) FILTER (WHERE payment_status = 'paid'), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE payment_status = 'paid'), 0),
			COUNT(*) FILTER (WHERE status = 'pending_payment'),
			COUNT(*) FILTER (WHERE status = 'confirmed'),
			COUNT(*) FILTER (WHERE status = 'attended'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'no_show')
		FROM registrations WHERE event_id = $1
	`, eventID).Scan(&stats.TotalSold, &stats.TotalRevenue,
		&stats.PendingCount, &stats.ConfirmedCount, &stats.AttendedCount,
		&stats.CancelledCount, &stats.NoShowCount)
	return stats, err
}
