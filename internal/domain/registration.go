package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RegistrationStatus string

const (
	StatusPendingPayment RegistrationStatus = "pending_payment"
	StatusConfirmed      RegistrationStatus = "confirmed"
	StatusCancelled      RegistrationStatus = "cancelled"
	StatusAttended       RegistrationStatus = "attended"
	StatusNoShow         RegistrationStatus = "no_show"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentExpired  PaymentStatus = "expired"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
)

// Participant is the contact supplied at registration time. It is kept
// separate from the buyer's account because someone may register on behalf
// of another person.
type Participant struct {
	Name        string
	Email       string
	Phone       string
	Institution string
	StudentID   string
}

type Payment struct {
	Method          string
	Status          PaymentStatus
	Amount          int64
	AdminFee        int64
	TotalAmount     int64
	ExternalOrderID string
	PaidAt          *time.Time
	ExpiresAt       time.Time
	RefundedAt      *time.Time
	RefundReason    string
}

// CheckInRecord is stamped on the ticket when a staff member admits the
// attendee. Undo archives the record to the audit trail before clearing it.
type CheckInRecord struct {
	CheckedAt  time.Time
	StaffID    uuid.UUID
	Location   string
	DeviceInfo string
}

type Ticket struct {
	TicketNumber string
	Credential   string
	Status       TicketStatus
	QRCodeURL    string
	PDFURL       string
	CheckIn      *CheckInRecord
}

type Cancellation struct {
	CancelledAt  time.Time
	CancelledBy  uuid.UUID
	Reason       string
	RefundStatus RefundStatus
}

// NotificationFlags are idempotency guards for outbound messages. Each flag
// flips exactly once per registration.
type NotificationFlags struct {
	ReminderSent     bool
	ConfirmationSent bool
	ThankYouSent     bool
}

// TierRef snapshots the tier at purchase time so later price edits never
// retroactively change a paid registration.
type TierRef struct {
	TierID    uuid.UUID
	Name      string
	UnitPrice int64
}

// Registration is the central entity of the service. It is never hard
// deleted; cancelled registrations are retained for audit and refund
// bookkeeping.
type Registration struct {
	ID          uuid.UUID
	Number      string
	BuyerID     uuid.UUID
	EventID     uuid.UUID
	OrganizerID uuid.UUID
	Tier        TierRef
	Quantity    int
	Participant Participant
	Payment     Payment
	Ticket      Ticket
	Status      RegistrationStatus
	Cancelled   *Cancellation
	Flags       NotificationFlags
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r Registration) IsFree() bool {
	return r.Payment.TotalAmount == 0
}

// NewRegistration builds a pending registration with a snapshot of the tier
// and a payment deadline derived from the event's payment window.
func NewRegistration(event Event, tier TicketTier, buyerID uuid.UUID, quantity int, p Participant, method string) Registration {
	now := time.Now().UTC()
	amount := tier.UnitPrice * int64(quantity)
	adminFee := event.AdminFee
	if amount == 0 {
		adminFee = 0
	}
	return Registration{
		ID:          uuid.New(),
		Number:      NewRegistrationNumber(now),
		BuyerID:     buyerID,
		EventID:     event.ID,
		OrganizerID: event.OrganizerID,
		Tier: TierRef{
			TierID:    tier.ID,
			Name:      tier.Name,
			UnitPrice: tier.UnitPrice,
		},
		Quantity:    quantity,
		Participant: p,
		Payment: Payment{
			Method:      method,
			Status:      PaymentPending,
			Amount:      amount,
			AdminFee:    adminFee,
			TotalAmount: amount + adminFee,
			ExpiresAt:   now.Add(event.PaymentWindow),
		},
		Ticket:    Ticket{Status: TicketValid},
		Status:    StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewRegistrationNumber returns a collision-resistant human-legible number
// embedding the year, e.g. REG-2026-4F1A9C23.
func NewRegistrationNumber(now time.Time) string {
	return fmt.Sprintf("REG-%d-%s", now.Year(), randomToken(4))
}

// NewTicketNumber returns a ticket number embedding the year, e.g.
// TIX-2026-1D4E9A0B7C.
func NewTicketNumber(now time.Time) string {
	return fmt.Sprintf("TIX-%d-%s", now.Year(), randomToken(5))
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to a uuid in that case.
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n*2])
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
