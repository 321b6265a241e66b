// Package notify models outbound messaging as an explicit queue handoff: the
// core enqueues a message through the transactional outbox, cmd/notify-worker
// publishes it to RabbitMQ and a consumer delivers it through the Notifier
// collaborator. Delivery is best-effort and never blocks or rolls back the
// transition that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelPush     Channel = "push"
	ChannelInApp    Channel = "in_app"
)

type Kind string

const (
	KindPaymentConfirmation Kind = "payment_confirmation"
	KindPaymentReminder     Kind = "payment_reminder"
	KindPaymentExpired      Kind = "payment_expired"
	KindCancellation        Kind = "cancellation"
	KindRefundRequested     Kind = "refund_requested"
	KindRefundCompleted     Kind = "refund_completed"
	KindCheckInConfirmed    Kind = "checkin_confirmed"
	KindThankYou            Kind = "thank_you"
)

// Message is the typed payload carried through the outbox and the broker.
type Message struct {
	Channel            Channel   `json:"channel"`
	Recipient          string    `json:"recipient"`
	Kind               Kind      `json:"kind"`
	RegistrationNumber string    `json:"registration_number"`
	EventID            uuid.UUID `json:"event_id"`
	ParticipantName    string    `json:"participant_name,omitempty"`
	TicketNumber       string    `json:"ticket_number,omitempty"`
	TotalAmount        int64     `json:"total_amount,omitempty"`
	Deadline           time.Time `json:"deadline,omitempty"`
	Reason             string    `json:"reason,omitempty"`
}

// Notifier is the external delivery collaborator.
type Notifier interface {
	Send(ctx context.Context, msg Message) (bool, error)
}

// RoutingKey maps a message kind to the broker routing key.
func RoutingKey(kind Kind) string {
	return "notification." + string(kind)
}

// NewOutboxRecord wraps a message for transactional enqueueing.
func NewOutboxRecord(reg domain.Registration, msg Message) (postgres.OutboxRecord, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return postgres.OutboxRecord{}, err
	}
	return postgres.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "registration",
		AggregateID:   reg.ID,
		EventType:     RoutingKey(msg.Kind),
		Payload:       payload,
		DedupeKey:     reg.ID.String() + ":" + string(msg.Kind),
	}, nil
}

// ForRegistration fills the message fields shared by every kind.
func ForRegistration(reg domain.Registration, kind Kind) Message {
	return Message{
		Channel:            ChannelEmail,
		Recipient:          reg.Participant.Email,
		Kind:               kind,
		RegistrationNumber: reg.Number,
		EventID:            reg.EventID,
		ParticipantName:    reg.Participant.Name,
		TicketNumber:       reg.Ticket.TicketNumber,
		TotalAmount:        reg.Payment.TotalAmount,
	}
}
