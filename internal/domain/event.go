package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Event carries only the fields that constrain the registration lifecycle.
// Full event CRUD lives outside this service.
type Event struct {
	ID                   uuid.UUID
	OrganizerID          uuid.UUID
	Title                string
	Status               EventStatus
	RegistrationOpensAt  time.Time
	RegistrationClosesAt time.Time
	StartsAt             time.Time
	EndsAt               time.Time
	PaymentWindow        time.Duration
	AdminFee             int64
}

// RegistrationOpen reports whether now falls inside the registration window
// of a published event.
func (e Event) RegistrationOpen(now time.Time) bool {
	return !now.Before(e.RegistrationOpensAt) && !now.After(e.RegistrationClosesAt)
}
