package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrEventNotPublished        = errors.New("event is not published")
	ErrRegistrationWindowClosed = errors.New("registration window is closed")
	ErrTierInactive             = errors.New("ticket tier is inactive")
	ErrInsufficientInventory    = errors.New("insufficient ticket inventory")
	ErrDuplicateRegistration    = errors.New("buyer already registered for this event")

	ErrAlreadyCancelled         = errors.New("registration already cancelled")
	ErrNotYetConfirmed          = errors.New("registration not yet confirmed")
	ErrAlreadyCheckedIn         = errors.New("ticket already checked in")
	ErrTicketCancelledOrExpired = errors.New("ticket is cancelled or expired")
	ErrInvalidTransition        = errors.New("invalid status transition")

	ErrInvalidCredential = errors.New("invalid ticket credential")
	ErrInvalidSignature  = errors.New("invalid notification signature")
)
