// Package checkin validates ticket credentials at the gate and records
// attendance. Admission is at-most-once per ticket: the store's conditional
// update is the arbiter when two staff devices scan the same credential.
package checkin

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/issuance"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
)

type Store interface {
	GetRegistration(ctx context.Context, id uuid.UUID) (domain.Registration, error)
	CheckIn(ctx context.Context, id uuid.UUID, rec domain.CheckInRecord) (bool, error)
	UndoCheckIn(ctx context.Context, id uuid.UUID) (bool, error)
	InsertOutbox(ctx context.Context, rec postgres.OutboxRecord) error
}

// Archive keeps the permanent record of undone check-ins.
type Archive interface {
	ArchiveCheckIn(ctx context.Context, reg domain.Registration, rec domain.CheckInRecord, undoneBy uuid.UUID, reason string) error
}

type Validator struct {
	store   Store
	codec   *issuance.Codec
	archive Archive
	logger  observability.Logger
}

func NewValidator(store Store, codec *issuance.Codec, archive Archive, logger observability.Logger) *Validator {
	return &Validator{
		store:   store,
		codec:   codec,
		archive: archive,
		logger:  logger,
	}
}

// ValidationResult reports what a scanned credential resolves to without
// admitting anyone.
type ValidationResult struct {
	Valid        bool
	Reason       string
	Registration domain.Registration
}

// Validate decrypts a scanned credential and reports whether the ticket
// would be admitted right now. It never mutates state.
func (v *Validator) Validate(ctx context.Context, credential string) (ValidationResult, error) {
	payload, err := v.codec.Decrypt(credential)
	if err != nil {
		return ValidationResult{}, err
	}

	reg, err := v.store.GetRegistration(ctx, payload.RegistrationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ValidationResult{}, domain.ErrInvalidCredential
		}
		return ValidationResult{}, err
	}
	if reg.Ticket.TicketNumber == "" || reg.Ticket.TicketNumber != payload.TicketNumber {
		return ValidationResult{}, domain.ErrInvalidCredential
	}

	res := ValidationResult{Registration: reg}
	switch {
	case reg.Status == domain.StatusAttended || reg.Ticket.Status == domain.TicketUsed:
		res.Reason = "already checked in"
	case reg.Status != domain.StatusConfirmed:
		res.Reason = "registration is not confirmed"
	case reg.Ticket.Status != domain.TicketValid:
		res.Reason = "ticket is cancelled or expired"
	default:
		res.Valid = true
	}
	return res, nil
}

// CheckInRequest carries the gate context recorded alongside admission.
type CheckInRequest struct {
	Credential string
	StaffID    uuid.UUID
	Location   string
	DeviceInfo string
}

// CheckIn admits the holder of a credential. The conditional update in the
// store decides the winner under concurrent scans; the loser gets
// ErrAlreadyCheckedIn (or a more specific reason from a reload).
func (v *Validator) CheckIn(ctx context.Context, req CheckInRequest) (domain.Registration, error) {
	res, err := v.Validate(ctx, req.Credential)
	if err != nil {
		observability.CheckInsTotal.WithLabelValues("invalid").Inc()
		return domain.Registration{}, err
	}
	reg := res.Registration
	if !res.Valid {
		observability.CheckInsTotal.WithLabelValues("rejected").Inc()
		return domain.Registration{}, v.rejection(reg)
	}

	rec := domain.CheckInRecord{
		CheckedAt:  time.Now().UTC(),
		StaffID:    req.StaffID,
		Location:   req.Location,
		DeviceInfo: req.DeviceInfo,
	}
	won, err := v.store.CheckIn(ctx, reg.ID, rec)
	if err != nil {
		return domain.Registration{}, err
	}
	if !won {
		// Lost the race or the state moved since validation; reload for
		// the precise reason.
		observability.CheckInsTotal.WithLabelValues("rejected").Inc()
		current, err := v.store.GetRegistration(ctx, reg.ID)
		if err != nil {
			return domain.Registration{}, err
		}
		return domain.Registration{}, v.rejection(current)
	}

	observability.CheckInsTotal.WithLabelValues("admitted").Inc()
	admitted, err := v.store.GetRegistration(ctx, reg.ID)
	if err != nil {
		return domain.Registration{}, err
	}
	v.enqueue(ctx, admitted, notify.KindCheckInConfirmed)
	return admitted, nil
}

func (v *Validator) rejection(reg domain.Registration) error {
	switch {
	case reg.Status == domain.StatusAttended || reg.Ticket.Status == domain.TicketUsed:
		return domain.ErrAlreadyCheckedIn
	case reg.Status == domain.StatusPendingPayment:
		return domain.ErrNotYetConfirmed
	default:
		return domain.ErrTicketCancelledOrExpired
	}
}

// BulkResult is one outcome in a bulk scan batch.
type BulkResult struct {
	Index        int
	Registration domain.Registration
	Err          error
}

// BulkCheckIn processes a batch of scans concurrently. Each item succeeds
// or fails on its own; the batch itself never fails.
func (v *Validator) BulkCheckIn(ctx context.Context, reqs []CheckInRequest) []BulkResult {
	results := make([]BulkResult, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			reg, err := v.CheckIn(ctx, req)
			results[i] = BulkResult{Index: i, Registration: reg, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// UndoCheckIn reverts an admission, archiving the original record first so
// the history survives the reversal. The ticket becomes scannable again.
func (v *Validator) UndoCheckIn(ctx context.Context, registrationID, undoneBy uuid.UUID, reason string) (domain.Registration, error) {
	reg, err := v.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return domain.Registration{}, err
	}
	if reg.Status != domain.StatusAttended || reg.Ticket.CheckIn == nil {
		return domain.Registration{}, errors.Wrap(domain.ErrInvalidTransition, "registration is not checked in")
	}

	// Archive before reverting. If the revert loses a race the archive
	// holds a duplicate row, which is harmless in an append-only trail.
	if err := v.archive.ArchiveCheckIn(ctx, reg, *reg.Ticket.CheckIn, undoneBy, reason); err != nil {
		return domain.Registration{}, errors.Wrap(err, "archive check-in record")
	}

	won, err := v.store.UndoCheckIn(ctx, registrationID)
	if err != nil {
		return domain.Registration{}, err
	}
	if !won {
		return domain.Registration{}, errors.Wrap(domain.ErrInvalidTransition, "registration is not checked in")
	}

	observability.CheckInsTotal.WithLabelValues("undone").Inc()
	return v.store.GetRegistration(ctx, registrationID)
}

func (v *Validator) enqueue(ctx context.Context, reg domain.Registration, kind notify.Kind) {
	rec, err := notify.NewOutboxRecord(reg, notify.ForRegistration(reg, kind))
	if err == nil {
		err = v.store.InsertOutbox(ctx, rec)
	}
	if err != nil {
		v.logger.WithField("registration_id", reg.ID).Warn("failed to enqueue notification", err)
	}
}
