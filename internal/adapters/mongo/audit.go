package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/observability"
)

// AuditTrail is the append-only history backing check-in undo. Records are
// never updated or deleted.
type AuditTrail struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditTrail(db *mongo.Database, logger observability.Logger) *AuditTrail {
	return &AuditTrail{
		coll:   db.Collection("checkin_audit"),
		logger: logger,
	}
}

type CheckInAuditDoc struct {
	ID             uuid.UUID `bson:"_id"`
	RegistrationID uuid.UUID `bson:"registration_id"`
	TicketNumber   string    `bson:"ticket_number"`
	CheckedAt      time.Time `bson:"checked_at"`
	StaffID        uuid.UUID `bson:"staff_id"`
	Location       string    `bson:"location,omitempty"`
	DeviceInfo     string    `bson:"device_info,omitempty"`
	UndoneAt       time.Time `bson:"undone_at"`
	UndoneBy       uuid.UUID `bson:"undone_by"`
	UndoReason     string    `bson:"undo_reason"`
}

// ArchiveCheckIn stores the superseded check-in record before the registration
// reverts to confirmed.
func (a *AuditTrail) ArchiveCheckIn(ctx context.Context, reg domain.Registration, rec domain.CheckInRecord, undoneBy uuid.UUID, reason string) error {
	doc := CheckInAuditDoc{
		ID:             uuid.New(),
		RegistrationID: reg.ID,
		TicketNumber:   reg.Ticket.TicketNumber,
		CheckedAt:      rec.CheckedAt,
		StaffID:        rec.StaffID,
		Location:       rec.Location,
		DeviceInfo:     rec.DeviceInfo,
		UndoneAt:       time.Now().UTC(),
		UndoneBy:       undoneBy,
		UndoReason:     reason,
	}
	_, err := a.coll.InsertOne(ctx, doc)
	if err != nil {
		a.logger.WithField("registration_id", reg.ID).Error("failed to archive check-in record", err)
		return err
	}
	return nil
}

// History returns the archived check-in records for a registration, newest
// first.
func (a *AuditTrail) History(ctx context.Context, registrationID uuid.UUID) ([]CheckInAuditDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "undone_at", Value: -1}})
	cur, err := a.coll.Find(ctx, bson.M{"registration_id": registrationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []CheckInAuditDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
