// Package issuance turns a confirmed registration into a distributable
// e-ticket: a unique ticket number, an encrypted credential, and rendered
// QR/PDF artifacts stored through the blob collaborator.
package issuance

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/domain"
	"github.com/campustix/campustix/internal/notify"
	"github.com/campustix/campustix/internal/observability"
)

// BlobStore is the external artifact store; returned URLs are assumed
// durable and publicly fetchable.
type BlobStore interface {
	Store(ctx context.Context, data []byte, contentHint string) (string, error)
}

type Store interface {
	GetRegistration(ctx context.Context, id uuid.UUID) (domain.Registration, error)
	AssignTicket(ctx context.Context, id uuid.UUID, number, credential string) (bool, error)
	SetTicketArtifacts(ctx context.Context, id uuid.UUID, qrURL, pdfURL string) error
	MarkConfirmationSent(ctx context.Context, id uuid.UUID) (bool, error)
	InsertOutbox(ctx context.Context, rec postgres.OutboxRecord) error
}

type Issuer struct {
	store  Store
	codec  *Codec
	blob   BlobStore
	logger observability.Logger
}

func NewIssuer(store Store, codec *Codec, blob BlobStore, logger observability.Logger) *Issuer {
	return &Issuer{store: store, codec: codec, blob: blob, logger: logger}
}

// Issue assigns the ticket credential to a confirmed registration. It is
// idempotent: once a ticket number exists the call is a no-op, and the
// conditional assignment settles concurrent racers. Artifact rendering and
// the confirmation notification are best-effort; their failure never unwinds
// the confirmed payment.
func (i *Issuer) Issue(ctx context.Context, reg domain.Registration) error {
	if reg.Ticket.TicketNumber != "" {
		return nil
	}

	now := time.Now().UTC()
	number := domain.NewTicketNumber(now)
	credential, err := i.codec.Encrypt(CredentialPayload{
		TicketNumber:   number,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		BuyerID:        reg.BuyerID,
		IssuedAt:       now,
	})
	if err != nil {
		return err
	}

	won, err := i.store.AssignTicket(ctx, reg.ID, number, credential)
	if err != nil {
		return err
	}
	if !won {
		// Another issuer got there first; the existing ticket stands.
		return nil
	}

	reg.Ticket.TicketNumber = number
	reg.Ticket.Credential = credential
	i.renderArtifacts(ctx, reg)
	i.sendConfirmation(ctx, reg)
	return nil
}

func (i *Issuer) renderArtifacts(ctx context.Context, reg domain.Registration) {
	if i.blob == nil {
		return
	}

	qrURL := ""
	png, err := qrcode.Encode(reg.Ticket.Credential, qrcode.Medium, 512)
	if err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to render QR image", err)
	} else if qrURL, err = i.blob.Store(ctx, png, "image/png"); err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to store QR image", err)
		qrURL = ""
	}

	pdfURL := ""
	doc, err := i.renderPDF(reg, png)
	if err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to render PDF ticket", err)
	} else if pdfURL, err = i.blob.Store(ctx, doc, "application/pdf"); err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to store PDF ticket", err)
		pdfURL = ""
	}

	if qrURL == "" && pdfURL == "" {
		return
	}
	if err := i.store.SetTicketArtifacts(ctx, reg.ID, qrURL, pdfURL); err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to persist ticket artifact URLs", err)
	}
}

func (i *Issuer) renderPDF(reg domain.Registration, qrPNG []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "E-Ticket")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Ticket: %s", reg.Ticket.TicketNumber))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Registration: %s", reg.Number))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Holder: %s", reg.Participant.Name))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Tier: %s x%d", reg.Tier.Name, reg.Quantity))
	pdf.Ln(10)

	if len(qrPNG) > 0 {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qrPNG))
		pdf.ImageOptions("qr", 30, pdf.GetY(), 80, 80, false, opts, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (i *Issuer) sendConfirmation(ctx context.Context, reg domain.Registration) {
	won, err := i.store.MarkConfirmationSent(ctx, reg.ID)
	if err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to flip confirmation flag", err)
		return
	}
	if !won {
		return
	}
	rec, err := notify.NewOutboxRecord(reg, notify.ForRegistration(reg, notify.KindPaymentConfirmation))
	if err == nil {
		err = i.store.InsertOutbox(ctx, rec)
	}
	if err != nil {
		i.logger.WithField("registration_id", reg.ID).Warn("failed to enqueue confirmation notification", err)
	}
}
