package notify

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/campustix/campustix/internal/adapters/postgres"
	"github.com/campustix/campustix/internal/observability"
)

// BrokerPublisher is satisfied by the rabbit adapter.
type BrokerPublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// OutboxPublisher polls the transactional outbox and forwards pending
// records to the broker. At-least-once: a record is marked published only
// after the broker accepted it, so a crash in between re-publishes.
type OutboxPublisher struct {
	repo      *postgres.Repository
	publisher BrokerPublisher
	logger    observability.Logger
	interval  time.Duration
	batchSize int
}

func NewOutboxPublisher(repo *postgres.Repository, publisher BrokerPublisher, logger observability.Logger) *OutboxPublisher {
	return &OutboxPublisher{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		interval:  5 * time.Second,
		batchSize: 50,
	}
}

func (p *OutboxPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *OutboxPublisher) drain(ctx context.Context) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to read outbox", err)
		return
	}

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.publisher.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("outbox_id", rec.ID).Error("failed to publish outbox record", err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			p.logger.WithField("outbox_id", rec.ID).Error("failed to mark outbox record published", err)
		}
	}

	if age, err := p.repo.OldestUnpublishedAge(ctx, time.Now().UTC()); err == nil {
		observability.OutboxLag.Set(age.Seconds())
	}
}
