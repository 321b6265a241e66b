package notify

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/campustix/campustix/internal/observability"
)

// Deliveries abstracts the broker consumer so the worker can be tested
// against a channel.
type Deliveries interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Worker drains the notification queue and delivers each message through the
// Notifier. Malformed messages are acked and dropped; delivery failures are
// nacked for redelivery.
type Worker struct {
	consumer Deliveries
	notifier Notifier
	logger   observability.Logger
}

func NewWorker(consumer Deliveries, notifier Notifier, logger observability.Logger) *Worker {
	return &Worker{consumer: consumer, notifier: notifier, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.consumer.Consume(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.logger.WithField("message_id", d.MessageId).Error("dropping malformed notification", err)
		d.Ack(false)
		return
	}

	delivered, err := w.notifier.Send(ctx, msg)
	if err != nil || !delivered {
		w.logger.WithField("kind", msg.Kind).WithField("recipient", msg.Recipient).Warn("notification delivery failed", err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// LogNotifier is the default delivery implementation. Real channels (email,
// WhatsApp) plug in behind the same interface.
type LogNotifier struct {
	Logger observability.Logger
}

func (n LogNotifier) Send(ctx context.Context, msg Message) (bool, error) {
	n.Logger.
		WithField("channel", msg.Channel).
		WithField("kind", msg.Kind).
		WithField("recipient", msg.Recipient).
		WithField("registration", msg.RegistrationNumber).
		Info("notification delivered")
	return true, nil
}
