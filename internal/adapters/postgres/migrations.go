package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	organizer_id UUID NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('draft', 'published', 'completed', 'cancelled')),
	registration_opens_at TIMESTAMPTZ NOT NULL,
	registration_closes_at TIMESTAMPTZ NOT NULL,
	starts_at TIMESTAMPTZ NOT NULL,
	ends_at TIMESTAMPTZ NOT NULL,
	payment_window_seconds BIGINT NOT NULL DEFAULT 86400,
	admin_fee BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ticket_tiers (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	name TEXT NOT NULL,
	unit_price BIGINT NOT NULL CHECK (unit_price >= 0),
	quota INT NOT NULL CHECK (quota >= 0),
	sold INT NOT NULL DEFAULT 0 CHECK (sold >= 0),
	reserved INT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
	active BOOLEAN NOT NULL DEFAULT TRUE,
	CHECK (sold + reserved <= quota)
);

CREATE TABLE IF NOT EXISTS registrations (
	id UUID PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	buyer_id UUID NOT NULL,
	event_id UUID NOT NULL REFERENCES events (id),
	organizer_id UUID NOT NULL,
	tier_id UUID NOT NULL,
	tier_name TEXT NOT NULL,
	unit_price BIGINT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 1),
	participant_name TEXT NOT NULL,
	participant_email TEXT NOT NULL,
	participant_phone TEXT NOT NULL DEFAULT '',
	participant_institution TEXT NOT NULL DEFAULT '',
	participant_student_id TEXT NOT NULL DEFAULT '',
	payment_method TEXT NOT NULL DEFAULT '',
	payment_status TEXT NOT NULL CHECK (payment_status IN ('pending', 'paid', 'expired', 'failed', 'refunded')),
	amount BIGINT NOT NULL,
	admin_fee BIGINT NOT NULL DEFAULT 0,
	total_amount BIGINT NOT NULL,
	external_order_id TEXT,
	paid_at TIMESTAMPTZ,
	payment_expires_at TIMESTAMPTZ NOT NULL,
	refunded_at TIMESTAMPTZ,
	refund_reason TEXT NOT NULL DEFAULT '',
	ticket_number TEXT,
	credential TEXT NOT NULL DEFAULT '',
	ticket_status TEXT NOT NULL CHECK (ticket_status IN ('valid', 'used', 'cancelled', 'expired')),
	qr_url TEXT NOT NULL DEFAULT '',
	pdf_url TEXT NOT NULL DEFAULT '',
	checked_in_at TIMESTAMPTZ,
	checked_in_by UUID,
	checkin_location TEXT NOT NULL DEFAULT '',
	checkin_device TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('pending_payment', 'confirmed', 'cancelled', 'attended', 'no_show')),
	cancelled_at TIMESTAMPTZ,
	cancelled_by UUID,
	cancel_reason TEXT NOT NULL DEFAULT '',
	refund_status TEXT NOT NULL DEFAULT 'none' CHECK (refund_status IN ('none', 'pending', 'completed')),
	reminder_sent BOOLEAN NOT NULL DEFAULT FALSE,
	confirmation_sent BOOLEAN NOT NULL DEFAULT FALSE,
	thank_you_sent BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS registrations_buyer_event_live
	ON registrations (buyer_id, event_id) WHERE status <> 'cancelled';
CREATE UNIQUE INDEX IF NOT EXISTS registrations_external_order
	ON registrations (external_order_id) WHERE external_order_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS registrations_ticket_number
	ON registrations (ticket_number) WHERE ticket_number IS NOT NULL;
CREATE INDEX IF NOT EXISTS registrations_pending_expiry
	ON registrations (payment_expires_at) WHERE status = 'pending_payment';
CREATE INDEX IF NOT EXISTS registrations_event ON registrations (event_id);
CREATE INDEX IF NOT EXISTS registrations_buyer ON registrations (buyer_id);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS outbox_new ON outbox (created_at) WHERE status = 'NEW';
`

// Migrate creates the schema. Statements are idempotent so process startup
// can run this unconditionally.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
