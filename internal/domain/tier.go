package domain

import "github.com/google/uuid"

// TicketTier is a named ticket category within an event. Its counters are
// mutated only through the inventory ledger; sold + reserved never exceeds
// quota.
type TicketTier struct {
	ID        uuid.UUID
	EventID   uuid.UUID
	Name      string
	UnitPrice int64
	Quota     int
	Sold      int
	Reserved  int
	Active    bool
}

// Available is derived, never stored.
func (t TicketTier) Available() int {
	return t.Quota - t.Sold - t.Reserved
}

// TierSnapshot is the post-mutation view returned by ledger operations.
type TierSnapshot struct {
	TierID    uuid.UUID
	EventID   uuid.UUID
	Name      string
	UnitPrice int64
	Quota     int
	Sold      int
	Reserved  int
}

func (s TierSnapshot) Available() int {
	return s.Quota - s.Sold - s.Reserved
}
