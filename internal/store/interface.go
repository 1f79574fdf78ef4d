package store

import (
	"context"
	"time"

	"github.com/hamnet/relay-service/internal/domain"
)

// MaxOnlineStations caps the result size of online-station queries.
const MaxOnlineStations = 200

// Store is the durable side of the relay: presence records, channel
// messages, and logbook contacts. All writes issued from the realtime path
// are best-effort from the caller's point of view.
type Store interface {
	// UpsertStationPresence writes or refreshes the presence record for a
	// callsign. Last writer wins on channel; last_seen never moves backwards.
	UpsertStationPresence(ctx context.Context, callsign, channel string, ts time.Time) error

	// RefreshStationLastSeen bumps last_seen only, leaving the stored
	// channel untouched. A missing record is not an error.
	RefreshStationLastSeen(ctx context.Context, callsign string, ts time.Time) error

	// QueryOnlineStations returns stations on a channel whose last_seen is
	// within ttl of now, most recently seen first, capped at
	// MaxOnlineStations.
	QueryOnlineStations(ctx context.Context, channel string, ttl time.Duration) ([]domain.StationPresence, error)

	// GetStationPresence returns the stored presence record for a callsign,
	// or nil when none exists.
	GetStationPresence(ctx context.Context, callsign string) (*domain.StationPresence, error)

	// InsertMessage persists a message and fills in its assigned ID and
	// creation timestamp.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// QueryRecentMessages returns up to limit most recent messages on a
	// channel in chronological (oldest-first) order.
	QueryRecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error)

	// UpsertContact merges a logbook entry keyed by (owner, callsign).
	// Empty incoming fields leave the stored values untouched.
	UpsertContact(ctx context.Context, contact *domain.Contact) error
}
