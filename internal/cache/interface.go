package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hamnet/relay-service/internal/domain"
)

// ErrCacheMiss is returned when a lookup finds nothing cached.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the optional Redis fast path. Every caller treats failures as
// best-effort: a cache error degrades latency, never correctness.
type Cache interface {
	// TouchStation marks a callsign as recently active on a channel. The key
	// expires after ttl, so "online" falls out of the cache by itself.
	TouchStation(ctx context.Context, callsign, channel string, ttl time.Duration) error

	// StationChannel returns the channel a callsign was last seen on, or
	// ErrCacheMiss once its activity key has expired.
	StationChannel(ctx context.Context, callsign string) (string, error)

	// GetRecentMessages returns a cached history page or ErrCacheMiss.
	GetRecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error)

	// SetRecentMessages caches a history page for ttl.
	SetRecentMessages(ctx context.Context, channel string, limit int, messages []domain.Message, ttl time.Duration) error

	// InvalidateMessages drops all cached history pages for a channel.
	InvalidateMessages(ctx context.Context, channel string) error

	Close() error
}
