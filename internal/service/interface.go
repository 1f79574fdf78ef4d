package service

import (
	"context"

	"github.com/hamnet/relay-service/internal/domain"
	"github.com/hamnet/relay-service/internal/hub"
)

// RelayService coordinates the connection lifecycle with the presence store
// and the broadcast dispatcher, and carries the REST-facing operations.
type RelayService interface {
	// Realtime path. Store failures here are logged and swallowed: a
	// persistence outage degrades presence accuracy, never the connection.
	HandleJoin(ctx context.Context, c *hub.Client) error
	HandlePing(ctx context.Context, c *hub.Client) error
	HandleRelay(ctx context.Context, c *hub.Client, frame []byte)
	HandleHeartbeat(ctx context.Context, c *hub.Client)
	HandleDisconnect(ctx context.Context, c *hub.Client)

	// REST path.
	SubmitMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	RecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error)
	OnlineStations(ctx context.Context, channel string) ([]domain.StationPresence, error)
	StationOnline(ctx context.Context, callsign string) (channel string, online bool, err error)
	SaveContact(ctx context.Context, contact *domain.Contact) error
}
