package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hamnet/relay-service/internal/audit"
	"github.com/hamnet/relay-service/internal/cache"
	"github.com/hamnet/relay-service/internal/domain"
	"github.com/hamnet/relay-service/internal/hub"
	"github.com/hamnet/relay-service/internal/store"
	"github.com/hamnet/relay-service/pkg/log"
)

type relayService struct {
	hub         *hub.Hub
	store       store.Store
	cache       cache.Cache // nil when Redis is disabled
	presenceTTL time.Duration
	messageTTL  time.Duration
	sf          singleflight.Group
}

// NewRelayService creates the relay service. cache may be nil.
func NewRelayService(h *hub.Hub, st store.Store, ch cache.Cache, presenceTTL, messageTTL time.Duration) RelayService {
	return &relayService{
		hub:         h,
		store:       st,
		cache:       ch,
		presenceTTL: presenceTTL,
		messageTTL:  messageTTL,
	}
}

// HandleJoin runs the Joined entry actions: room registration, initial
// presence write, hello ack to the joining client, presence announcement to
// the rest of the room.
func (s *relayService) HandleJoin(ctx context.Context, c *hub.Client) error {
	station := c.Station

	s.hub.JoinChannel(c, station.Channel)
	s.writePresence(ctx, station.Callsign, station.Channel)

	if err := c.SendEvent(domain.NewHelloEvent(station.Callsign, station.Channel)); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	if err := s.hub.Broadcast(station.Channel, domain.NewPresenceEvent(station.Callsign, station.Channel, domain.PresenceJoined), c.ID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCallsign, station.Callsign).Msg("failed to broadcast join presence")
	}

	audit.LogWithDetail(ctx, audit.ActionJoin, station.Callsign, station.Channel, "station joined channel")
	return nil
}

// HandlePing refreshes the station's last-seen and answers the sender only.
func (s *relayService) HandlePing(ctx context.Context, c *hub.Client) error {
	now := time.Now().UTC()
	if err := s.store.RefreshStationLastSeen(ctx, c.Station.Callsign, now); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCallsign, c.Station.Callsign).Msg("failed to refresh last seen on ping")
	}
	s.touchCache(ctx, c.Station.Callsign, c.Station.Channel)

	return c.SendEvent(domain.NewPongEvent())
}

// HandleRelay forwards an uninterpreted frame verbatim to the rest of the
// sender's channel. The sender never receives its own frame back.
func (s *relayService) HandleRelay(ctx context.Context, c *hub.Client, frame []byte) {
	s.hub.BroadcastRaw(c.Station.Channel, frame, c.ID)
}

// HandleHeartbeat refreshes the presence record after a confirmed liveness
// window. Failures are logged and ignored; the next tick retries naturally.
func (s *relayService) HandleHeartbeat(ctx context.Context, c *hub.Client) {
	s.writePresence(ctx, c.Station.Callsign, c.Station.Channel)
}

// HandleDisconnect removes the connection from its room. No presence store
// write happens here: the record simply ages out of the TTL window.
func (s *relayService) HandleDisconnect(ctx context.Context, c *hub.Client) {
	station := c.Station
	s.hub.LeaveChannel(c, station.Channel)

	if err := s.hub.Broadcast(station.Channel, domain.NewPresenceEvent(station.Callsign, station.Channel, domain.PresenceLeft), c.ID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCallsign, station.Callsign).Msg("failed to broadcast leave presence")
	}

	action := audit.ActionLeave
	msg := "station left channel"
	if c.WasReaped() {
		action = audit.ActionReap
		msg = "station reaped after missed liveness probe"
	}
	audit.LogWithDetail(ctx, action, station.Callsign, station.Channel, msg)
}

// SubmitMessage persists a message and then pushes a message event built
// from the stored row to the channel. Broadcast problems never surface to
// the submitting caller.
func (s *relayService) SubmitMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if err := s.hub.Broadcast(msg.Channel, domain.NewMessageEvent(msg), ""); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldChannel, msg.Channel).Msg("failed to broadcast message event")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateMessages(ctx, msg.Channel); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChannel, msg.Channel).Msg("failed to invalidate message cache")
		}
	}

	audit.LogWithDetail(ctx, audit.ActionMessage, msg.Callsign, msg.Channel, "message submitted")
	return msg, nil
}

// RecentMessages returns channel history in chronological order, through
// the cache when one is configured. Concurrent misses for the same page
// collapse into a single store query.
func (s *relayService) RecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	if s.cache == nil {
		return s.store.QueryRecentMessages(ctx, channel, limit)
	}

	key := fmt.Sprintf("%s:%d", channel, limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		cached, err := s.cache.GetRecentMessages(ctx, channel, limit)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChannel, channel).Msg("message cache read failed")
		}

		messages, err := s.store.QueryRecentMessages(ctx, channel, limit)
		if err != nil {
			return nil, err
		}

		if err := s.cache.SetRecentMessages(ctx, channel, limit, messages, s.messageTTL); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChannel, channel).Msg("message cache write failed")
		}
		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Message), nil
}

// OnlineStations returns stations seen on a channel within the presence TTL.
func (s *relayService) OnlineStations(ctx context.Context, channel string) ([]domain.StationPresence, error) {
	return s.store.QueryOnlineStations(ctx, channel, s.presenceTTL)
}

// StationOnline checks whether one callsign is currently online, preferring
// the cache's TTL key over a store lookup.
func (s *relayService) StationOnline(ctx context.Context, callsign string) (string, bool, error) {
	callsign = domain.NormalizeCallsign(callsign)

	if s.cache != nil {
		channel, err := s.cache.StationChannel(ctx, callsign)
		if err == nil {
			return channel, true, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldCallsign, callsign).Msg("presence cache read failed")
		}
	}

	record, err := s.store.GetStationPresence(ctx, callsign)
	if err != nil {
		return "", false, err
	}
	if record == nil || time.Since(record.LastSeen) > s.presenceTTL {
		return "", false, nil
	}
	return record.Channel, true, nil
}

// SaveContact upserts a logbook entry.
func (s *relayService) SaveContact(ctx context.Context, contact *domain.Contact) error {
	return s.store.UpsertContact(ctx, contact)
}

// writePresence upserts the presence record and refreshes the cache key.
// Both are best-effort side effects of the realtime path.
func (s *relayService) writePresence(ctx context.Context, callsign, channel string) {
	now := time.Now().UTC()
	if err := s.store.UpsertStationPresence(ctx, callsign, channel, now); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCallsign, callsign).Msg("failed to upsert station presence")
	}
	s.touchCache(ctx, callsign, channel)
}

func (s *relayService) touchCache(ctx context.Context, callsign, channel string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.TouchStation(ctx, callsign, channel, s.presenceTTL); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldCallsign, callsign).Msg("failed to touch presence cache")
	}
}
