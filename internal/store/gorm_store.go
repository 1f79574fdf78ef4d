package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hamnet/relay-service/internal/domain"
	"github.com/hamnet/relay-service/pkg/log"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-based store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// UpsertStationPresence writes the presence row for a callsign. The conflict
// update is guarded so a stale writer can never move last_seen backwards.
func (s *GormStore) UpsertStationPresence(ctx context.Context, callsign, channel string, ts time.Time) error {
	l := log.Ctx(ctx)

	model := domain.StationPresenceModel{
		Callsign: domain.NormalizeCallsign(callsign),
		Channel:  channel,
		LastSeen: ts,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "callsign"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"channel":   channel,
			"last_seen": ts,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Name: "last_seen"}, Value: ts},
		}},
	}).Create(&model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldCallsign, model.Callsign).Msg("failed to upsert station presence")
		return result.Error
	}
	return nil
}

// RefreshStationLastSeen bumps last_seen without touching the channel.
func (s *GormStore) RefreshStationLastSeen(ctx context.Context, callsign string, ts time.Time) error {
	l := log.Ctx(ctx)

	result := s.db.WithContext(ctx).Model(&domain.StationPresenceModel{}).
		Where("callsign = ? AND last_seen <= ?", domain.NormalizeCallsign(callsign), ts).
		Update("last_seen", ts)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldCallsign, callsign).Msg("failed to refresh station last seen")
		return result.Error
	}
	return nil
}

// QueryOnlineStations returns stations seen within ttl on a channel, most
// recent first, capped at MaxOnlineStations.
func (s *GormStore) QueryOnlineStations(ctx context.Context, channel string, ttl time.Duration) ([]domain.StationPresence, error) {
	l := log.Ctx(ctx)

	cutoff := time.Now().UTC().Add(-ttl)

	var models []domain.StationPresenceModel
	result := s.db.WithContext(ctx).
		Where("channel = ? AND last_seen >= ?", channel, cutoff).
		Order("last_seen DESC").
		Limit(MaxOnlineStations).
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldChannel, channel).Msg("failed to query online stations")
		return nil, result.Error
	}

	stations := make([]domain.StationPresence, len(models))
	for i, model := range models {
		stations[i] = *model.ToDomain()
	}
	return stations, nil
}

// GetStationPresence looks up the presence record for one callsign.
func (s *GormStore) GetStationPresence(ctx context.Context, callsign string) (*domain.StationPresence, error) {
	l := log.Ctx(ctx)

	var model domain.StationPresenceModel
	result := s.db.WithContext(ctx).First(&model, "callsign = ?", domain.NormalizeCallsign(callsign))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		l.Error().Err(result.Error).Str(log.FieldCallsign, callsign).Msg("failed to get station presence")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// InsertMessage persists a message, assigning its ID and created_at.
func (s *GormStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	if msg.Type == "" {
		msg.Type = domain.DefaultMessageType
	}
	msg.Callsign = domain.NormalizeCallsign(msg.Callsign)
	if msg.ToCallsign != "" {
		msg.ToCallsign = domain.NormalizeCallsign(msg.ToCallsign)
	}

	model := domain.MessageToModel(msg)
	model.ID = 0
	model.CreatedAt = time.Time{}

	result := s.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldChannel, msg.Channel).Msg("failed to insert message")
		return result.Error
	}

	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	return nil
}

// QueryRecentMessages fetches the newest rows and re-orders them to
// chronological before returning.
func (s *GormStore) QueryRecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	if limit < 1 {
		limit = 50
	}

	var models []domain.MessageModel
	result := s.db.WithContext(ctx).
		Where("channel = ?", channel).
		Order("id DESC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldChannel, channel).Msg("failed to query recent messages")
		return nil, result.Error
	}

	// Storage order is newest-first; callers get oldest-first.
	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[len(models)-1-i] = *model.ToDomain()
	}
	return messages, nil
}

// UpsertContact merges a logbook entry. Empty incoming fields are not
// written, so a partial update never erases existing details.
func (s *GormStore) UpsertContact(ctx context.Context, contact *domain.Contact) error {
	l := log.Ctx(ctx)

	owner := domain.NormalizeCallsign(contact.OwnerCallsign)
	callsign := domain.NormalizeCallsign(contact.Callsign)

	assignments := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if contact.Name != "" {
		assignments["name"] = contact.Name
	}
	if contact.Location != "" {
		assignments["location"] = contact.Location
	}
	if contact.Notes != "" {
		assignments["notes"] = contact.Notes
	}

	model := domain.ContactModel{
		OwnerCallsign: owner,
		Callsign:      callsign,
		Name:          contact.Name,
		Location:      contact.Location,
		Notes:         contact.Notes,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_callsign"}, {Name: "callsign"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldCallsign, owner).Msg("failed to upsert contact")
		return result.Error
	}
	return nil
}
