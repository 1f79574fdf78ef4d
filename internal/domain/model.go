package domain

import (
	"time"

	"github.com/hamnet/relay-service/pkg/database"
)

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID         uint64           `gorm:"primaryKey;autoIncrement"`
	Channel    string           `gorm:"type:varchar(64);index;not null"`
	Callsign   string           `gorm:"type:varchar(16);index;not null"`
	ToCallsign *string          `gorm:"type:varchar(16)"`
	Type       string           `gorm:"type:varchar(32);not null;default:'CW_MORSE'"`
	Payload    database.JSONMap `gorm:"type:text"`
	CreatedAt  time.Time        `gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to a domain Message.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:        m.ID,
		Channel:   m.Channel,
		Callsign:  m.Callsign,
		Type:      m.Type,
		Payload:   map[string]interface{}(m.Payload),
		CreatedAt: m.CreatedAt,
	}
	if m.ToCallsign != nil {
		msg.ToCallsign = *m.ToCallsign
	}
	return msg
}

// MessageToModel converts a domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	model := &MessageModel{
		ID:        msg.ID,
		Channel:   msg.Channel,
		Callsign:  msg.Callsign,
		Type:      msg.Type,
		Payload:   database.JSONMap(msg.Payload),
		CreatedAt: msg.CreatedAt,
	}
	if msg.ToCallsign != "" {
		to := msg.ToCallsign
		model.ToCallsign = &to
	}
	return model
}

// StationPresenceModel is the GORM model for the station_presence table.
// One row per callsign; a later write with a different channel overwrites it.
type StationPresenceModel struct {
	Callsign string    `gorm:"type:varchar(16);primaryKey"`
	Channel  string    `gorm:"type:varchar(64);index;not null"`
	LastSeen time.Time `gorm:"index;not null"`
}

// TableName specifies the table name for StationPresenceModel.
func (StationPresenceModel) TableName() string {
	return "station_presence"
}

// ToDomain converts StationPresenceModel to a domain StationPresence.
func (m *StationPresenceModel) ToDomain() *StationPresence {
	return &StationPresence{
		Callsign: m.Callsign,
		Channel:  m.Channel,
		LastSeen: m.LastSeen,
	}
}

// ContactModel is the GORM model for the contacts table.
type ContactModel struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	OwnerCallsign string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_contact_owner_callsign"`
	Callsign      string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_contact_owner_callsign"`
	Name          string    `gorm:"type:varchar(100)"`
	Location      string    `gorm:"type:varchar(100)"`
	Notes         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ContactModel.
func (ContactModel) TableName() string {
	return "contacts"
}

// ToDomain converts ContactModel to a domain Contact.
func (m *ContactModel) ToDomain() *Contact {
	return &Contact{
		OwnerCallsign: m.OwnerCallsign,
		Callsign:      m.Callsign,
		Name:          m.Name,
		Location:      m.Location,
		Notes:         m.Notes,
	}
}
