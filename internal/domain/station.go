package domain

import (
	"strings"
	"time"
)

// DefaultMessageType is assumed when a message carries no explicit type.
const DefaultMessageType = "CW_MORSE"

// Station is the identity a connection operates under. Callsign and channel
// are fixed at connect time; a station never re-tunes on an open connection.
type Station struct {
	Callsign string
	Channel  string
	JoinedAt time.Time
}

// NewStation normalizes the callsign to upper case, matching how callsigns
// are written everywhere else in the system.
func NewStation(callsign, channel string) *Station {
	return &Station{
		Callsign: NormalizeCallsign(callsign),
		Channel:  channel,
		JoinedAt: time.Now().UTC(),
	}
}

// NormalizeCallsign folds a callsign to its canonical upper-case form.
func NormalizeCallsign(callsign string) string {
	return strings.ToUpper(strings.TrimSpace(callsign))
}

// Message is a durable channel message.
type Message struct {
	ID         uint64
	Channel    string
	Callsign   string
	ToCallsign string
	Type       string
	Payload    map[string]interface{}
	CreatedAt  time.Time
}

// StationPresence is the stored last-seen record for one callsign. "Online"
// is derived from LastSeen against a TTL window, never stored.
type StationPresence struct {
	Callsign string
	Channel  string
	LastSeen time.Time
}

// Contact is a logbook entry one station keeps about another.
type Contact struct {
	OwnerCallsign string
	Callsign      string
	Name          string
	Location      string
	Notes         string
}
