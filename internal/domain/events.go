package domain

import "time"

// Wire event kinds emitted by the server.
const (
	KindHello    = "hello"
	KindPresence = "presence"
	KindMessage  = "message"
	KindPong     = "pong"
)

// Wire event kinds interpreted from clients. Any other kind is relayed
// verbatim to the rest of the room, never interpreted.
const (
	KindPing = "ping"
)

// Presence statuses carried by presence events.
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// Envelope is the minimal shape every inbound frame must parse to.
type Envelope struct {
	Kind string `json:"kind"`
}

// Server -> Client events

type HelloEvent struct {
	Kind     string `json:"kind"`
	Callsign string `json:"callsign"`
	Channel  string `json:"channel"`
}

type PresenceEvent struct {
	Kind     string `json:"kind"`
	Callsign string `json:"callsign"`
	Channel  string `json:"channel"`
	Status   string `json:"status"`
}

type PongEvent struct {
	Kind string `json:"kind"`
}

// MessageEvent wraps a persisted message for broadcast. It is built from the
// stored row so receivers see the assigned id and timestamp.
type MessageEvent struct {
	Kind    string       `json:"kind"`
	Message *MessageBody `json:"message"`
}

// MessageBody is the wire form of a persisted message.
type MessageBody struct {
	ID         uint64                 `json:"id"`
	Channel    string                 `json:"channel"`
	Callsign   string                 `json:"callsign"`
	ToCallsign string                 `json:"toCallsign,omitempty"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func NewHelloEvent(callsign, channel string) *HelloEvent {
	return &HelloEvent{Kind: KindHello, Callsign: callsign, Channel: channel}
}

func NewPresenceEvent(callsign, channel, status string) *PresenceEvent {
	return &PresenceEvent{Kind: KindPresence, Callsign: callsign, Channel: channel, Status: status}
}

func NewPongEvent() *PongEvent {
	return &PongEvent{Kind: KindPong}
}

func NewMessageEvent(m *Message) *MessageEvent {
	return &MessageEvent{
		Kind: KindMessage,
		Message: &MessageBody{
			ID:         m.ID,
			Channel:    m.Channel,
			Callsign:   m.Callsign,
			ToCallsign: m.ToCallsign,
			Type:       m.Type,
			Payload:    m.Payload,
			CreatedAt:  m.CreatedAt,
		},
	}
}
