package hub

import (
	"encoding/json"
	"sync"

	"github.com/hamnet/relay-service/internal/config"
	pkglog "github.com/hamnet/relay-service/pkg/log"
)

// Hub owns channel membership and fan-out. Rooms are created lazily on the
// first join and deleted as soon as the last member leaves; membership is
// rebuilt purely from live connections after a restart.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	rooms      map[string]map[string]*Client // channel -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *ChannelFrame
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// ChannelFrame is a serialized event queued for fan-out to one channel.
type ChannelFrame struct {
	Channel string
	Data    []byte
	Exclude string // client ID to exclude from delivery
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *ChannelFrame, 256),
		config:     cfg,
	}
}

// Run starts the hub's main loop. Send buffers are closed only here, so a
// queued frame can never race a close.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Debug().Str(pkglog.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for channel, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, channel)
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			l.Debug().Str(pkglog.FieldClientID, client.ID).Msg("client unregistered")

		case frame := <-h.broadcast:
			h.mu.RLock()
			if members, ok := h.rooms[frame.Channel]; ok {
				for clientID, client := range members {
					if clientID == frame.Exclude {
						continue
					}
					select {
					case client.send <- frame.Data:
					default:
						// Send buffer full; the peer is stalled. Skip it and
						// let its own teardown reap it rather than blocking
						// delivery to the rest of the room.
						go h.removeClient(client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub and every room it joined.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinChannel adds a client to a channel's room. Idempotent per client: a
// connection is a member at most once, so it never sees duplicate delivery.
func (h *Hub) JoinChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[channel]; !ok {
		h.rooms[channel] = make(map[string]*Client)
	}
	h.rooms[channel][client.ID] = client

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldClientID, client.ID).
		Str(pkglog.FieldChannel, channel).
		Msg("client joined channel")
}

// LeaveChannel removes a client from a channel's room, deleting the room
// entirely when the membership becomes empty.
func (h *Hub) LeaveChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[channel]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, channel)
		}
	}

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldClientID, client.ID).
		Str(pkglog.FieldChannel, channel).
		Msg("client left channel")
}

// Members returns a snapshot of the clients currently joined to a channel.
func (h *Hub) Members(channel string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[channel]
	if !ok {
		return nil
	}
	snapshot := make([]*Client, 0, len(members))
	for _, client := range members {
		snapshot = append(snapshot, client)
	}
	return snapshot
}

// MemberCount returns the number of clients currently joined to a channel.
func (h *Hub) MemberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}

// Broadcast serializes an event once and delivers it to every member of the
// channel except excludeID. Delivery is best-effort: no confirmation, no
// retry, no cross-connection ordering.
func (h *Hub) Broadcast(channel string, event interface{}, excludeID string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.broadcast <- &ChannelFrame{
		Channel: channel,
		Data:    data,
		Exclude: excludeID,
	}
	return nil
}

// BroadcastRaw delivers already-serialized bytes to a channel, used for
// relay frames that pass through verbatim.
func (h *Hub) BroadcastRaw(channel string, data []byte, excludeID string) {
	h.broadcast <- &ChannelFrame{
		Channel: channel,
		Data:    data,
		Exclude: excludeID,
	}
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}
