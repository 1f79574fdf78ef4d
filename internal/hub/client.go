package hub

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hamnet/relay-service/internal/domain"
	pkglog "github.com/hamnet/relay-service/pkg/log"
)

// DisconnectHandler is called once when a client's read pump exits.
type DisconnectHandler func(*Client)

// HeartbeatHandler is called on each heartbeat tick for a live client,
// after the client confirmed liveness during the previous interval.
type HeartbeatHandler func(*Client)

// Client is one live connection. It is owned by its two pumps: the write
// pump drives the heartbeat ticker, the read pump drives cleanup. Both
// terminate when the underlying transport closes, from either side.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Station *domain.Station

	send      chan []byte
	confirmed atomic.Bool
	reaped    atomic.Bool

	disconnectHandler DisconnectHandler
	heartbeatHandler  HeartbeatHandler
}

// NewClient creates a client for an accepted connection.
func NewClient(id string, h *Hub, conn *websocket.Conn, station *domain.Station) *Client {
	c := &Client{
		ID:      id,
		Hub:     h,
		Conn:    conn,
		Station: station,
		send:    make(chan []byte, 256),
	}
	// The join itself counts as the first liveness confirmation.
	c.confirmed.Store(true)
	return c
}

// SetDisconnectHandler sets the handler invoked on read pump teardown.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// SetHeartbeatHandler sets the handler invoked on each confirmed tick.
func (c *Client) SetHeartbeatHandler(handler HeartbeatHandler) {
	c.heartbeatHandler = handler
}

// ConfirmAlive records liveness evidence for the current heartbeat window.
// Called from the protocol-level pong handler and from application-level
// ping frames.
func (c *Client) ConfirmAlive() {
	c.confirmed.Store(true)
}

// WasReaped reports whether the connection was closed by the liveness
// supervisor rather than by the peer.
func (c *Client) WasReaped() bool {
	return c.reaped.Load()
}

// ReadPump pumps inbound frames to the handler. It runs the disconnect
// handler and unregisters from the hub on exit, so room membership is gone
// before the connection's resources are released.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		c.ConfirmAlive()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := pkglog.L()
				l.Debug().Err(err).Str(pkglog.FieldClientID, c.ID).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump pumps outbound frames to the connection and supervises
// liveness. Each tick it reaps the connection if no confirmation arrived
// since the previous tick; otherwise it clears the confirmation, probes
// again, and refreshes presence through the heartbeat handler. The ticker
// stops when the pump exits, so no tick can fire after teardown.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if !c.confirmed.Swap(false) {
				// No pong since the last probe: dead peer. Closing the
				// transport unwinds the read pump, which handles cleanup.
				c.reaped.Store(true)
				l := pkglog.L()
				l.Info().Str(pkglog.FieldClientID, c.ID).Msg("liveness probe missed, reaping connection")
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if c.heartbeatHandler != nil {
				// Best-effort presence refresh; must not stall the pump.
				go c.heartbeatHandler(c)
			}
		}
	}
}

// SendEvent serializes an event and queues it for this client only. A full
// send buffer drops the frame rather than blocking the caller.
func (c *Client) SendEvent(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
	default:
	}
	return nil
}
