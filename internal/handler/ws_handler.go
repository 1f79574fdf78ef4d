package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hamnet/relay-service/internal/audit"
	"github.com/hamnet/relay-service/internal/domain"
	"github.com/hamnet/relay-service/internal/hub"
	"github.com/hamnet/relay-service/internal/service"
	"github.com/hamnet/relay-service/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler accepts relay connections and drives their lifecycle.
type WSHandler struct {
	hub     *hub.Hub
	service service.RelayService
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(h *hub.Hub, svc service.RelayService) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
	}
}

// HandleWebSocket upgrades the connection and runs the Connecting state:
// extract callsign and channel from the request, reject if either is
// missing, otherwise register, join, and start the pumps.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	callsign := domain.NormalizeCallsign(r.URL.Query().Get("callsign"))
	channel := r.URL.Query().Get("channel")
	if callsign == "" || channel == "" {
		// A normal rejected handshake: close without any state mutation.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "callsign and channel are required"))
		conn.Close()
		audit.Log(r.Context(), audit.ActionReject, callsign, "rejected connection without callsign or channel")
		return
	}

	ctx := context.Background()
	station := domain.NewStation(callsign, channel)
	client := hub.NewClient(uuid.New().String(), h.hub, conn, station)

	client.SetDisconnectHandler(func(c *hub.Client) {
		h.service.HandleDisconnect(ctx, c)
	})
	client.SetHeartbeatHandler(func(c *hub.Client) {
		h.service.HandleHeartbeat(ctx, c)
	})

	h.hub.Register(client)

	if err := h.service.HandleJoin(ctx, client); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldCallsign, callsign).Msg("join failed")
	}

	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

// handleFrame interprets one inbound frame. Liveness pings are answered
// directly; everything else passes through to the room verbatim. Frames
// that do not parse are dropped silently.
func (h *WSHandler) handleFrame(c *hub.Client, frame []byte) {
	var envelope domain.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		l := log.L()
		l.Debug().Str(log.FieldClientID, c.ID).Msg("dropping malformed frame")
		return
	}

	ctx := context.Background()

	switch envelope.Kind {
	case domain.KindPing:
		c.ConfirmAlive()
		if err := h.service.HandlePing(ctx, c); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldClientID, c.ID).Msg("ping handling failed")
		}

	default:
		h.service.HandleRelay(ctx, c, frame)
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/relay/ws", func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	})
}
