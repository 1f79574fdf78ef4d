package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hamnet/relay-service/internal/domain"
	"github.com/hamnet/relay-service/internal/service"
	"github.com/hamnet/relay-service/pkg/log"
	"github.com/hamnet/relay-service/pkg/response"
)

// HTTPHandler carries the REST surface: message submission and history,
// online stations, and the contact logbook.
type HTTPHandler struct {
	service service.RelayService
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc service.RelayService) *HTTPHandler {
	return &HTTPHandler{service: svc}
}

// RegisterRoutes registers all REST routes.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		channels := api.Group("/channels")
		{
			channels.POST("/:channel/messages", h.SubmitMessage)
			channels.GET("/:channel/messages", h.RecentMessages)
			channels.GET("/:channel/stations", h.OnlineStations)
		}
		api.GET("/stations/:callsign", h.StationStatus)
		api.PUT("/contacts", h.SaveContact)
	}
}

type submitMessageRequest struct {
	Callsign   string                 `json:"callsign" binding:"required"`
	ToCallsign string                 `json:"toCallsign"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
}

type messageResponse struct {
	ID         uint64                 `json:"id"`
	Channel    string                 `json:"channel"`
	Callsign   string                 `json:"callsign"`
	ToCallsign string                 `json:"toCallsign,omitempty"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		Channel:    m.Channel,
		Callsign:   m.Callsign,
		ToCallsign: m.ToCallsign,
		Type:       m.Type,
		Payload:    m.Payload,
		CreatedAt:  m.CreatedAt,
	}
}

// SubmitMessage persists a message on a channel and broadcasts it to the
// channel's live connections.
func (h *HTTPHandler) SubmitMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	channel := c.Param("channel")

	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind message request")
		response.BadRequest(c, err.Error())
		return
	}

	msg := &domain.Message{
		Channel:    channel,
		Callsign:   req.Callsign,
		ToCallsign: req.ToCallsign,
		Type:       req.Type,
		Payload:    req.Payload,
	}

	stored, err := h.service.SubmitMessage(ctx, msg)
	if err != nil {
		l.Error().Err(err).Str(log.FieldChannel, channel).Msg("failed to submit message")
		response.InternalError(c, "failed to submit message")
		return
	}

	response.Created(c, toMessageResponse(stored))
}

// RecentMessages returns channel history in chronological order.
func (h *HTTPHandler) RecentMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	channel := c.Param("channel")

	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	messages, err := h.service.RecentMessages(ctx, channel, query.Limit)
	if err != nil {
		l.Error().Err(err).Str(log.FieldChannel, channel).Msg("failed to fetch recent messages")
		response.InternalError(c, "failed to fetch messages")
		return
	}

	out := make([]messageResponse, len(messages))
	for i := range messages {
		out[i] = toMessageResponse(&messages[i])
	}
	response.Success(c, out)
}

type stationResponse struct {
	Callsign string    `json:"callsign"`
	Channel  string    `json:"channel"`
	LastSeen time.Time `json:"last_seen"`
}

// OnlineStations returns stations seen on a channel within the presence TTL.
func (h *HTTPHandler) OnlineStations(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	channel := c.Param("channel")

	stations, err := h.service.OnlineStations(ctx, channel)
	if err != nil {
		l.Error().Err(err).Str(log.FieldChannel, channel).Msg("failed to query online stations")
		response.InternalError(c, "failed to query online stations")
		return
	}

	out := make([]stationResponse, len(stations))
	for i, st := range stations {
		out[i] = stationResponse{Callsign: st.Callsign, Channel: st.Channel, LastSeen: st.LastSeen}
	}
	response.Success(c, out)
}

// StationStatus reports whether a single callsign is currently online.
func (h *HTTPHandler) StationStatus(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	callsign := c.Param("callsign")

	channel, online, err := h.service.StationOnline(ctx, callsign)
	if err != nil {
		l.Error().Err(err).Str(log.FieldCallsign, callsign).Msg("failed to check station status")
		response.InternalError(c, "failed to check station status")
		return
	}

	response.Success(c, gin.H{
		"callsign": domain.NormalizeCallsign(callsign),
		"online":   online,
		"channel":  channel,
	})
}

type contactRequest struct {
	OwnerCallsign string `json:"owner_callsign" binding:"required"`
	Callsign      string `json:"callsign" binding:"required"`
	Name          string `json:"name"`
	Location      string `json:"location"`
	Notes         string `json:"notes"`
}

// SaveContact upserts a logbook entry keyed by (owner, callsign).
func (h *HTTPHandler) SaveContact(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	contact := &domain.Contact{
		OwnerCallsign: req.OwnerCallsign,
		Callsign:      req.Callsign,
		Name:          req.Name,
		Location:      req.Location,
		Notes:         req.Notes,
	}

	if err := h.service.SaveContact(ctx, contact); err != nil {
		l.Error().Err(err).Str(log.FieldCallsign, req.OwnerCallsign).Msg("failed to save contact")
		response.InternalError(c, "failed to save contact")
		return
	}

	response.Success(c, gin.H{
		"owner_callsign": domain.NormalizeCallsign(req.OwnerCallsign),
		"callsign":       domain.NormalizeCallsign(req.Callsign),
	})
}
