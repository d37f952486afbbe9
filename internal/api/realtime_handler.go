package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/internal/notify"
	"github.com/eventhub/partner-portal/internal/portal"
	"github.com/eventhub/partner-portal/pkg/response"
)

// RealtimeHandler serves the browser websocket, presence and device push
// registration.
type RealtimeHandler struct {
	registry *portal.Registry
	ws       *WebSocketManager
	push     *domain.PushService
	logger   *zap.Logger
}

// NewRealtimeHandler wires browser connections to workspace references: the
// first tab of a principal starts its workspace and the last one stops it.
func NewRealtimeHandler(registry *portal.Registry, ws *WebSocketManager, push *domain.PushService, logger *zap.Logger) *RealtimeHandler {
	h := &RealtimeHandler{
		registry: registry,
		ws:       ws,
		push:     push,
		logger:   logger,
	}
	ws.SetHooks(ConnectionHooks{OnConnect: h.onConnect})
	return h
}

func (h *RealtimeHandler) onConnect(ctx context.Context, c *Client) func() {
	p, ok := middleware.GetPrincipal(ctx)
	if !ok {
		return nil
	}
	w, release := h.registry.Acquire(ctx, p)

	// Bring the new tab up to date; later changes arrive as they happen.
	c.Queue(portal.Event{Type: "presence", Payload: w.Presence()})
	c.Queue(portal.Event{Type: notify.PublishKind, Payload: w.Notifications().Snapshot()})
	return release
}

// Connect upgrades to the browser websocket
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	if err := h.ws.Serve(w, r, p.ID); err != nil {
		// The upgrader has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
	}
}

func (h *RealtimeHandler) Presence(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	response.OK(w, h.registry.Workspace(r.Context(), p).Presence())
}

type PushSubscribeRequest struct {
	Token string `json:"token"`
}

// SubscribePush registers a device token for alerts while no tab is open.
func (h *RealtimeHandler) SubscribePush(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())

	var req PushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.push.Register(r.Context(), p.ID, req.Token); err != nil {
		if errors.Is(err, domain.ErrPushTokenRequired) {
			response.BadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to register push token", zap.String("principal_id", p.ID), zap.Error(err))
		response.InternalError(w, "failed to register push token")
		return
	}
	response.NoContent(w)
}
