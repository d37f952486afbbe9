package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/internal/portal"
	"github.com/eventhub/partner-portal/pkg/response"
)

type NotificationHandler struct {
	registry *portal.Registry
	logger   *zap.Logger
}

func NewNotificationHandler(registry *portal.Registry, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		registry: registry,
		logger:   logger,
	}
}

// markReadResponse reports the local outcome. Synced is false when the
// upstream acknowledgement failed; the local state stands regardless.
type markReadResponse struct {
	Changed     int  `json:"changed"`
	UnreadCount int  `json:"unreadCount"`
	Synced      bool `json:"synced"`
}

func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	ws := h.registry.Workspace(r.Context(), p)
	response.OK(w, ws.Notifications().Snapshot())
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "id")
	ws := h.registry.Workspace(r.Context(), p)

	changed, err := ws.MarkRead(r.Context(), id)
	resp := markReadResponse{UnreadCount: ws.Notifications().UnreadCount(), Synced: err == nil}
	if changed {
		resp.Changed = 1
	}
	if err != nil {
		h.logger.Warn("failed to mark notification read upstream", zap.String("id", id), zap.Error(err))
	}
	response.OK(w, resp)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	ws := h.registry.Workspace(r.Context(), p)

	n, err := ws.MarkAllRead(r.Context())
	if err != nil {
		h.logger.Warn("failed to mark notifications read upstream", zap.Error(err))
	}
	response.OK(w, markReadResponse{Changed: n, UnreadCount: ws.Notifications().UnreadCount(), Synced: err == nil})
}
