package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/chat"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/internal/portal"
	"github.com/eventhub/partner-portal/pkg/response"
)

type ChatHandler struct {
	registry *portal.Registry
	logger   *zap.Logger
}

func NewChatHandler(registry *portal.Registry, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		registry: registry,
		logger:   logger,
	}
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// OpenChat joins the chat and returns its view. A failed history fetch still
// opens the chat; the view says so.
func (h *ChatHandler) OpenChat(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	chatID := chi.URLParam(r, "chatId")

	view, err := h.registry.Workspace(r.Context(), p).OpenChat(r.Context(), chatID)
	if err != nil && !view.HistoryFailed {
		h.chatError(w, err)
		return
	}
	response.OK(w, view)
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	chatID := chi.URLParam(r, "chatId")

	s, err := h.registry.Workspace(r.Context(), p).Chat(chatID)
	if err != nil {
		h.chatError(w, err)
		return
	}
	response.OK(w, s.Snapshot())
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	chatID := chi.URLParam(r, "chatId")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	msg, err := h.registry.Workspace(r.Context(), p).SendMessage(r.Context(), chatID, req.Content)
	if err != nil {
		h.chatError(w, err)
		return
	}
	response.Created(w, msg)
}

func (h *ChatHandler) CloseChat(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	if ws, ok := h.registry.Lookup(p.ID); ok {
		ws.CloseChat(chi.URLParam(r, "chatId"))
	}
	response.NoContent(w)
}

func (h *ChatHandler) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		response.BadRequest(w, "message content is required")
	case errors.Is(err, portal.ErrChatNotOpen):
		response.NotFound(w, "chat is not open")
	case errors.Is(err, portal.ErrWorkspaceClosed), errors.Is(err, chat.ErrClosed):
		response.Conflict(w, "chat was closed")
	default:
		upstreamError(w, h.logger, err, "Не удалось отправить сообщение")
	}
}
