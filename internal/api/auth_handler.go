package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/pkg/response"
	"github.com/eventhub/partner-portal/pkg/validator"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authorizer Authorizer
	cookies    *SessionCookies
	onLogout   func(principalID string)
	logger     *zap.Logger
}

// NewAuthHandler creates a new auth handler. onLogout tears down whatever the
// principal still has running.
func NewAuthHandler(authorizer Authorizer, cookies *SessionCookies, onLogout func(principalID string), logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authorizer: authorizer,
		cookies:    cookies,
		onLogout:   onLogout,
		logger:     logger,
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session id for clients that cannot keep cookies.
type LoginResponse struct {
	User      *domain.Principal `json:"user"`
	SessionID string            `json:"session_id"`
	ExpiresAt string            `json:"expires_at"`
}

// Login handles email and password login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	req.Email = validator.SanitizeEmail(req.Email)

	p, err := h.authorizer.Authorize(r.Context(), domain.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCredentialsRequired):
			response.BadRequest(w, err.Error())
		case errors.Is(err, domain.ErrInvalidCredentials):
			response.Unauthorized(w, err.Error())
		case errors.Is(err, domain.ErrPartnerElsewhere), errors.Is(err, domain.ErrNotPartner):
			response.Forbidden(w, err.Error())
		default:
			h.logger.Error("login failed", zap.String("email", req.Email), zap.Error(err))
			response.InternalError(w, err.Error())
		}
		return
	}

	sess, err := h.cookies.Issue(r.Context(), w, p)
	if err != nil {
		h.logger.Error("failed to create session", zap.String("principal_id", p.ID), zap.Error(err))
		response.InternalError(w, domain.ErrInternal.Error())
		return
	}

	response.OK(w, LoginResponse{
		User:      p,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt.Format(timeLayout),
	})
}

// Logout ends the session and stops the principal's realtime workspace.
// Logging out without a session still clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.cookies.Current(r)
	if err != nil {
		h.logger.Warn("failed to load session on logout", zap.Error(err))
	}

	if err := h.cookies.Clear(r.Context(), w, sess); err != nil {
		h.logger.Warn("logout failed", zap.Error(err))
		// Still return success - the session expires on its own
	}
	if sess != nil && h.onLogout != nil {
		h.onLogout(sess.Principal.ID)
	}

	response.NoContent(w)
}

// Me returns the current principal
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	response.OK(w, p)
}
