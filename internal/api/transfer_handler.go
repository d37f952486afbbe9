package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/apiclient"
	"github.com/eventhub/partner-portal/internal/config"
	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/session"
	"github.com/eventhub/partner-portal/pkg/response"
)

// transferParam carries the one-time credential from the main application.
const transferParam = "v"

// Authorizer exchanges credentials for a partner principal.
type Authorizer interface {
	Authorize(ctx context.Context, creds domain.Credentials) (*domain.Principal, error)
}

// PartnerAPI is the partner part of the external API, bound to a token.
type PartnerAPI interface {
	GetPartnerDashboard(ctx context.Context, partnerID string) (*domain.PartnerDashboard, error)
	UpdatePaymentDetails(ctx context.Context, partnerID, details string) (string, error)
	RequestPayout(ctx context.Context, partnerID string) (string, error)
}

// TransferHandler serves /dashboard, the entry point for partners arriving
// from the main application with a transfer token.
type TransferHandler struct {
	authorizer Authorizer
	cookies    *SessionCookies
	latch      session.Latch
	latchTTL   time.Duration
	partners   func(token string) PartnerAPI
	cfg        *config.Config
	logger     *zap.Logger
}

func NewTransferHandler(
	authorizer Authorizer,
	cookies *SessionCookies,
	latch session.Latch,
	partners func(token string) PartnerAPI,
	cfg *config.Config,
	logger *zap.Logger,
) *TransferHandler {
	return &TransferHandler{
		authorizer: authorizer,
		cookies:    cookies,
		latch:      latch,
		latchTTL:   cfg.Auth.TokenExpiry,
		partners:   partners,
		cfg:        cfg,
		logger:     logger,
	}
}

// Dashboard completes a pending transfer or renders the partner dashboard.
// Every redirect it issues drops the transfer token, so it cannot loop.
func (h *TransferHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess, err := h.cookies.Current(r)
	if err != nil {
		h.logger.Error("failed to load session", zap.Error(err))
		sess = nil
	}

	if token := r.URL.Query().Get(transferParam); token != "" {
		h.transfer(w, r, token, sess)
		return
	}

	if sess == nil {
		h.toLogin(w, r, "")
		return
	}
	if !sess.Principal.IsPartner() {
		h.toLogin(w, r, domain.ErrNotPartner.Error())
		return
	}

	dashboard, err := h.partners(sess.AccessToken).GetPartnerDashboard(r.Context(), sess.Principal.ID)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			// The upstream no longer accepts the session's token.
			_ = h.cookies.Clear(r.Context(), w, sess)
			h.toLogin(w, r, domain.ErrTransferExpired.Error())
			return
		}
		h.logger.Error("failed to load partner dashboard", zap.String("principal_id", sess.Principal.ID), zap.Error(err))
		response.BadGateway(w, "Не удалось загрузить данные партнера")
		return
	}

	response.OK(w, domain.NewDashboardView(sess.Principal, dashboard, h.cfg.ReferralLink))
}

func (h *TransferHandler) transfer(w http.ResponseWriter, r *http.Request, token string, sess *session.Session) {
	ctx := r.Context()

	claimed, err := h.latch.Claim(ctx, token, h.latchTTL)
	if err != nil {
		h.logger.Error("transfer latch unavailable", zap.Error(err))
		h.toLogin(w, r, domain.ErrInternal.Error())
		return
	}
	if !claimed {
		// A repeated navigation with the same link: whoever got there first
		// already owns the outcome.
		if sess != nil && sess.Principal.IsPartner() {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		h.toLogin(w, r, domain.ErrTransferExpired.Error())
		return
	}

	p, err := h.authorizer.Authorize(ctx, domain.Credentials{TransferToken: token})
	if err != nil {
		h.logger.Info("transfer rejected", zap.Error(err))
		h.toLogin(w, r, err.Error())
		return
	}

	if sess != nil {
		if err := h.cookies.Store().Delete(ctx, sess.ID); err != nil {
			h.logger.Warn("failed to drop previous session", zap.Error(err))
		}
	}
	if _, err := h.cookies.Issue(ctx, w, p); err != nil {
		h.logger.Error("failed to create session", zap.String("principal_id", p.ID), zap.Error(err))
		h.toLogin(w, r, domain.ErrInternal.Error())
		return
	}

	h.logger.Info("transfer completed", zap.String("principal_id", p.ID))
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *TransferHandler) toLogin(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, h.cfg.LoginURL(message), http.StatusSeeOther)
}
