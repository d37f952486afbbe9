package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/config"
	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/pkg/response"
	"github.com/eventhub/partner-portal/pkg/validator"
)

// PublicAPI is the unauthenticated part of the external API.
type PublicAPI interface {
	SubmitPartnership(ctx context.Context, req domain.PartnershipRequest) (string, error)
	GetSiteSettings(ctx context.Context) *domain.SiteSettings
}

// PartnerHandler serves the partner's own figures and payout actions.
type PartnerHandler struct {
	partners func(token string) PartnerAPI
	public   PublicAPI
	cfg      *config.Config
	logger   *zap.Logger
}

func NewPartnerHandler(partners func(token string) PartnerAPI, public PublicAPI, cfg *config.Config, logger *zap.Logger) *PartnerHandler {
	return &PartnerHandler{
		partners: partners,
		public:   public,
		cfg:      cfg,
		logger:   logger,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// Dashboard returns the dashboard view as JSON
func (h *PartnerHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())

	dashboard, err := h.partners(p.AccessToken).GetPartnerDashboard(r.Context(), p.ID)
	if err != nil {
		upstreamError(w, h.logger, err, "Не удалось загрузить данные партнера")
		return
	}
	response.OK(w, domain.NewDashboardView(p, dashboard, h.cfg.ReferralLink))
}

type paymentDetailsRequest struct {
	PaymentDetails string `json:"paymentDetails"`
}

// UpdatePaymentDetails replaces the payout requisites
func (h *PartnerHandler) UpdatePaymentDetails(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())

	var req paymentDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.ValidatePaymentDetails(req.PaymentDetails); errs.HasErrors() {
		response.ValidationError(w, errs.Error(), errs.Fields())
		return
	}

	msg, err := h.partners(p.AccessToken).UpdatePaymentDetails(r.Context(), p.ID, validator.SanitizeString(req.PaymentDetails, 1000))
	if err != nil {
		upstreamError(w, h.logger, err, "Не удалось сохранить реквизиты")
		return
	}
	response.OK(w, messageResponse{Message: nonEmpty(msg, "Реквизиты сохранены")})
}

// RequestPayout asks for the balance to be paid out. The balance and the
// requisites are checked first so the partner gets the same reasons the
// dashboard shows.
func (h *PartnerHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	api := h.partners(p.AccessToken)

	dashboard, err := api.GetPartnerDashboard(r.Context(), p.ID)
	if err != nil {
		upstreamError(w, h.logger, err, "Не удалось загрузить данные партнера")
		return
	}
	view := domain.NewDashboardView(p, dashboard, nil)
	if !view.CanPayout {
		response.BadRequest(w, "Недостаточно средств для вывода.")
		return
	}
	if dashboard.PaymentDetails == nil || *dashboard.PaymentDetails == "" {
		response.BadRequest(w, "Сначала заполните платежные реквизиты.")
		return
	}

	msg, err := api.RequestPayout(r.Context(), p.ID)
	if err != nil {
		upstreamError(w, h.logger, err, "Не удалось запросить выплату")
		return
	}
	h.logger.Info("payout requested", zap.String("principal_id", p.ID))
	response.OK(w, messageResponse{Message: nonEmpty(msg, "Запрос на выплату отправлен")})
}

// SubmitPartnership forwards a landing-page request. No session required.
func (h *PartnerHandler) SubmitPartnership(w http.ResponseWriter, r *http.Request) {
	var req domain.PartnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	req.Name = validator.SanitizeString(req.Name, 100)
	req.Email = validator.SanitizeEmail(req.Email)
	req.Website = validator.SanitizeString(req.Website, 500)

	if errs := validator.ValidatePartnership(req.Name, req.Email, req.Website); errs.HasErrors() {
		response.ValidationError(w, errs.Error(), errs.Fields())
		return
	}

	msg, err := h.public.SubmitPartnership(r.Context(), req)
	if err != nil {
		upstreamError(w, h.logger, err, "Не удалось отправить заявку")
		return
	}
	response.Created(w, messageResponse{Message: nonEmpty(msg, "Заявка отправлена")})
}

// Settings returns the public site branding.
func (h *PartnerHandler) Settings(w http.ResponseWriter, r *http.Request) {
	settings := h.public.GetSiteSettings(r.Context())
	if settings == nil {
		response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", "settings unavailable")
		return
	}
	response.OK(w, settings)
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
