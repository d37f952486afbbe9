package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/eventhub/partner-portal/internal/domain"
)

// GetPartnerDashboard fetches the partner's aggregate statistics.
func (c *Client) GetPartnerDashboard(ctx context.Context, partnerID string) (*domain.PartnerDashboard, error) {
	var out domain.PartnerDashboard
	if err := c.Do(ctx, http.MethodGet, "/api/partners/"+url.PathEscape(partnerID)+"/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePaymentDetails replaces the partner's payout requisites.
func (c *Client) UpdatePaymentDetails(ctx context.Context, partnerID, details string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	in := map[string]string{"paymentDetails": details}
	if err := c.Do(ctx, http.MethodPatch, "/api/partners/"+url.PathEscape(partnerID)+"/payment-details", in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// RequestPayout asks the backend to pay out the current balance.
func (c *Client) RequestPayout(ctx context.Context, partnerID string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.Do(ctx, http.MethodPost, "/api/partners/"+url.PathEscape(partnerID)+"/payouts", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// SubmitPartnership forwards a landing-page partnership request.
func (c *Client) SubmitPartnership(ctx context.Context, req domain.PartnershipRequest) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.Do(ctx, http.MethodPost, "/api/partners/partnership-request", req, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// GetSiteSettings returns public branding, or nil when unavailable.
func (c *Client) GetSiteSettings(ctx context.Context) *domain.SiteSettings {
	var out domain.SiteSettings
	if err := c.Do(ctx, http.MethodGet, "/api/settings/general", nil, &out); err != nil {
		return nil
	}
	return &out
}
