package domain

import "time"

// ReferralEvent is a registration or payment attributed to a partner's link.
type ReferralEvent struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	EventType        string    `json:"eventType"` // "registration" or "payment"
	ReferredUserID   string    `json:"referredUserId"`
	CommissionAmount *float64  `json:"commissionAmount,omitempty"`
	Status           string    `json:"status"` // "pending", "paid" or "rejected"
}

// MonthlyRevenue is one bar of the earnings chart.
type MonthlyRevenue struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

// PartnerDashboard is the aggregate returned by the external API.
type PartnerDashboard struct {
	PartnerID            string           `json:"partnerId"`
	ReferralID           string           `json:"referralId"`
	Balance              float64          `json:"balance"`
	TotalEarned          float64          `json:"totalEarned"`
	TotalRegistrations   int              `json:"totalRegistrations"`
	TotalPaidConversions int              `json:"totalPaidConversions"`
	Clicks               int              `json:"clicks"`
	MonthlyRevenue       []MonthlyRevenue `json:"monthlyRevenue"`
	ReferralEvents       []ReferralEvent  `json:"referralEvents"`
	MinPayout            float64          `json:"minPayout"`
	PaymentDetails       *string          `json:"paymentDetails"`
}

// DashboardView is what the portal renders for a signed-in partner.
type DashboardView struct {
	Partner      *Principal        `json:"partner"`
	Dashboard    *PartnerDashboard `json:"dashboard"`
	ReferralLink string            `json:"referralLink,omitempty"`
	CanPayout    bool              `json:"canPayout"`
}

// NewDashboardView builds the view, tolerating a dashboard with missing
// collections so the page always has something to render.
func NewDashboardView(p *Principal, d *PartnerDashboard, referralLink func(string) string) *DashboardView {
	if d == nil {
		d = &PartnerDashboard{PartnerID: p.ID}
	}
	if d.MonthlyRevenue == nil {
		d.MonthlyRevenue = []MonthlyRevenue{}
	}
	if d.ReferralEvents == nil {
		d.ReferralEvents = []ReferralEvent{}
	}

	view := &DashboardView{
		Partner:   p,
		Dashboard: d,
		CanPayout: d.Balance > 0 && d.Balance >= d.MinPayout,
	}
	if d.ReferralID != "" && referralLink != nil {
		view.ReferralLink = referralLink(d.ReferralID)
	}
	return view
}

// PartnershipRequest is submitted from the public landing page.
type PartnershipRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Website string `json:"website"`
}

// SiteSettings is the public branding block served by the external API.
type SiteSettings struct {
	SiteName   string `json:"siteName"`
	LogoURL    string `json:"logoUrl,omitempty"`
	FontFamily string `json:"fontFamily"`
	Contacts   struct {
		Email        string `json:"email,omitempty"`
		Phone        string `json:"phone,omitempty"`
		VKLink       string `json:"vkLink,omitempty"`
		TelegramLink string `json:"telegramLink,omitempty"`
	} `json:"contacts"`
}
