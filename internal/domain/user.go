package domain

import (
	"time"
)

// RolePartner is the only role admitted to the portal.
const RolePartner = "partner"

// User represents a user in the domain layer
type User struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPartner reports whether the user may use the portal.
func (u *User) IsPartner() bool {
	return u.Role == RolePartner
}

// Principal is the authenticated identity behind a portal session.
type Principal struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Role        string `json:"role"`
	AccessToken string `json:"-"`
}

// IsPartner reports whether the principal may use the portal.
func (p *Principal) IsPartner() bool {
	return p.Role == RolePartner
}

// ToPrincipal converts a User to a Principal carrying the given bearer token.
func (u *User) ToPrincipal(accessToken string) *Principal {
	p := &Principal{
		ID:          u.ID,
		Name:        u.Name,
		Role:        u.Role,
		AccessToken: accessToken,
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	return p
}
