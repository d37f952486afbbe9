// Package notify keeps a partner's notification list and turns incoming
// realtime notifications into alerts.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eventhub/partner-portal/internal/domain"
)

// Discriminators carried in the type field.
const (
	KindToken          = "TOKEN"
	KindJob            = "JOB"
	KindChatMessage    = "CHAT_MESSAGE"
	KindBookingRequest = "BOOKING_REQUEST"
)

// Payload is the closed set of notification bodies. Only this package can
// add variants.
type Payload interface {
	Kind() string
	sealed()
}

type TokenPayload struct {
	TokenCode    string `json:"tokenCode,omitempty"`
	OrderNumber  string `json:"orderNumber,omitempty"`
	MobileNumber string `json:"mobileNumber,omitempty"`
	Status       string `json:"status,omitempty"`
}

type JobPayload struct {
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Cost        domain.FlexID `json:"cost,omitempty"`
	PostedBy    string        `json:"postedBy,omitempty"`
}

// ChatPreviewPayload announces a chat message without carrying it.
type ChatPreviewPayload struct {
	ChatID     string `json:"chatId"`
	SenderName string `json:"senderName"`
	Preview    string `json:"preview"`
}

type BookingRequestPayload struct {
	BookingID  string `json:"bookingId"`
	CustomerID string `json:"customerId,omitempty"`
	Status     string `json:"status,omitempty"`
}

// SystemPayload covers every type the portal does not know by name. The
// original discriminator and body are kept verbatim.
type SystemPayload struct {
	Type string
	Data json.RawMessage
}

func (TokenPayload) Kind() string          { return KindToken }
func (JobPayload) Kind() string            { return KindJob }
func (ChatPreviewPayload) Kind() string    { return KindChatMessage }
func (BookingRequestPayload) Kind() string { return KindBookingRequest }
func (p SystemPayload) Kind() string       { return p.Type }

func (TokenPayload) sealed()          {}
func (JobPayload) sealed()            {}
func (ChatPreviewPayload) sealed()    {}
func (BookingRequestPayload) sealed() {}
func (SystemPayload) sealed()         {}

func (p SystemPayload) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("null"), nil
	}
	return p.Data, nil
}

// decodePayload maps a discriminator and its body onto a variant. A body
// that does not fit its variant degrades to an empty variant rather than
// dropping the notification.
func decodePayload(kind string, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindToken:
		var v TokenPayload
		err = unmarshalBody(data, &v)
		p = v
	case KindJob:
		var v JobPayload
		err = unmarshalBody(data, &v)
		p = v
	case KindChatMessage:
		var v ChatPreviewPayload
		err = unmarshalBody(data, &v)
		p = v
	case KindBookingRequest:
		var v BookingRequestPayload
		err = unmarshalBody(data, &v)
		p = v
	default:
		p = SystemPayload{Type: kind, Data: data}
	}
	if err != nil {
		return p, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

func unmarshalBody(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Item is one entry of the notification list.
type Item struct {
	ID        string
	Message   string
	IsRead    bool
	CreatedAt time.Time
	Payload   Payload
}

func (it Item) MarshalJSON() ([]byte, error) {
	kind := ""
	if it.Payload != nil {
		kind = it.Payload.Kind()
	}
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		Message   string    `json:"message,omitempty"`
		IsRead    bool      `json:"isRead"`
		CreatedAt time.Time `json:"createdAt"`
		Data      Payload   `json:"data,omitempty"`
	}{it.ID, kind, it.Message, it.IsRead, it.CreatedAt, it.Payload})
}

// Kind returns the item's discriminator.
func (it Item) Kind() string {
	if it.Payload == nil {
		return ""
	}
	return it.Payload.Kind()
}
