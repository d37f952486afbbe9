package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"
)

// FlexID accepts identifiers encoded either as JSON strings or numbers.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	*id = FlexID(strings.Trim(string(data), `"`))
	return nil
}

// NotificationRecord is a stored notification as served by the external API.
type NotificationRecord struct {
	ID        FlexID          `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NotificationAPI is the request/response side of notifications.
type NotificationAPI interface {
	GetNotifications(ctx context.Context) ([]NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}
