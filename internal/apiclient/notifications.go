package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/eventhub/partner-portal/internal/domain"
)

// GetNotifications lists the principal's stored notifications.
func (c *Client) GetNotifications(ctx context.Context) ([]domain.NotificationRecord, error) {
	var out []domain.NotificationRecord
	if err := c.Do(ctx, http.MethodGet, "/api/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.Do(ctx, http.MethodPatch, "/api/notifications/read-all", nil, nil)
}
