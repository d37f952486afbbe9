package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/eventhub/partner-portal/internal/domain"
)

// GetMessages returns a chat's history, oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	if err := c.Do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMessage posts a message and returns the stored copy.
func (c *Client) CreateMessage(ctx context.Context, chatID, content string) (*domain.ChatMessage, error) {
	var out domain.ChatMessage
	in := map[string]string{"content": content}
	if err := c.Do(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/messages", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
