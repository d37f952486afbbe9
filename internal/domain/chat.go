package domain

import (
	"context"
	"time"
)

// DeliveryStatus tracks an outgoing message from optimistic append to the
// server's answer.
type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusError   DeliveryStatus = "error"
)

type ChatMessage struct {
	ID         string         `json:"id"`
	ChatID     string         `json:"chatId"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName,omitempty"`
	Content    string         `json:"content"`
	CreatedAt  time.Time      `json:"createdAt"`
	IsRead     bool           `json:"isRead,omitempty"`
	Status     DeliveryStatus `json:"status,omitempty"`
}

// ChatAPI is the request/response side of chat, served by the external API.
type ChatAPI interface {
	GetMessages(ctx context.Context, chatID string) ([]ChatMessage, error)
	CreateMessage(ctx context.Context, chatID, content string) (*ChatMessage, error)
}
