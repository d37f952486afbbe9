package portal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
)

const pushTimeout = 10 * time.Second

// Event is what the browser receives over its websocket.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Browser reaches a principal's open browser connections.
type Browser interface {
	// SendToUser returns the number of connections the message was queued on.
	SendToUser(userID string, message interface{}) int
}

// Pusher delivers an alert to the principal's devices.
type Pusher interface {
	PushAlert(ctx context.Context, principalID string, a domain.Alert) error
}

// browserSink sends everything to the browser. Alerts fall back to device
// push when no browser connection is open.
type browserSink struct {
	principalID string
	browser     Browser
	pusher      Pusher
	logger      *zap.Logger
}

func (s *browserSink) Alert(a domain.Alert) {
	if s.browser != nil && s.browser.SendToUser(s.principalID, Event{Type: "alert", Payload: a}) > 0 {
		return
	}
	if s.pusher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := s.pusher.PushAlert(ctx, s.principalID, a); err != nil {
			s.logger.Warn("push fallback failed", zap.String("principal_id", s.principalID), zap.Error(err))
		}
	}()
}

func (s *browserSink) Publish(kind string, payload interface{}) {
	if s.browser == nil {
		return
	}
	s.browser.SendToUser(s.principalID, Event{Type: kind, Payload: payload})
}
