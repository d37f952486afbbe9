package chat

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/realtime"
)

// Preview is the body of a message_notification event.
type Preview struct {
	ChatID     string `json:"chatId"`
	SenderName string `json:"senderName"`
	Preview    string `json:"preview"`
}

// PreviewNotifier raises the audible reply alert for chat previews. It is
// the only component that plays a sound for them.
type PreviewNotifier struct {
	sink   domain.Sink
	logger *zap.Logger

	once        sync.Once
	unsubscribe func()
}

func NewPreviewNotifier(src realtime.Source, sink domain.Sink, logger *zap.Logger) *PreviewNotifier {
	if sink == nil {
		sink = domain.DiscardSink{}
	}
	n := &PreviewNotifier{sink: sink, logger: logger}
	n.unsubscribe = src.Subscribe(realtime.EventMessageNotification, n.handle)
	return n
}

func (n *PreviewNotifier) handle(data json.RawMessage) {
	var p Preview
	if err := json.Unmarshal(data, &p); err != nil {
		n.logger.Warn("malformed message notification", zap.Error(err))
		return
	}
	n.sink.Alert(ReplyAlert(p))
}

// ReplyAlert builds the alert that offers to open the chat of p.
func ReplyAlert(p Preview) domain.Alert {
	return domain.Alert{
		Title:       "Сообщение от " + p.SenderName,
		Description: p.Preview,
		Variant:     domain.AlertDefault,
		Duration:    5 * time.Second,
		Action:      &domain.AlertAction{Label: "Ответить", ChatID: p.ChatID},
		Sound:       true,
	}
}

func (n *PreviewNotifier) Close() {
	n.once.Do(n.unsubscribe)
}
