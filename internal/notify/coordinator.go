package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/realtime"
)

// PublishKind names the state update sent to the sink on every change.
const PublishKind = "notifications"

const alertDuration = 8 * time.Second

// Snapshot is the coordinator's read-only projection.
type Snapshot struct {
	Items       []Item `json:"items"`
	UnreadCount int    `json:"unreadCount"`
}

// incoming is the envelope body of a generic notification event.
type incoming struct {
	ID        domain.FlexID   `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	CreatedAt string          `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// bodyMeta picks list metadata that some senders put inside data.
type bodyMeta struct {
	ID        domain.FlexID `json:"id"`
	Message   string        `json:"message"`
	CreatedAt string        `json:"createdAt"`
}

// Coordinator owns the notification list and unread state of one partner.
type Coordinator struct {
	sink   domain.Sink
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	items  []Item
	ids    map[string]struct{}
	unsubs []func()
	closed bool
}

// NewCoordinator subscribes to src's notification channels.
func NewCoordinator(src realtime.Source, sink domain.Sink, logger *zap.Logger) *Coordinator {
	if sink == nil {
		sink = domain.DiscardSink{}
	}
	c := &Coordinator{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		ids:    make(map[string]struct{}),
	}
	c.unsubs = []func(){
		src.Subscribe(realtime.EventNotification, c.handleNotification),
		src.Subscribe(realtime.EventMessageNotification, c.handleChatPreview),
	}
	return c
}

func (c *Coordinator) handleNotification(data json.RawMessage) {
	var ev incoming
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("malformed notification", zap.Error(err))
		return
	}

	payload, err := decodePayload(ev.Type, ev.Data)
	if err != nil {
		c.logger.Warn("notification body does not match its type",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}

	var meta bodyMeta
	_ = unmarshalBody(ev.Data, &meta)

	item := Item{
		ID:        firstNonEmpty(string(ev.ID), string(meta.ID)),
		Message:   firstNonEmpty(ev.Message, meta.Message),
		CreatedAt: c.parseTime(firstNonEmpty(ev.CreatedAt, meta.CreatedAt)),
		Payload:   payload,
	}
	if p, ok := payload.(ChatPreviewPayload); ok && item.Message == "" {
		item.Message = "Новое сообщение от " + p.SenderName
	}

	c.add(item)
}

// handleChatPreview lists a chat preview. The audible reply alert for the
// same event belongs to chat.PreviewNotifier.
func (c *Coordinator) handleChatPreview(data json.RawMessage) {
	var p ChatPreviewPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("malformed message notification", zap.Error(err))
		return
	}
	c.add(Item{
		Message:   "Сообщение от " + p.SenderName,
		CreatedAt: c.now(),
		Payload:   p,
	})
}

// add prepends item as unread and raises its alert.
func (c *Coordinator) add(item Item) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, dup := c.ids[item.ID]; dup {
		c.mu.Unlock()
		c.logger.Debug("duplicate notification ignored", zap.String("id", item.ID))
		return
	}
	item.IsRead = false
	c.ids[item.ID] = struct{}{}
	c.items = append([]Item{item}, c.items...)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if alert, ok := alertFor(item); ok {
		c.sink.Alert(alert)
	}
	c.sink.Publish(PublishKind, snap)
}

// alertFor is the single place that decides how each payload is announced.
func alertFor(item Item) (domain.Alert, bool) {
	switch p := item.Payload.(type) {
	case TokenPayload:
		return domain.Alert{
			Title:       "New Token Generated 🎟️",
			Description: "Token: " + p.TokenCode,
			Variant:     domain.AlertSuccess,
			Duration:    alertDuration,
			Action:      &domain.AlertAction{Label: "View", Target: "/tokens"},
			Sound:       true,
		}, true
	case JobPayload:
		return domain.Alert{
			Title:       "New Job Posted 🚛",
			Description: fmt.Sprintf("%s | %s₽", p.Location, p.Cost),
			Variant:     domain.AlertDefault,
			Duration:    alertDuration,
			Action:      &domain.AlertAction{Label: "Jobs", Target: "/jobs"},
			Sound:       true,
		}, true
	case BookingRequestPayload:
		return domain.Alert{
			Title:       "Новый запрос на бронирование",
			Description: item.Message,
			Variant:     domain.AlertDefault,
			Duration:    alertDuration,
			Action:      &domain.AlertAction{Label: "Открыть", Target: "/bookings"},
			Sound:       true,
		}, true
	case ChatPreviewPayload:
		return domain.Alert{}, false
	case SystemPayload:
		return systemAlert(item), true
	default:
		return systemAlert(item), true
	}
}

func systemAlert(item Item) domain.Alert {
	return domain.Alert{
		Title:       firstNonEmpty(item.Message, "Уведомление"),
		Description: "Новое сообщение от системы",
		Variant:     domain.AlertDefault,
	}
}

// Hydrate merges stored notifications below the live ones. Items already in
// the list keep their state.
func (c *Coordinator) Hydrate(records []domain.NotificationRecord) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for _, rec := range records {
		id := string(rec.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := c.ids[id]; dup {
			continue
		}
		payload, err := decodePayload(rec.Type, rec.Data)
		if err != nil {
			c.logger.Debug("stored notification body does not match its type", zap.String("id", id), zap.Error(err))
		}
		c.ids[id] = struct{}{}
		c.items = append(c.items, Item{
			ID:        id,
			Message:   rec.Message,
			IsRead:    rec.IsRead,
			CreatedAt: rec.CreatedAt,
			Payload:   payload,
		})
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.sink.Publish(PublishKind, snap)
}

// MarkRead marks one item read and reports whether anything changed.
// Marking a read or unknown item is a no-op.
func (c *Coordinator) MarkRead(id string) bool {
	c.mu.Lock()
	changed := false
	for i := range c.items {
		if c.items[i].ID == id {
			if !c.items[i].IsRead {
				c.items[i].IsRead = true
				changed = true
			}
			break
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.sink.Publish(PublishKind, snap)
	}
	return changed
}

// MarkAllRead marks every item read and returns how many changed.
func (c *Coordinator) MarkAllRead() int {
	c.mu.Lock()
	n := 0
	for i := range c.items {
		if !c.items[i].IsRead {
			c.items[i].IsRead = true
			n++
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if n > 0 {
		c.sink.Publish(PublishKind, snap)
	}
	return n
}

// Items returns the list, newest first.
func (c *Coordinator) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Coordinator) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadLocked()
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close detaches from the realtime channel. Events already in flight are
// dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}

func (c *Coordinator) unreadLocked() int {
	n := 0
	for _, it := range c.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

func (c *Coordinator) snapshotLocked() Snapshot {
	items := make([]Item, len(c.items))
	copy(items, c.items)
	return Snapshot{Items: items, UnreadCount: c.unreadLocked()}
}

func (c *Coordinator) parseTime(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return c.now()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
