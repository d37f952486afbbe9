// Package chat runs the partner's open chat conversations on top of the
// shared realtime connection.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/realtime"
)

var (
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrClosed       = errors.New("chat: session closed")
)

// PublishKind names the state update sent to the sink on every change.
const PublishKind = "chat"

const tempIDPrefix = "tmp-"

// View is a read-only snapshot of a session.
type View struct {
	ChatID         string               `json:"chatId"`
	Messages       []domain.ChatMessage `json:"messages"`
	Loading        bool                 `json:"loading"`
	HistoryFailed  bool                 `json:"historyFailed,omitempty"`
	ScrollToLatest bool                 `json:"scrollToLatest"`
}

// Session is one open conversation. Messages are keyed by id; an outgoing
// message carries a temporary id until the server confirms it.
type Session struct {
	chatID      string
	principalID string
	ch          realtime.Channel
	api         domain.ChatAPI
	sink        domain.Sink
	logger      *zap.Logger
	now         func() time.Time

	mu            sync.Mutex
	messages      []domain.ChatMessage
	loading       bool
	historyFailed bool
	// Pulled snapshots and pushed updates each track growth on their own.
	pullScroll bool
	pushScroll bool
	opened     bool
	closed     bool
	unsubs     []func()
}

func NewSession(chatID, principalID string, ch realtime.Channel, api domain.ChatAPI, sink domain.Sink, logger *zap.Logger) *Session {
	if sink == nil {
		sink = domain.DiscardSink{}
	}
	return &Session{
		chatID:      chatID,
		principalID: principalID,
		ch:          ch,
		api:         api,
		sink:        sink,
		logger:      logger.With(zap.String("chat_id", chatID)),
		now:         time.Now,
	}
}

func (s *Session) ChatID() string { return s.chatID }

// Open joins the chat channel and loads the history. Live messages that
// arrive while the history is loading are kept and merged by id. A failed
// load is reported to the partner and leaves no history in the list.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.loading = true
	s.scrollLocked()
	s.unsubs = []func(){
		s.ch.Subscribe(realtime.EventReceiveMessage, s.handleIncoming),
		s.ch.Subscribe(realtime.EventConnect, func(json.RawMessage) { s.join() }),
	}
	s.mu.Unlock()

	s.join()
	s.publish()
	return s.load(ctx)
}

// Reload fetches the history again after a failed load. It is a no-op while
// a load is running or once the history is in.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.opened {
		s.mu.Unlock()
		return s.Open(ctx)
	}
	if !s.historyFailed || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.historyFailed = false
	s.scrollLocked()
	s.mu.Unlock()

	s.publish()
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) error {
	history, err := s.api.GetMessages(ctx, s.chatID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loading = false
	if err != nil {
		s.historyFailed = true
		s.mu.Unlock()

		s.logger.Warn("failed to load chat history", zap.Error(err))
		s.sink.Alert(domain.Alert{
			Title:       "Ошибка",
			Description: "Не удалось загрузить историю сообщений",
			Variant:     domain.AlertDestructive,
		})
		s.publish()
		return err
	}
	s.mergeHistoryLocked(history)
	s.scrollLocked()
	s.mu.Unlock()

	s.publish()
	return nil
}

// mergeHistoryLocked puts the history first, then whatever arrived live or
// was sent while it loaded.
func (s *Session) mergeHistoryLocked(history []domain.ChatMessage) {
	merged := make([]domain.ChatMessage, 0, len(history)+len(s.messages))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ChatID != "" && m.ChatID != s.chatID {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m.ChatID = s.chatID
		m.Status = domain.StatusSent
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		merged = append(merged, m)
	}
	s.messages = merged
}

func (s *Session) join() {
	if err := s.ch.Emit(realtime.EventJoinChat, s.chatID); err != nil {
		s.logger.Debug("join deferred until connected", zap.Error(err))
	}
}

func (s *Session) handleIncoming(data json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed chat message", zap.Error(err))
		return
	}
	if msg.ChatID != s.chatID || msg.ID == "" {
		return
	}

	s.mu.Lock()
	if s.closed || s.indexLocked(msg.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	msg.Status = domain.StatusSent
	s.messages = append(s.messages, msg)
	s.scrollLocked()
	s.mu.Unlock()

	s.publish()
}

// Send appends an optimistic message and confirms it with the server. On
// failure the message stays in the list marked as failed; there is no retry.
func (s *Session) Send(ctx context.Context, content string) (domain.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}

	pending := domain.ChatMessage{
		ID:        tempIDPrefix + uuid.NewString(),
		ChatID:    s.chatID,
		SenderID:  s.principalID,
		Content:   content,
		CreatedAt: s.now(),
		Status:    domain.StatusSending,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrClosed
	}
	s.messages = append(s.messages, pending)
	s.scrollLocked()
	s.mu.Unlock()
	s.publish()

	saved, err := s.api.CreateMessage(ctx, s.chatID, content)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrClosed
	}
	i := s.indexLocked(pending.ID)
	if err != nil {
		if i >= 0 {
			s.messages[i].Status = domain.StatusError
		}
		pending.Status = domain.StatusError
		s.mu.Unlock()

		s.logger.Warn("failed to send chat message", zap.Error(err))
		s.sink.Alert(domain.Alert{
			Title:       "Ошибка",
			Description: "Не удалось отправить сообщение",
			Variant:     domain.AlertDestructive,
		})
		s.publish()
		return pending, err
	}

	confirmed := *saved
	if confirmed.ChatID == "" {
		confirmed.ChatID = s.chatID
	}
	confirmed.Status = domain.StatusSent
	switch {
	case i < 0:
	case s.indexLocked(confirmed.ID) >= 0:
		// The server copy already arrived live.
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	default:
		s.messages[i] = confirmed
	}
	s.mu.Unlock()

	s.publish()
	return confirmed, nil
}

// Snapshot returns the current view. ScrollToLatest is set when the list
// grew or the view opened since the previous snapshot.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.viewLocked(s.pullScroll)
	s.pullScroll = false
	return v
}

func (s *Session) scrollLocked() {
	s.pullScroll = true
	s.pushScroll = true
}

func (s *Session) viewLocked(scroll bool) View {
	msgs := make([]domain.ChatMessage, len(s.messages))
	copy(msgs, s.messages)
	return View{
		ChatID:         s.chatID,
		Messages:       msgs,
		Loading:        s.loading,
		HistoryFailed:  s.historyFailed,
		ScrollToLatest: scroll,
	}
}

// publish pushes the view to the sink. ScrollToLatest here is relative to
// the previous push.
func (s *Session) publish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	v := s.viewLocked(s.pushScroll)
	s.pushScroll = false
	s.mu.Unlock()
	s.sink.Publish(PublishKind, v)
}

// Close leaves the chat channel. Completions that arrive afterwards are
// dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	opened := s.opened
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	if opened {
		if err := s.ch.Emit(realtime.EventLeaveChat, s.chatID); err != nil {
			s.logger.Debug("leave_chat not sent", zap.Error(err))
		}
	}
}

func (s *Session) indexLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}
