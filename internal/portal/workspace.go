// Package portal holds the per-partner workspace: the realtime connection
// and everything that runs on it.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eventhub/partner-portal/internal/chat"
	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/notify"
	"github.com/eventhub/partner-portal/internal/realtime"
)

var (
	ErrChatNotOpen     = errors.New("chat is not open")
	ErrWorkspaceClosed = errors.New("workspace closed")
)

// API is the part of the external REST API a workspace calls on behalf of
// its principal.
type API interface {
	domain.ChatAPI
	domain.NotificationAPI
}

// Presence is the read-only view of the realtime connection.
type Presence struct {
	Status realtime.Status `json:"status"`
	Online []string        `json:"online"`
}

// Workspace is everything one signed-in partner has running.
type Workspace struct {
	principal     *domain.Principal
	conn          *realtime.Manager
	api           API
	sink          domain.Sink
	notifications *notify.Coordinator
	previews      *chat.PreviewNotifier
	logger        *zap.Logger

	mu     sync.Mutex
	chats  map[string]*chat.Session
	refs   int
	closed bool
	unsubs []func()
}

func newWorkspace(p *domain.Principal, dialer realtime.Dialer, opts realtime.Options, api API, sink domain.Sink, logger *zap.Logger) *Workspace {
	logger = logger.With(zap.String("principal_id", p.ID))

	giveUp := opts.OnGiveUp
	opts.OnGiveUp = func(err error) {
		sink.Alert(domain.Alert{
			Title:       "Нет соединения",
			Description: "Не удалось подключиться к серверу уведомлений. Обновите страницу, чтобы попробовать снова.",
			Variant:     domain.AlertDestructive,
		})
		sink.Publish("connection", Presence{Status: realtime.StatusClosed, Online: []string{}})
		if giveUp != nil {
			giveUp(err)
		}
	}
	conn := realtime.NewManager(dialer, opts, logger)

	w := &Workspace{
		principal:     p,
		conn:          conn,
		api:           api,
		sink:          sink,
		notifications: notify.NewCoordinator(conn, sink, logger),
		previews:      chat.NewPreviewNotifier(conn, sink, logger),
		logger:        logger,
		chats:         make(map[string]*chat.Session),
	}

	publishPresence := func(json.RawMessage) { sink.Publish("presence", w.Presence()) }
	w.unsubs = []func(){
		conn.Subscribe(realtime.EventConnect, publishPresence),
		conn.Subscribe(realtime.EventDisconnect, publishPresence),
		conn.Subscribe(realtime.EventOnlineUsers, publishPresence),
		conn.Subscribe(realtime.EventUserStatus, publishPresence),
	}
	return w
}

// Start connects the realtime channel and loads stored notifications at the
// same time. Neither failure is fatal: the workspace keeps serving whatever
// it has.
func (w *Workspace) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var connectErr, hydrateErr error
	g.Go(func() error {
		connectErr = w.conn.Connect(gctx, w.principal.ID)
		return nil
	})
	g.Go(func() error {
		records, err := w.api.GetNotifications(gctx)
		if err != nil {
			hydrateErr = err
			return nil
		}
		w.notifications.Hydrate(records)
		return nil
	})
	_ = g.Wait()

	if connectErr != nil {
		w.logger.Warn("realtime connect failed", zap.Error(connectErr))
	}
	if hydrateErr != nil {
		w.logger.Warn("failed to load notifications", zap.Error(hydrateErr))
	}
	return errors.Join(connectErr, hydrateErr)
}

// Reconnect restarts the realtime connection if it gave up. It is a no-op
// while the connection is open or retrying.
func (w *Workspace) Reconnect(ctx context.Context) error {
	return w.conn.Connect(ctx, w.principal.ID)
}

func (w *Workspace) Principal() *domain.Principal { return w.principal }

func (w *Workspace) Notifications() *notify.Coordinator { return w.notifications }

func (w *Workspace) Presence() Presence {
	return Presence{Status: w.conn.Status(), Online: w.conn.Roster()}
}

// MarkRead acknowledges one notification locally and upstream. The local
// change stands even when the upstream call fails.
func (w *Workspace) MarkRead(ctx context.Context, id string) (bool, error) {
	changed := w.notifications.MarkRead(id)
	if !changed {
		return false, nil
	}
	if err := w.api.MarkNotificationRead(ctx, id); err != nil {
		return true, fmt.Errorf("failed to acknowledge notification upstream: %w", err)
	}
	return true, nil
}

func (w *Workspace) MarkAllRead(ctx context.Context) (int, error) {
	n := w.notifications.MarkAllRead()
	if err := w.api.MarkAllNotificationsRead(ctx); err != nil {
		return n, fmt.Errorf("failed to acknowledge notifications upstream: %w", err)
	}
	return n, nil
}

// OpenChat opens the chat or returns the view of the already open one. An
// open chat whose history failed to load fetches it again.
func (w *Workspace) OpenChat(ctx context.Context, chatID string) (chat.View, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return chat.View{}, ErrWorkspaceClosed
	}
	s, ok := w.chats[chatID]
	if !ok {
		s = chat.NewSession(chatID, w.principal.ID, w.conn, w.api, w.sink, w.logger)
		w.chats[chatID] = s
	}
	w.mu.Unlock()

	var err error
	if ok {
		err = s.Reload(ctx)
	} else {
		err = s.Open(ctx)
	}
	return s.Snapshot(), err
}

func (w *Workspace) Chat(chatID string) (*chat.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.chats[chatID]
	if !ok {
		return nil, ErrChatNotOpen
	}
	return s, nil
}

func (w *Workspace) SendMessage(ctx context.Context, chatID, content string) (domain.ChatMessage, error) {
	s, err := w.Chat(chatID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return s.Send(ctx, content)
}

// CloseChat leaves the chat. Closing a chat that is not open is a no-op.
func (w *Workspace) CloseChat(chatID string) {
	w.mu.Lock()
	s, ok := w.chats[chatID]
	delete(w.chats, chatID)
	w.mu.Unlock()

	if ok {
		s.Close()
	}
}

// OpenChats returns the ids of the open chats.
func (w *Workspace) OpenChats() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.chats))
	for id := range w.chats {
		ids = append(ids, id)
	}
	return ids
}

// Close tears everything down, chats first and the connection last.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	chats := w.chats
	w.chats = make(map[string]*chat.Session)
	unsubs := w.unsubs
	w.unsubs = nil
	w.mu.Unlock()

	for _, s := range chats {
		s.Close()
	}
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	w.previews.Close()
	w.notifications.Close()
	_ = w.conn.Close()
	w.logger.Info("workspace closed")
}
