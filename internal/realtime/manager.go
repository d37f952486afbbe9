package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrGaveUp       = errors.New("realtime: reconnection attempts exhausted")
	ErrClosed       = errors.New("realtime: manager closed")
)

// Options tune reconnection.
type Options struct {
	// MaxAttempts bounds consecutive failed dials before giving up.
	MaxAttempts int
	// Delay is multiplied by the attempt number between dials.
	Delay time.Duration
	// OnGiveUp runs once the manager stops retrying.
	OnGiveUp func(err error)
}

// Manager owns the one live connection of a principal. It is the only
// writer of the connection handle, its status and the roster.
type Manager struct {
	dialer Dialer
	opts   Options
	logger *zap.Logger

	mu          sync.RWMutex
	principalID string
	status      Status
	conn        Conn
	roster      Roster
	listeners   map[string]map[uint64]Handler
	nextID      uint64
	cancel      context.CancelFunc
	done        chan struct{}
	closed      bool
}

// NewManager creates a manager with no connection.
func NewManager(dialer Dialer, opts Options, logger *zap.Logger) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	return &Manager{
		dialer:    dialer,
		opts:      opts,
		logger:    logger,
		status:    StatusClosed,
		listeners: make(map[string]map[uint64]Handler),
	}
}

// Connect establishes the connection for principalID and waits until it is
// open, the manager gives up, or ctx ends. Reconnection continues in the
// background after Connect returns. Connecting the principal that is
// already connected is a no-op; switching principals closes the previous
// connection and releases its listeners first.
func (m *Manager) Connect(ctx context.Context, principalID string) error {
	if principalID == "" {
		return errors.New("realtime: principal id is required")
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if m.cancel == nil {
			break
		}
		if m.principalID == principalID {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		m.stop(true)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})

	m.principalID = principalID
	m.cancel = cancel
	m.done = done
	m.status = StatusConnecting
	m.roster.Replace(nil)
	m.mu.Unlock()

	go m.run(runCtx, principalID, ready, done)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, principalID string, ready chan<- error, done chan<- struct{}) {
	defer close(done)

	signal := func(err error) {
		select {
		case ready <- err:
		default:
		}
	}

	attempts := 0
	for {
		m.setStatus(ctx, StatusConnecting)

		conn, err := m.dialer.Dial(ctx, principalID)
		if err != nil {
			if ctx.Err() != nil {
				signal(ctx.Err())
				return
			}
			attempts++
			m.logger.Warn("realtime dial failed",
				zap.String("principal_id", principalID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			if attempts >= m.opts.MaxAttempts {
				m.retire(ctx)
				gaveUp := fmt.Errorf("%w: %v", ErrGaveUp, err)
				signal(gaveUp)
				if m.opts.OnGiveUp != nil {
					m.opts.OnGiveUp(gaveUp)
				}
				return
			}
			select {
			case <-ctx.Done():
				signal(ctx.Err())
				return
			case <-time.After(m.opts.Delay * time.Duration(attempts)):
			}
			continue
		}

		if !m.attach(ctx, conn) {
			_ = conn.Close()
			signal(ErrClosed)
			return
		}
		attempts = 0
		signal(nil)
		m.logger.Info("realtime connected", zap.String("principal_id", principalID))

		m.dispatch(EventConnect, nil)
		err = m.readLoop(conn)
		m.detach(ctx, conn)
		m.dispatch(EventDisconnect, nil)

		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("realtime connection lost",
			zap.String("principal_id", principalID),
			zap.Error(err),
		)
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			return err
		}
		m.handle(env)
	}
}

// handle keeps the roster current before fanning the event out.
func (m *Manager) handle(env Envelope) {
	switch env.Event {
	case EventOnlineUsers:
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			m.logger.Warn("malformed roster push", zap.Error(err))
			return
		}
		m.mu.Lock()
		m.roster.Replace(ids)
		m.mu.Unlock()

	case EventUserStatus:
		var change StatusChange
		if err := json.Unmarshal(env.Data, &change); err != nil {
			m.logger.Warn("malformed presence change", zap.Error(err))
			return
		}
		m.mu.Lock()
		m.roster.Apply(change)
		m.mu.Unlock()
	}

	m.dispatch(env.Event, env.Data)
}

// dispatch runs the event's handlers in registration order on the caller's
// goroutine, which is the connection's read loop.
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.RLock()
	registered := m.listeners[event]
	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, registered[id])
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		m.safeCall(event, h, data)
	}
}

func (m *Manager) safeCall(event string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("realtime handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(data)
}

func (m *Manager) attach(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.conn = conn
	m.status = StatusOpen
	return true
}

func (m *Manager) detach(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	if ctx.Err() == nil {
		m.status = StatusConnecting
	}
	// Peers are unknown until the next connection pushes a roster.
	m.roster.Replace(nil)
	m.mu.Unlock()
	_ = conn.Close()
}

// retire forgets a loop that stopped on its own so a later Connect can
// start over.
func (m *Manager) retire(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
	m.status = StatusClosed
	m.roster.Replace(nil)
}

func (m *Manager) setStatus(ctx context.Context, s Status) {
	m.mu.Lock()
	if ctx.Err() == nil {
		m.status = s
	}
	m.mu.Unlock()
}

// Subscribe registers h for event. The returned func detaches it and is
// safe to call more than once.
func (m *Manager) Subscribe(event string, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return func() {}
	}
	m.nextID++
	id := m.nextID
	if m.listeners[event] == nil {
		m.listeners[event] = make(map[uint64]Handler)
	}
	m.listeners[event][id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.listeners[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.listeners, event)
			}
		}
	}
}

// Emit sends an event upstream.
func (m *Manager) Emit(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteEnvelope(Envelope{Event: event, Data: raw})
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Connected reports whether the connection is open.
func (m *Manager) Connected() bool {
	return m.Status() == StatusOpen
}

// PrincipalID returns the principal the manager connects for.
func (m *Manager) PrincipalID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.principalID
}

// Roster returns the peers currently known to be online.
func (m *Manager) Roster() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roster.Snapshot()
}

// IsOnline reports whether a peer is in the roster.
func (m *Manager) IsOnline(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roster.Contains(peerID)
}

// ListenerCount returns the number of registered handlers.
func (m *Manager) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.listeners {
		n += len(set)
	}
	return n
}

// Close ends the session's connection for good and releases every listener.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop(true)
	return nil
}

// stop tears down the running connection loop and waits for it to exit.
func (m *Manager) stop(releaseListeners bool) {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	if cancel != nil {
		// Cancel under the lock so the loop cannot publish a status after us.
		cancel()
	}
	m.cancel = nil
	m.done = nil
	m.conn = nil
	m.status = StatusClosed
	m.roster.Replace(nil)
	if releaseListeners {
		m.listeners = make(map[string]map[uint64]Handler)
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}
