package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is one browser tab connected to /ws.
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string

	logger *zap.Logger
}

// ConnectionHooks observe browser connections. OnConnect runs before the
// client reads anything; the func it returns, if any, runs once the client
// is gone.
type ConnectionHooks struct {
	OnConnect func(ctx context.Context, c *Client) (onDisconnect func())
}

// WebSocketManager fans events out to every browser tab of a principal.
type WebSocketManager struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	// Map userID to list of active clients (for multi-tab support)
	userClients map[string]map[*Client]bool
	mu          sync.RWMutex
	hooks       ConnectionHooks
	upgrader    websocket.Upgrader
	done        chan struct{}
	logger      *zap.Logger
}

func NewWebSocketManager(allowedOrigins []string, logger *zap.Logger) *WebSocketManager {
	m := &WebSocketManager{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		userClients: make(map[string]map[*Client]bool),
		done:        make(chan struct{}),
		logger:      logger,
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return m
}

// SetHooks must be called before Run.
func (m *WebSocketManager) SetHooks(h ConnectionHooks) {
	m.hooks = h
}

// Run owns client registration until ctx is done, then drops every client.
func (m *WebSocketManager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			if _, ok := m.userClients[client.UserID]; !ok {
				m.userClients[client.UserID] = make(map[*Client]bool)
			}
			m.userClients[client.UserID][client] = true
			m.mu.Unlock()
			m.logger.Debug("Client registered", zap.String("userID", client.UserID))

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				if userMap, ok := m.userClients[client.UserID]; ok {
					delete(userMap, client)
					if len(userMap) == 0 {
						delete(m.userClients, client.UserID)
					}
				}
				close(client.Send)
				m.logger.Debug("Client unregistered", zap.String("userID", client.UserID))
			}
			m.mu.Unlock()

		case <-ctx.Done():
			m.mu.Lock()
			for client := range m.clients {
				client.Conn.Close()
			}
			m.mu.Unlock()
			return
		}
	}
}

// SendToUser queues a message on every tab of the user and returns how many
// tabs took it.
func (m *WebSocketManager) SendToUser(userID string, message interface{}) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients, ok := m.userClients[userID]
	if !ok {
		return 0
	}

	jsonMsg, err := json.Marshal(message)
	if err != nil {
		m.logger.Error("Failed to marshal message", zap.Error(err))
		return 0
	}

	sent := 0
	for client := range clients {
		select {
		case client.Send <- jsonMsg:
			sent++
		default:
			// Slow tab; its pumps will time out and unregister it.
			m.logger.Warn("Dropping message for slow client", zap.String("userID", userID))
		}
	}
	return sent
}

// Connected returns the number of open tabs for the user.
func (m *WebSocketManager) Connected(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.userClients[userID])
}

// DisconnectUser closes every tab of the user, e.g. on logout.
func (m *WebSocketManager) DisconnectUser(userID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for client := range m.userClients[userID] {
		client.Conn.Close()
	}
}

// Serve upgrades the request and runs the client until it goes away. The
// caller has already authenticated userID.
func (m *WebSocketManager) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		UserID: userID,
		logger: m.logger,
	}
	select {
	case m.register <- client:
	case <-m.done:
		conn.Close()
		return nil
	}

	go client.WritePump()
	var onDisconnect func()
	if m.hooks.OnConnect != nil {
		onDisconnect = m.hooks.OnConnect(r.Context(), client)
	}
	client.ReadPump(m)
	if onDisconnect != nil {
		onDisconnect()
	}
	return nil
}

// Queue sends a message to this tab only. It must not be called after
// ReadPump returned.
func (c *Client) Queue(message interface{}) bool {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return false
	}
	select {
	case c.Send <- jsonMsg:
		return true
	default:
		c.logger.Warn("Dropping message for slow client", zap.String("userID", c.UserID))
		return false
	}
}

func (c *Client) ReadPump(manager *WebSocketManager) {
	defer func() {
		select {
		case manager.unregister <- c:
		case <-manager.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				manager.logger.Debug("browser connection closed", zap.String("userID", c.UserID), zap.Error(err))
			}
			break
		}
		// The browser talks to the REST endpoints; inbound frames only keep
		// the connection alive.
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame.
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
