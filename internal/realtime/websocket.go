package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WebsocketDialer dials the upstream realtime endpoint. The principal id is
// carried as the userId query parameter.
type WebsocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewWebsocketDialer returns a dialer for rawURL.
func NewWebsocketDialer(rawURL string, handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{URL: rawURL, HandshakeTimeout: handshakeTimeout}
}

func (d *WebsocketDialer) Dial(ctx context.Context, principalID string) (Conn, error) {
	target, err := d.target(principalID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: %s: %w", d.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", d.URL, err)
	}
	return newWSConn(ws), nil
}

func (d *WebsocketDialer) target(principalID string) (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("realtime: invalid url %q: %w", d.URL, err)
	}
	q := u.Query()
	q.Set("userId", principalID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsConn frames envelopes as JSON text messages and keeps the link alive
// with pings.
type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws, done: make(chan struct{})}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go c.keepAlive()
	return c
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadEnvelope() (Envelope, error) {
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	return env, nil
}

func (c *wsConn) WriteEnvelope(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}
