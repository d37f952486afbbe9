package realtimetest

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/eventhub/partner-portal/internal/realtime"
)

// Conn is an in-memory realtime.Conn. Push feeds the reader; writes are
// recorded.
type Conn struct {
	in        chan realtime.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []realtime.Envelope
}

func NewConn() *Conn {
	return &Conn{in: make(chan realtime.Envelope, 64), closed: make(chan struct{})}
}

func (c *Conn) ReadEnvelope() (realtime.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return realtime.Envelope{}, io.EOF
	}
}

func (c *Conn) WriteEnvelope(env realtime.Envelope) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, env)
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Push queues an event for the reader.
func (c *Conn) Push(event string, data interface{}) {
	raw, _ := json.Marshal(data)
	c.in <- realtime.Envelope{Event: event, Data: raw}
}

// Written returns the envelopes written so far.
func (c *Conn) Written() []realtime.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.Envelope, len(c.written))
	copy(out, c.written)
	return out
}

// Dialer hands out a new Conn per dial, or fails with Err when set.
type Dialer struct {
	mu    sync.Mutex
	Err   error
	conns []*Conn
	dials int
}

var _ realtime.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, principalID string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.Err != nil {
		return nil, d.Err
	}
	c := NewConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conn returns the i-th successful connection, or nil.
func (d *Dialer) Conn(i int) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// SetErr makes later dials fail with err, or succeed when err is nil.
func (d *Dialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}
