package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

type fakeConn struct {
	in        chan Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Envelope, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadEnvelope() (Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return Envelope{}, io.EOF
	}
}

func (c *fakeConn) WriteEnvelope(env Envelope) error {
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

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(event string, data interface{}) {
	raw, _ := json.Marshal(data)
	c.in <- Envelope{Event: event, Data: raw}
}

func (c *fakeConn) sent() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.written))
	copy(out, c.written)
	return out
}

// fakeDialer hands out a fresh fakeConn per dial, or fails while failing is set.
type fakeDialer struct {
	mu         sync.Mutex
	failing    bool
	dials      int
	principals []string
	conns      []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, principalID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.principals = append(d.principals, principalID)
	if d.failing {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = v
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
