// Package realtimetest provides an in-memory realtime.Channel for tests.
package realtimetest

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/eventhub/partner-portal/internal/realtime"
)

var ErrOffline = errors.New("realtimetest: offline")

// Emitted is one event written through the bus.
type Emitted struct {
	Event string
	Data  json.RawMessage
}

// Bus delivers events synchronously to its subscribers and records emits.
type Bus struct {
	mu        sync.Mutex
	handlers  map[string]map[int]realtime.Handler
	nextID    int
	connected bool
	emitted   []Emitted
}

var _ realtime.Channel = (*Bus)(nil)

// NewBus returns a connected bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]map[int]realtime.Handler), connected: true}
}

func (b *Bus) Subscribe(event string, h realtime.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int]realtime.Handler)
	}
	b.handlers[event][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[event], id)
	}
}

func (b *Bus) Emit(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrOffline
	}
	b.emitted = append(b.emitted, Emitted{Event: event, Data: raw})
	return nil
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetConnected flips the connection state. Going online delivers the
// connect pseudo-event the way the manager does.
func (b *Bus) SetConnected(v bool) {
	b.mu.Lock()
	was := b.connected
	b.connected = v
	b.mu.Unlock()
	switch {
	case v && !was:
		b.Deliver(realtime.EventConnect, nil)
	case !v && was:
		b.Deliver(realtime.EventDisconnect, nil)
	}
}

// Deliver runs every handler of event with data encoded as JSON.
func (b *Bus) Deliver(event string, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		if r, ok := data.(json.RawMessage); ok {
			raw = r
		} else {
			raw, _ = json.Marshal(data)
		}
	}

	b.mu.Lock()
	ids := make([]int, 0, len(b.handlers[event]))
	for id := range b.handlers[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]realtime.Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, b.handlers[event][id])
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(raw)
	}
}

// Emitted returns what has been emitted so far.
func (b *Bus) Emitted() []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Emitted, len(b.emitted))
	copy(out, b.emitted)
	return out
}

// Subscribers returns the number of handlers for event.
func (b *Bus) Subscribers(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}
