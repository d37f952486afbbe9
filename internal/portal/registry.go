package portal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/realtime"
)

// Deps are shared by every workspace the registry builds.
type Deps struct {
	Dialer   realtime.Dialer
	Realtime realtime.Options
	// API returns the external API client bound to a bearer token.
	API     func(token string) API
	Browser Browser
	Pusher  Pusher
	// StartWait bounds how long a caller waits for a new workspace to
	// connect and load. Start-up carries on in the background after that.
	StartWait time.Duration
}

const defaultStartWait = 3 * time.Second

// Registry keeps at most one workspace per principal. Browser connections
// hold references; the workspace goes away with the last one or on logout.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	spaces map[string]*Workspace
}

func NewRegistry(deps Deps, logger *zap.Logger) *Registry {
	if deps.StartWait <= 0 {
		deps.StartWait = defaultStartWait
	}
	return &Registry{
		deps:   deps,
		logger: logger,
		spaces: make(map[string]*Workspace),
	}
}

// Workspace returns the principal's workspace, starting one if needed.
func (r *Registry) Workspace(ctx context.Context, p *domain.Principal) *Workspace {
	w, _ := r.get(ctx, p, false)
	return w
}

// Acquire is Workspace plus a reference. The returned func drops that
// reference on that workspace only, and only once. A workspace whose
// connection gave up is asked to reconnect.
func (r *Registry) Acquire(ctx context.Context, p *domain.Principal) (*Workspace, func()) {
	w, created := r.get(ctx, p, true)
	if !created {
		r.await(ctx, func(ctx context.Context) {
			if err := w.Reconnect(ctx); err != nil {
				r.logger.Warn("realtime reconnect failed", zap.String("principal_id", p.ID), zap.Error(err))
			}
		})
	}

	var once sync.Once
	return w, func() { once.Do(func() { r.release(w) }) }
}

func (r *Registry) get(ctx context.Context, p *domain.Principal, ref bool) (*Workspace, bool) {
	r.mu.Lock()
	w, ok := r.spaces[p.ID]
	if !ok {
		sink := &browserSink{
			principalID: p.ID,
			browser:     r.deps.Browser,
			pusher:      r.deps.Pusher,
			logger:      r.logger,
		}
		w = newWorkspace(p, r.deps.Dialer, r.deps.Realtime, r.deps.API(p.AccessToken), sink, r.logger)
		r.spaces[p.ID] = w
	}
	if ref {
		w.mu.Lock()
		w.refs++
		w.mu.Unlock()
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Info("workspace started", zap.String("principal_id", p.ID))
		r.await(ctx, func(ctx context.Context) { _ = w.Start(ctx) })
	}
	return w, !ok
}

// await runs fn detached from the caller and waits for it at most
// StartWait, or until ctx ends.
func (r *Registry) await(ctx context.Context, fn func(ctx context.Context)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(context.Background())
	}()

	timer := time.NewTimer(r.deps.StartWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Lookup returns the principal's workspace if one is running.
func (r *Registry) Lookup(principalID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.spaces[principalID]
	return w, ok
}

func (r *Registry) release(w *Workspace) {
	r.mu.Lock()
	w.mu.Lock()
	w.refs--
	last := w.refs <= 0
	w.mu.Unlock()
	if last && r.spaces[w.principal.ID] == w {
		delete(r.spaces, w.principal.ID)
	}
	r.mu.Unlock()

	if last {
		w.Close()
	}
}

// Shutdown closes the principal's workspace regardless of references.
func (r *Registry) Shutdown(principalID string) {
	r.mu.Lock()
	w, ok := r.spaces[principalID]
	delete(r.spaces, principalID)
	r.mu.Unlock()

	if ok {
		w.Close()
	}
}

// Close shuts every workspace down.
func (r *Registry) Close() {
	r.mu.Lock()
	spaces := r.spaces
	r.spaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, w := range spaces {
		w.Close()
	}
}

// Len returns the number of running workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}
