package session

import (
	"context"
	"sync"
)

// Registry keeps at most one open session per order.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, sessions: make(map[int64]*Session)}
}

// Open closes any session already tracking orderID before opening a new one.
func (r *Registry) Open(ctx context.Context, orderID int64, opts ...Option) (*Session, error) {
	r.mu.Lock()
	prev := r.sessions[orderID]
	delete(r.sessions, orderID)
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	s, err := Open(ctx, r.deps, orderID, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if other := r.sessions[orderID]; other != nil {
		other.Close()
	}
	r.sessions[orderID] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) Get(orderID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[orderID]
	return s, ok
}

func (r *Registry) Close(orderID int64) {
	r.mu.Lock()
	s := r.sessions[orderID]
	delete(r.sessions, orderID)
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[int64]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
