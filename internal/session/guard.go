package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/transport"
)

// Guard watches every transport outcome for authentication failure. The first
// 401 of a session clears the stored credential and raises SessionExpired
// once; concurrent 401s while the signal is pending do not re-fire it, and a
// 401 for a request sent before the last Renew is ignored.
type Guard struct {
	store  CredentialStore
	logger *log.Logger

	mu        sync.Mutex
	session   uint64
	fired     bool
	expired   chan struct{}
	listeners []func()
}

type GuardOption func(*Guard)

func WithGuardLogger(l *log.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGuard(store CredentialStore, opts ...GuardOption) *Guard {
	if store == nil {
		panic("session: nil credential store")
	}
	g := &Guard{
		store:   store,
		logger:  log.Default(),
		expired: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Token is the accessor the transport reads the bearer credential through.
func (g *Guard) Token() (string, error) {
	return g.store.Token()
}

// Wrap returns a sender that routes 401s through the guard.
func (g *Guard) Wrap(next transport.Sender) transport.Sender {
	return &guardedSender{guard: g, next: next}
}

// Expired is closed when the current session expires.
func (g *Guard) Expired() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expired
}

// IsExpired reports whether the signal is raised and not yet handled by Renew.
func (g *Guard) IsExpired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// OnExpired registers fn to run once per expiry.
func (g *Guard) OnExpired(fn func()) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// Renew stores a fresh credential and re-arms the signal for the new session.
func (g *Guard) Renew(token string) error {
	if err := g.store.Store(token); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session++
	if g.fired {
		g.fired = false
		g.expired = make(chan struct{})
	}
	return nil
}

func (g *Guard) current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// expire raises the signal for the session a failed request was sent under.
func (g *Guard) expire(session uint64) {
	g.mu.Lock()
	if g.fired || session != g.session {
		g.mu.Unlock()
		return
	}
	g.fired = true
	if err := g.store.Clear(); err != nil {
		g.logger.Printf("Failed to clear credential: %v", err)
	}
	close(g.expired)
	listeners := append([]func(){}, g.listeners...)
	g.mu.Unlock()

	g.logger.Printf("Session expired, credential cleared")
	for _, fn := range listeners {
		fn()
	}
}

type guardedSender struct {
	guard *Guard
	next  transport.Sender
}

func (s *guardedSender) Send(ctx context.Context, method, path string, body, out interface{}) error {
	session := s.guard.current()
	err := s.next.Send(ctx, method, path, body, out)
	if f, ok := transport.AsFailure(err); ok && f.Unauthorized() {
		s.guard.expire(session)
		return fmt.Errorf("%w: %w", models.ErrSessionExpired, err)
	}
	return err
}
