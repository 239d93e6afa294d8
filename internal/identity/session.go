package identity

import (
	"context"
	"sync"
)

// Presence is one transition of the identity capability. A nil Identity
// means "absent" (signed out).
type Presence struct {
	Identity *Identity
}

// Present reports whether the transition carries an identity.
func (p Presence) Present() bool { return p.Identity != nil }

// Source emits presence transitions, starting with the current state.
type Source interface {
	Watch(ctx context.Context) <-chan Presence
}

// Session is an in-process identity capability. SignIn and SignOut fan
// transitions out to every watcher in call order.
type Session struct {
	mu       sync.Mutex
	current  *Identity
	watchers map[*watcher]struct{}

	// sendMu keeps fan-out of consecutive transitions in order.
	sendMu sync.Mutex
}

type watcher struct {
	ctx context.Context
	ch  chan Presence
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{watchers: make(map[*watcher]struct{})}
}

// Current returns the signed-in identity, if any.
func (s *Session) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Identity{}, false
	}
	return *s.current, true
}

// SignIn makes id the present identity.
func (s *Session) SignIn(id Identity) {
	s.transition(&id)
}

// SignOut drops the identity. Signing out twice sends nothing the second
// time.
func (s *Session) SignOut() {
	s.transition(nil)
}

func (s *Session) transition(id *Identity) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if id == nil && s.current == nil {
		s.mu.Unlock()
		return
	}
	s.current = id
	targets := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, w := range targets {
		send(w, Presence{Identity: copyIdentity(id)})
	}
}

// Watch returns a channel that first receives the current state and then
// every transition. It is closed once ctx is done.
func (s *Session) Watch(ctx context.Context) <-chan Presence {
	w := &watcher{ctx: ctx, ch: make(chan Presence, 4)}

	s.sendMu.Lock()
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	current := copyIdentity(s.current)
	s.mu.Unlock()
	send(w, Presence{Identity: current})
	s.sendMu.Unlock()

	go func() {
		<-ctx.Done()
		s.sendMu.Lock()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
		close(w.ch)
		s.sendMu.Unlock()
	}()
	return w.ch
}

func send(w *watcher, p Presence) {
	select {
	case w.ch <- p:
	case <-w.ctx.Done():
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
