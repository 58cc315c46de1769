// Package session arbitrates the shared projection session: at most
// one pipeline may hold it at a time. The manager is constructed
// explicitly and passed by reference to whoever needs it; there is no
// package-level instance.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrBusy is returned by TryEnter when a session is already active
var ErrBusy = errors.New("projection session already active")

// Manager grants exclusive access to the projection session
type Manager struct {
	mu     sync.Mutex
	active bool
	holder string
	queue  chan struct{} // capacity 1, token present when free
}

// NewManager creates a manager with the session free
func NewManager() *Manager {
	m := &Manager{queue: make(chan struct{}, 1)}
	m.queue <- struct{}{}
	return m
}

// TryEnter claims the session without waiting. holder is a label for
// diagnostics only.
func (m *Manager) TryEnter(holder string) error {
	select {
	case <-m.queue:
	default:
		return ErrBusy
	}
	m.mark(true, holder)
	return nil
}

// Enter claims the session, waiting until it is free or ctx is done
func (m *Manager) Enter(ctx context.Context, holder string) error {
	select {
	case <-m.queue:
		m.mark(true, holder)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave releases the session. Leaving a session that is not held is a
// caller bug and panics.
func (m *Manager) Leave() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		panic("session: Leave without a held session")
	}
	m.active = false
	m.holder = ""
	m.mu.Unlock()

	m.queue <- struct{}{}
	slog.Debug("projection session released")
}

// Active reports whether a session is currently held and by whom
func (m *Manager) Active() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.holder
}

func (m *Manager) mark(active bool, holder string) {
	m.mu.Lock()
	m.active = active
	m.holder = holder
	m.mu.Unlock()
	slog.Debug("projection session acquired", "holder", holder)
}
