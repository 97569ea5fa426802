package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/phasetime/internal/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager runs registered cleanup functions in reverse order of
// registration, once, under a shared timeout
type Manager struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
	err     error
}

// New creates a manager whose Shutdown gives all hooks timeout to finish
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a named shutdown function
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown runs every hook, LIFO, and returns their joined errors. Later
// calls return the first result without running anything.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.mu.Lock()
		hooks := m.hooks
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			m.logger.Debug("running shutdown hook", map[string]interface{}{"hook": h.name})
			if err := h.fn(ctx); err != nil {
				m.logger.Warn("shutdown hook failed", map[string]interface{}{
					"hook":  h.name,
					"error": err.Error(),
				})
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			}
		}
		m.err = errors.Join(errs...)
	})
	return m.err
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// StopServer adapts anything with a graceful Shutdown method
func StopServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return server.Shutdown
}

// CloseResource adapts an io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
