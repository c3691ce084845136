// Package shutdown handles interruption of a benchmark run: it turns
// SIGINT and SIGTERM into context cancellation and runs registered cleanup
// exactly once.
package shutdown

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Manager coordinates signal handling and resource cleanup for one run.
type Manager struct {
	signals []os.Signal
	onForce func()

	sigCh        chan os.Signal
	shutdownOnce sync.Once
	shutdownErr  error

	received atomic.Value // os.Signal

	// Closers to clean up on shutdown
	closers   []io.Closer
	closersMu sync.Mutex
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Signals that interrupt the run.
	// Default: SIGINT, SIGTERM
	Signals []os.Signal

	// OnForce is called after a second signal has run the closers. The CLI
	// exits from it.
	OnForce func()
}

// NewManager creates a new shutdown manager with the given configuration.
func NewManager(config Config) *Manager {
	if len(config.Signals) == 0 {
		config.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	return &Manager{
		signals: config.Signals,
		onForce: config.OnForce,
		sigCh:   make(chan os.Signal, 2),
	}
}

// RegisterCloser adds a closer to be called during shutdown.
// Closers are called in reverse order of registration (LIFO).
func (m *Manager) RegisterCloser(closer io.Closer) {
	m.closersMu.Lock()
	defer m.closersMu.Unlock()
	m.closers = append(m.closers, closer)
}

// Listen starts listening for the configured signals. The first signal
// cancels the returned context so the run stops at its next safe point; a
// second signal runs the closers immediately and calls OnForce. The cancel
// function stops listening.
func (m *Manager) Listen(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signal.Notify(m.sigCh, m.signals...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-m.sigCh:
			m.received.Store(sig)
			log.Printf("shutdown: received signal %v, stopping benchmark", sig)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-m.sigCh:
			log.Printf("shutdown: received second signal %v, cleaning up now", sig)
			if err := m.Shutdown(fmt.Sprintf("received signal: %v", sig)); err != nil {
				log.Printf("shutdown: %v", err)
			}
			if m.onForce != nil {
				m.onForce()
			}
		case <-done:
		}
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			signal.Stop(m.sigCh)
			close(done)
			cancel()
		})
	}
	return ctx, stop
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	sig, _ := m.received.Load().(os.Signal)
	return sig
}

// Shutdown closes all registered resources in reverse order. Only the first
// call does any work; later calls return its result.
func (m *Manager) Shutdown(reason string) error {
	m.shutdownOnce.Do(func() {
		m.closersMu.Lock()
		closers := m.closers
		m.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && m.shutdownErr == nil {
				m.shutdownErr = fmt.Errorf("close failed during shutdown (%s): %w", reason, err)
			}
		}
	})

	return m.shutdownErr
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
