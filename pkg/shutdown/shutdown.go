// Package shutdown coordinates cooperative stop. A signal cancels the run
// context; the scheduler finishes the in-flight sub-step, persists the
// record's outcome, and only then do registered cleanup functions run.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"batchmint/pkg/logging"
)

// Manager handles graceful shutdown
type Manager struct {
	mu      sync.Mutex
	funcs   []func(context.Context) error
	timeout time.Duration
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a shutdown manager whose Context is cancelled on SIGINT or
// SIGTERM. timeout bounds the cleanup phase, not the run itself.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if log == nil {
		log = logging.New(logging.INFO, false)
	}
	return &Manager{
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context returns the run context, cancelled when a stop signal arrives
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function. Functions run in reverse order (LIFO).
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, fn)
}

// Interrupted reports whether a stop signal was received
func (m *Manager) Interrupted() bool {
	select {
	case <-m.ctx.Done():
		return true
	default:
		return false
	}
}

// Shutdown runs all registered cleanup functions LIFO, bounded by timeout
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.funcs) - 1; i >= 0; i-- {
		if err := m.funcs[i](ctx); err != nil {
			m.log.Error("Cleanup function failed", map[string]interface{}{
				"index": i, "error": err.Error(),
			})
		}
	}
}

// CloseResource wraps an io.Closer as a cleanup function
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		return nil
	}
}

// WatchSignals is a helper for callers that want a log line when the first
// signal arrives. Safe to call once; returns immediately.
func (m *Manager) WatchSignals() {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigChan:
			m.log.Warn("Received signal, finishing in-flight record before stopping", map[string]interface{}{
				"signal": sig.String(),
			})
		case <-m.ctx.Done():
		}
	}()
}
