// Package workers contains code to manage workers.
package workers

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ooni/vpndatapath/internal/model"
)

// ErrShutdown is the error returned by a worker that is shutting down.
var ErrShutdown = errors.New("worker is shutting down")

// Manager coordinates the lifecycles of the goroutines serving a link or a
// tunnel. The zero value is invalid; use [NewManager].
type Manager struct {
	// logger logs worker transitions.
	logger model.Logger

	// name prefixes every log line.
	name string

	// running counts the live workers.
	running atomic.Int64

	// shouldShutdown is closed to signal all workers to shut down.
	shouldShutdown chan struct{}

	// shutdownOnce ensures we close shouldShutdown once.
	shutdownOnce sync.Once

	// wg tracks the running workers.
	wg sync.WaitGroup
}

// NewManager creates a new manager whose log lines start with name.
func NewManager(logger model.Logger, name string) *Manager {
	return &Manager{
		logger:         logger,
		name:           name,
		shouldShutdown: make(chan struct{}),
	}
}

// StartWorker runs fx in a background goroutine. The worker counts as
// running until fx returns.
func (m *Manager) StartWorker(worker string, fx func()) {
	m.wg.Add(1)
	m.running.Add(1)
	go func() {
		defer func() {
			m.running.Add(-1)
			m.logger.Debugf("%s: %s: done", m.name, worker)
			m.wg.Done()
		}()
		m.logger.Debugf("%s: %s: started", m.name, worker)
		fx()
	}()
}

// Running returns the number of workers that have not returned yet.
func (m *Manager) Running() int {
	return int(m.running.Load())
}

// StartShutdown initiates the shutdown of all workers.
func (m *Manager) StartShutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shouldShutdown)
	})
}

// ShouldShutdown returns the channel closed when workers should shut down.
func (m *Manager) ShouldShutdown() <-chan struct{} {
	return m.shouldShutdown
}

// IsShuttingDown returns whether [Manager.StartShutdown] was called.
func (m *Manager) IsShuttingDown() bool {
	select {
	case <-m.shouldShutdown:
		return true
	default:
		return false
	}
}

// WaitWorkersShutdown blocks until all workers have shut down.
func (m *Manager) WaitWorkersShutdown() {
	m.wg.Wait()
}
