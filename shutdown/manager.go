package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sdstudio/core"
	"sdstudio/logging"
)

// Manager ties a cancellable context, a Tracker and a Registry together.
//
//	m := shutdown.NewManager(ctx, log)
//	m.Register("http", 10, srv.Shutdown)
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
//
// The first SIGINT or SIGTERM cancels Context. A second one calls the force
// hook, which exits the process by default.
type Manager struct {
	log      *logging.Logger
	timeout  time.Duration
	tracker  *Tracker
	registry *Registry
	force    func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	sigs    chan os.Signal
	started bool
	done    bool
}

type Option func(*Manager)

// WithTimeout bounds the whole shutdown sequence. The default is 60s.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithForce replaces the second-signal hook.
func WithForce(fn func()) Option {
	return func(m *Manager) { m.force = fn }
}

func NewManager(parent context.Context, log *logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		log:      log.Named("shutdown"),
		timeout:  60 * time.Second,
		tracker:  NewTracker(),
		registry: NewRegistry(),
		force:    func() { os.Exit(core.ExitCodeSIGINT) },
		ctx:      ctx,
		cancel:   cancel,
		sigs:     make(chan os.Signal, 2),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context { return m.ctx }

// Tracker gates new generations during shutdown.
func (m *Manager) Tracker() *Tracker { return m.tracker }

func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	signal.Notify(m.sigs, os.Interrupt, syscall.SIGTERM)
	go m.watch()
}

func (m *Manager) watch() {
	count := 0
	for sig := range m.sigs {
		count++
		if count == 1 {
			m.log.Info("signal received, shutting down", zap.String("signal", sig.String()))
			m.cancel()
			continue
		}
		m.log.Warn("second signal received, forcing exit")
		m.force()
		return
	}
}

// Trigger starts shutdown without a signal.
func (m *Manager) Trigger() { m.cancel() }

// Shutdown refuses new work, waits for in-flight generations and then runs
// the cleanup handlers with whatever time is left. Later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	if m.started {
		signal.Stop(m.sigs)
		close(m.sigs)
	}
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	m.tracker.Close()
	if n := m.tracker.Active(); n > 0 {
		m.log.Info("waiting for running generations", zap.Int("active", n))
	}
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.log.Warn("generations still running at shutdown", zap.Int("active", m.tracker.Active()))
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.log.Error("cleanup failed", zap.Error(err))
	}
	m.log.Info("shutdown complete", zap.Duration("took", time.Since(start)), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}
