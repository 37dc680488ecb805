package db

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultChannelCapacity is the number of writes that may be queued.
	DefaultChannelCapacity = 100
	// DefaultDrainTimeout bounds how long Stop waits for queued writes.
	DefaultDrainTimeout = 30 * time.Second
)

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      interface{}
	Timestamp time.Time
}

// WriteHandler performs a write. Returned errors go to the ErrorHandler.
type WriteHandler func(op WriteOperation) error

// ErrorHandler observes failed writes.
type ErrorHandler func(op WriteOperation, err error)

// AsyncWriter runs writes on a background goroutine fed by a buffered
// channel. Write never blocks; a full queue is reported to the caller, which
// may fall back to a synchronous write.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	onError   ErrorHandler
	drain     time.Duration

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool
}

// AsyncWriterConfig configures an AsyncWriter.
type AsyncWriterConfig struct {
	ChannelCapacity int
	DrainTimeout    time.Duration
	OnError         ErrorHandler
}

func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// NewAsyncWriter creates a writer with the default configuration.
func NewAsyncWriter(handler WriteHandler) *AsyncWriter {
	return NewAsyncWriterWithConfig(handler, DefaultAsyncWriterConfig())
}

func NewAsyncWriterWithConfig(handler WriteHandler, cfg AsyncWriterConfig) *AsyncWriter {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, cfg.ChannelCapacity),
		handler:   handler,
		onError:   cfg.OnError,
		drain:     cfg.DrainTimeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Calling it twice is a no-op.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.loop()
}

func (w *AsyncWriter) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drainQueue()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

func (w *AsyncWriter) drainQueue() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	if err := w.handler(op); err != nil && w.onError != nil {
		w.onError(op, err)
	}
}

// Write queues data and reports whether it was accepted. It returns false
// when the queue is full or the writer has stopped.
func (w *AsyncWriter) Write(data interface{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Pending is the number of queued writes.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Stop drains queued writes and stops the goroutine. It reports false if the
// drain timeout elapsed first.
func (w *AsyncWriter) Stop() bool {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(w.drain):
		return false
	}
}
