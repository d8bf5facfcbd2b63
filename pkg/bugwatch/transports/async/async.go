// Package async provides a transport wrapper with a bounded queue and its own
// delivery workers. Send only enqueues; oldest events are dropped when full.
package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
)

// Option configures the async transport.
type Option func(*config)

type config struct {
	queueSize    int
	workers      int
	pollInterval time.Duration
	onDropped    func(count int)
	logger       *clog.Logger
	httpOptions  []bugwatch.HTTPOption
}

// WithQueueSize sets the maximum number of queued events (default: 1000).
func WithQueueSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithWorkers sets the number of delivery goroutines (default: 1).
// With more than one worker, events may be delivered out of order.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithFlushInterval sets how often Flush checks for outstanding events
// (default: 10ms).
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithOnDropped sets a callback invoked when events are dropped due to queue overflow.
func WithOnDropped(fn func(count int)) Option {
	return func(c *config) {
		c.onDropped = fn
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *clog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithHTTPOptions configures the HTTP transport created by NewHTTP.
func WithHTTPOptions(opts ...bugwatch.HTTPOption) Option {
	return func(c *config) {
		c.httpOptions = append(c.httpOptions, opts...)
	}
}

// job is a queued delivery. ctx keeps the values of the capture context
// without its cancellation.
type job struct {
	ctx   context.Context
	event *bugwatch.Event
}

// Transport hands events to an inner transport from background workers.
type Transport struct {
	inner     bugwatch.Transport
	queue     chan job
	workers   errgroup.Group
	onDropped func(count int)
	logger    *clog.Logger
	poll      time.Duration

	// pending counts events queued or being delivered.
	pending atomic.Int64

	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	closeErr  error
}

var _ bugwatch.Transport = (*Transport)(nil)

// New wraps inner with a bounded queue. Send returns immediately once the
// event is queued; the outcome of the delivery is logged, not returned.
func New(inner bugwatch.Transport, opts ...Option) *Transport {
	cfg := newConfig(opts)

	t := &Transport{
		inner:     inner,
		queue:     make(chan job, cfg.queueSize),
		onDropped: cfg.onDropped,
		logger:    cfg.logger,
		poll:      cfg.pollInterval,
	}
	for range cfg.workers {
		t.workers.Go(t.processLoop)
	}
	return t
}

// NewHTTP returns an asynchronous transport delivering to the collector at
// endpoint. It is the asynchronous counterpart of bugwatch.NewHTTPTransport.
func NewHTTP(endpoint, apiKey string, opts ...Option) *Transport {
	cfg := newConfig(opts)
	httpOpts := cfg.httpOptions
	if cfg.logger != nil {
		httpOpts = append([]bugwatch.HTTPOption{bugwatch.WithHTTPLogger(cfg.logger)}, httpOpts...)
	}
	return New(bugwatch.NewHTTPTransport(endpoint, apiKey, httpOpts...), opts...)
}

func newConfig(opts []Option) *config {
	cfg := &config{
		queueSize:    1000,
		workers:      1,
		pollInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// processLoop delivers queued events until the queue is closed and drained.
func (t *Transport) processLoop() error {
	for j := range t.queue {
		t.deliver(j)
	}
	return nil
}

func (t *Transport) deliver(j job) {
	defer t.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			t.log(j.ctx).Error("bugwatch: async delivery panicked", "event_id", j.event.EventID, "panic", r)
		}
	}()

	if err := t.inner.Send(j.ctx, j.event); err != nil {
		t.log(j.ctx).Debug("bugwatch: async delivery failed", "event_id", j.event.EventID, "error", err)
	}
}

// Send enqueues an event and returns immediately. A nil error means the
// event was accepted for delivery, not that it was delivered. If the queue
// is full, the oldest queued event is dropped.
func (t *Transport) Send(ctx context.Context, event *bugwatch.Event) error {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		return bugwatch.ErrTransportClosed
	}

	j := job{ctx: context.WithoutCancel(ctx), event: event}
	t.pending.Add(1)
	select {
	case t.queue <- j:
		return nil
	default:
		t.dropOldestAndEnqueue(j)
		return nil
	}
}

// dropOldestAndEnqueue drops the oldest event and enqueues the new one.
func (t *Transport) dropOldestAndEnqueue(j job) {
	select {
	case <-t.queue:
		t.dropped()
	default:
		// Queue was emptied by a worker, try again
	}

	select {
	case t.queue <- j:
	default:
		// Still full, drop the new event
		t.dropped()
	}
}

func (t *Transport) dropped() {
	t.pending.Add(-1)
	bugwatch.RecordDropped(bugwatch.DropQueueFull, 1)
	if t.onDropped != nil {
		t.onDropped(1)
	}
}

// Flush blocks until every queued and in-flight event has been handed to
// the inner transport, then flushes it.
func (t *Transport) Flush(ctx context.Context) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for t.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return t.inner.Flush(ctx)
}

// Close stops accepting events, waits for the workers to drain the queue and
// closes the inner transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeMu.Lock()
		t.closed = true
		close(t.queue)
		t.closeMu.Unlock()

		_ = t.workers.Wait()
		t.closeErr = t.inner.Close()
	})
	return t.closeErr
}

// Pending returns the number of events queued or being delivered.
func (t *Transport) Pending() int {
	return int(t.pending.Load())
}

func (t *Transport) log(ctx context.Context) *clog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return clog.FromContext(ctx)
}
