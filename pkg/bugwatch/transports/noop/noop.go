// Package noop provides a transport that discards all events.
// Useful for testing and for disabling delivery.
package noop

import (
	"context"
	"sync/atomic"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
)

// Transport discards events and counts them.
type Transport struct {
	sent atomic.Int64
}

var _ bugwatch.Transport = (*Transport)(nil)

// New creates a transport that discards all events.
func New() *Transport {
	return &Transport{}
}

// Send discards the event and always succeeds.
func (t *Transport) Send(ctx context.Context, event *bugwatch.Event) error {
	t.sent.Add(1)
	return nil
}

// Flush is a no-op and returns nil.
func (t *Transport) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op and returns nil.
func (t *Transport) Close() error {
	return nil
}

// Sent returns the number of events passed to Send.
func (t *Transport) Sent() int {
	return int(t.sent.Load())
}
