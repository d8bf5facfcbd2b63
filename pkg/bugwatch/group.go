// group.go provides Group, an errgroup whose tasks have their panics
// intercepted and whose otherwise discarded errors are reported.

package bugwatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group runs related tasks. It behaves like errgroup.Group: the first error
// cancels the group context and is returned by Wait. Errors after the first
// would be lost, so they are captured at error level instead. A panicking
// task is handed to the KindTask panic handler; if that handler returns, the
// task fails with a *PanicError.
type Group struct {
	eg     *errgroup.Group
	client *Client

	mu    sync.Mutex
	first error
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithGroupClient reports task errors through c instead of the client
// installed by Init.
func WithGroupClient(c *Client) GroupOption {
	return func(g *Group) {
		g.client = c
	}
}

// WithGroupLimit bounds the number of tasks running at once.
func WithGroupLimit(n int) GroupOption {
	return func(g *Group) {
		g.eg.SetLimit(n)
	}
}

// NewGroup returns a Group and a context canceled when a task fails or
// Wait returns.
func NewGroup(ctx context.Context, opts ...GroupOption) (*Group, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	g := &Group{eg: eg}
	for _, opt := range opts {
		opt(g)
	}
	return g, gctx
}

// Go runs fn in a new goroutine. description names the task in reports.
func (g *Group) Go(description string, fn func() error) {
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				dispatchPanic(context.Background(), PanicInfo{Kind: KindTask, Value: r, Stack: callers(2), Task: description})
				err = &PanicError{Value: r, Task: description}
			}
			g.record(description, err)
		}()
		return fn()
	})
}

// Wait blocks until every task has returned and returns the first error.
func (g *Group) Wait() error {
	_ = g.eg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.first
}

// record keeps the first error and reports the rest.
func (g *Group) record(description string, err error) {
	if err == nil {
		return
	}

	g.mu.Lock()
	if g.first == nil {
		g.first = err
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if _, ok := err.(*PanicError); ok {
		// Already reported by the panic handler.
		return
	}
	c := g.client
	if c == nil {
		c = CurrentClient()
	}
	if c == nil {
		return
	}
	c.CaptureException(context.Background(), err, WithTag("task.description", description))
}
