// global.go provides the process-wide client and package-level shortcuts
// for the embedding application and framework integrations.

package bugwatch

import (
	"context"
	"sync"
)

var global = struct {
	mu     sync.RWMutex
	client *Client
}{}

// Init creates the process client, installs the panic hooks and returns it.
// A previously initialized client is closed first, which also uninstalls its
// hooks. A missing API key is the one loud failure of the agent.
func Init(opts ...Option) (*Client, error) {
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}

	global.mu.Lock()
	prev := global.client
	global.client = c
	global.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	hooks := NewHookManager(c)
	hooks.Install()
	c.setHooks(hooks)
	return c, nil
}

// CurrentClient returns the client created by Init, or nil.
func CurrentClient() *Client {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.client
}

// CaptureException reports err through the process client.
func CaptureException(ctx context.Context, err error, opts ...CaptureOption) string {
	if c := CurrentClient(); c != nil {
		return c.CaptureException(ctx, err, opts...)
	}
	return ""
}

// CaptureMessage reports text through the process client.
func CaptureMessage(ctx context.Context, text string, opts ...CaptureOption) string {
	if c := CurrentClient(); c != nil {
		return c.CaptureMessage(ctx, text, opts...)
	}
	return ""
}

// AddBreadcrumb records a breadcrumb on the process client.
func AddBreadcrumb(category, message string, level Level, data map[string]any) {
	if c := CurrentClient(); c != nil {
		c.AddBreadcrumb(category, message, level, data)
	}
}

// ClearBreadcrumbs empties the process client's trail.
func ClearBreadcrumbs() {
	if c := CurrentClient(); c != nil {
		c.ClearBreadcrumbs()
	}
}

// SetUser sets the user on the process client.
func SetUser(user *UserContext) {
	if c := CurrentClient(); c != nil {
		c.SetUser(user)
	}
}

// SetRequest sets the request on the process client.
func SetRequest(req *RequestContext) {
	if c := CurrentClient(); c != nil {
		c.SetRequest(req)
	}
}

// SetTag sets a tag on the process client.
func SetTag(key, value string) {
	if c := CurrentClient(); c != nil {
		c.SetTag(key, value)
	}
}

// SetExtra sets an extra value on the process client.
func SetExtra(key string, value any) {
	if c := CurrentClient(); c != nil {
		c.SetExtra(key, value)
	}
}

// Flush flushes the process client.
func Flush(ctx context.Context) error {
	if c := CurrentClient(); c != nil {
		return c.Flush(ctx)
	}
	return nil
}

// Close closes and discards the process client.
func Close() error {
	global.mu.Lock()
	c := global.client
	global.client = nil
	global.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// Recover captures a panic through the process client without re-panicking
// and returns the recovered value. Defer it directly:
//
//	defer bugwatch.Recover(ctx)
func Recover(ctx context.Context) any {
	r := recover()
	if r == nil {
		return nil
	}
	if c := CurrentClient(); c != nil {
		c.reportRecovered(ctx, r, callers(2))
	}
	return r
}
