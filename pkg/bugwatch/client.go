// client.go provides the Client: it owns the breadcrumb trail and the scope
// applied to every event, and hands finished events to a Transport.

package bugwatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
)

// Configuration errors returned by NewClient and Init.
var (
	ErrMissingAPIKey     = errors.New("bugwatch: api key is required")
	ErrInvalidSampleRate = errors.New("bugwatch: sample rate must be between 0 and 1")
)

// closeGrace bounds the flush performed by Close.
const closeGrace = 2 * time.Second

// Client captures errors, panics and messages and sends them as events.
// A Client is safe for concurrent use; one per process is typical.
type Client struct {
	cfg       *clientConfig
	transport Transport
	logger    *clog.Logger
	scrubber  *Scrubber
	extract   ExtractConfig
	trail     *Trail
	startTime time.Time

	mu      sync.RWMutex
	user    *UserContext
	request *RequestContext
	tags    map[string]string
	extra   map[string]any
	hooks   *HookManager

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewClient creates a Client. Configuration is read from the BUGWATCH_*
// environment variables and then from opts, so explicit options win.
// It fails only when the configuration is invalid.
func NewClient(opts ...Option) (*Client, error) {
	cfg, err := loadConfig(context.Background(), opts)
	if err != nil {
		return nil, err
	}
	if cfg.apiKey == "" {
		return nil, fmt.Errorf("creating client: %w", ErrMissingAPIKey)
	}
	if cfg.sampleRate < 0 || cfg.sampleRate > 1 {
		return nil, fmt.Errorf("creating client: sample rate %v: %w", cfg.sampleRate, ErrInvalidSampleRate)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.endpoint, cfg.apiKey, WithHTTPLogger(cfg.logger))
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    cfg.logger.With("sdk", SDKName),
		scrubber:  cfg.scrubber,
		extract: ExtractConfig{
			InApp:          inAppWithPrefixes(cfg.inAppInclude, cfg.inAppExclude),
			CaptureLocals:  cfg.captureLocals,
			MaxValueLength: cfg.maxValueLength,
			SourceContext:  cfg.sourceContext,
			sources:        newSourceCache(),
		},
		trail:     NewTrail(cfg.maxBreadcrumbs),
		startTime: time.Now(),
		tags:      defaultTags(cfg.environment),
		extra:     make(map[string]any),
	}

	c.logger.Debug("bugwatch: client initialized", "endpoint", cfg.endpoint, "environment", cfg.environment)
	return c, nil
}

// defaultTags returns the tags every event starts with.
func defaultTags(environment string) map[string]string {
	tags := map[string]string{
		"runtime":         "go",
		"runtime.version": runtime.Version(),
		"os.platform":     runtime.GOOS,
		"os.name":         osName(runtime.GOOS),
	}
	if environment != "" {
		tags["environment"] = environment
	}
	return tags
}

// osName renders GOOS the way operating systems name themselves.
func osName(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	case "":
		return ""
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}

// AddBreadcrumb records a default-type breadcrumb. An empty level means info.
func (c *Client) AddBreadcrumb(category, message string, level Level, data map[string]any) {
	c.AddBreadcrumbOf(Breadcrumb{
		Category: category,
		Message:  message,
		Level:    level,
		Data:     data,
	})
}

// AddBreadcrumbOf records a breadcrumb with an explicit type such as
// "http", "navigation" or "query".
func (c *Client) AddBreadcrumbOf(b Breadcrumb) {
	defer c.recoverInternal("add_breadcrumb", nil)
	b.Data = cloneData(b.Data)
	c.trail.Add(b)
}

// ClearBreadcrumbs empties the breadcrumb trail.
func (c *Client) ClearBreadcrumbs() {
	c.trail.Clear()
}

// SetUser replaces the user attached to future events. Nil clears it.
func (c *Client) SetUser(user *UserContext) {
	var copied *UserContext
	if user != nil {
		u := *user
		u.Extra = cloneData(user.Extra)
		copied = &u
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = copied
}

// SetRequest replaces the request attached to future events. Nil clears it.
func (c *Client) SetRequest(req *RequestContext) {
	var copied *RequestContext
	if req != nil {
		copied = (&Event{Request: req}).Clone().Request
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.request = copied
}

// SetTag sets a tag on all future events.
func (c *Client) SetTag(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[key] = value
}

// SetExtra sets an extra value on all future events. Maps and slices of
// free-form data are copied; later changes by the caller are not seen.
func (c *Client) SetExtra(key string, value any) {
	value = cloneDataValue(value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra[key] = value
}

// Flush blocks until the transport has delivered buffered events or ctx is done.
func (c *Client) Flush(ctx context.Context) error {
	return c.transport.Flush(ctx)
}

// Close uninstalls hooks installed for the client, flushes pending events
// for up to two seconds and closes the transport. Events captured after
// Close are dropped.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		hooks := c.hooks
		c.hooks = nil
		c.mu.Unlock()
		if hooks != nil {
			hooks.Uninstall()
		}

		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		err = errors.Join(c.transport.Flush(ctx), c.transport.Close())
		c.trail.Clear()
	})
	return err
}

// Transport returns the transport events are sent through.
func (c *Client) Transport() Transport {
	return c.transport
}

// Logger returns the client's logger.
func (c *Client) Logger() *clog.Logger {
	return c.logger
}

func (c *Client) setHooks(h *HookManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = h
}

// recoverInternal stops a failure inside the agent from reaching the caller.
// When id is not nil it is cleared so the caller reports no event.
func (c *Client) recoverInternal(op string, id *string) {
	if r := recover(); r != nil {
		RecordDropped(DropInternal, 1)
		c.logger.Debug("bugwatch: internal failure", "op", op, "panic", fmt.Sprint(r))
		if id != nil {
			*id = ""
		}
	}
}
