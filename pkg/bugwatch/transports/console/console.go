// Package console provides a transport that prints events in human-readable
// form. Useful for development and debugging.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
)

// maxVerboseFrames is the number of innermost frames printed in verbose mode.
const maxVerboseFrames = 8

// Option configures the console transport.
type Option func(*config)

type config struct {
	w       io.Writer
	verbose bool
}

// WithWriter sets the destination (default: os.Stdout).
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.w = w
	}
}

// WithVerbose enables stack frames and breadcrumbs in the output.
func WithVerbose() Option {
	return func(c *config) {
		c.verbose = true
	}
}

// Transport writes events to a writer.
type Transport struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

var _ bugwatch.Transport = (*Transport)(nil)

// New creates a transport that prints to stdout.
func New(opts ...Option) *Transport {
	cfg := &config{w: os.Stdout}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Transport{
		w:       cfg.w,
		verbose: cfg.verbose,
	}
}

// Send formats and prints the event. It always succeeds; write errors are
// ignored.
// Format: [Bugwatch] <timestamp> <LEVEL> event <event_id>
func (t *Transport) Send(ctx context.Context, event *bugwatch.Event) error {
	var b strings.Builder

	level := strings.ToUpper(string(event.Level))
	timestamp := event.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	fmt.Fprintf(&b, "[Bugwatch] %s %s event %s\n", timestamp, level, event.EventID)

	if event.Exception != nil {
		fmt.Fprintf(&b, "        Exception: %s: %s\n", event.Exception.Type, event.Exception.Value)
	}
	if event.Message != "" {
		fmt.Fprintf(&b, "        Message: %s\n", event.Message)
	}
	if event.Fingerprint != "" {
		fmt.Fprintf(&b, "        Fingerprint: %s\n", event.Fingerprint)
	}
	if len(event.Tags) > 0 {
		fmt.Fprintf(&b, "        Tags: %s\n", formatTags(event.Tags))
	}

	if t.verbose {
		t.writeFrames(&b, event)
		for _, crumb := range event.Breadcrumbs {
			fmt.Fprintf(&b, "        Breadcrumb: [%s] %s: %s\n", crumb.Level, crumb.Category, crumb.Message)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, b.String())
	return nil
}

func (t *Transport) writeFrames(b *strings.Builder, event *bugwatch.Event) {
	if event.Exception == nil || len(event.Exception.Stacktrace) == 0 {
		return
	}
	frames := event.Exception.Stacktrace
	fmt.Fprintf(b, "        Stack trace (%d frames):\n", len(frames))
	if len(frames) > maxVerboseFrames {
		frames = frames[len(frames)-maxVerboseFrames:]
	}
	for _, f := range frames {
		app := ""
		if f.InApp {
			app = " [app]"
		}
		fmt.Fprintf(b, "          %s:%d in %s%s\n", f.Filename, f.Lineno, f.Function, app)
		if f.ContextLine != "" {
			fmt.Fprintf(b, "            > %s\n", strings.TrimSpace(f.ContextLine))
		}
	}
}

// formatTags renders tags as sorted key=value pairs.
func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, ", ")
}

// Flush is a no-op for the console transport.
func (t *Transport) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for the console transport.
func (t *Transport) Close() error {
	return nil
}
