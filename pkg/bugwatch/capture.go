// capture.go implements the capture pipeline: sampling, extraction,
// fingerprinting, event assembly, scrubbing, the before-send hook and delivery.

package bugwatch

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CaptureOption adjusts a single captured event.
type CaptureOption func(*captureConfig)

type captureConfig struct {
	level Level
	tags  map[string]string
	extra map[string]any
}

// WithLevel sets the event level. Unknown levels are ignored.
func WithLevel(level Level) CaptureOption {
	return func(c *captureConfig) {
		if level.Valid() {
			c.level = level
		}
	}
}

// WithTags adds tags to the event, overriding client and context tags.
func WithTags(tags map[string]string) CaptureOption {
	return func(c *captureConfig) {
		for k, v := range tags {
			c.setTag(k, v)
		}
	}
}

// WithTag adds a single tag to the event.
func WithTag(key, value string) CaptureOption {
	return func(c *captureConfig) {
		c.setTag(key, value)
	}
}

// WithExtra adds extra values to the event, overriding client extra.
func WithExtra(extra map[string]any) CaptureOption {
	return func(c *captureConfig) {
		for k, v := range extra {
			c.setExtra(k, v)
		}
	}
}

// WithExtraValue adds a single extra value to the event.
func WithExtraValue(key string, value any) CaptureOption {
	return func(c *captureConfig) {
		c.setExtra(key, value)
	}
}

func (c *captureConfig) setTag(k, v string) {
	if c.tags == nil {
		c.tags = make(map[string]string)
	}
	c.tags[k] = v
}

func (c *captureConfig) setExtra(k string, v any) {
	if c.extra == nil {
		c.extra = make(map[string]any)
	}
	c.extra[k] = v
}

func newCaptureConfig(level Level, opts []CaptureOption) *captureConfig {
	cc := &captureConfig{level: level}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// CaptureException reports err at error level unless overridden with
// WithLevel. It returns the event ID, or "" when err is nil or the event was
// sampled out, dropped by the before-send hook, or could not be built.
// A failed delivery still returns the ID; the transport logs the failure.
//
// Wrap errors with WithStack or WithLocals where they originate to report
// that stack instead of the stack of the CaptureException call.
func (c *Client) CaptureException(ctx context.Context, err error, opts ...CaptureOption) (id string) {
	defer c.recoverInternal("capture_exception", &id)

	if err == nil || !c.accept() {
		return ""
	}

	cc := newCaptureConfig(LevelError, opts)
	fault := ExtractFault(err, c.extract)
	return c.captureFault(ctx, fault, cc, "exception")
}

// CaptureMessage reports text at info level unless overridden with
// WithLevel. It returns the event ID, or "" when text is empty or the event
// was dropped.
func (c *Client) CaptureMessage(ctx context.Context, text string, opts ...CaptureOption) (id string) {
	defer c.recoverInternal("capture_message", &id)

	if text == "" || !c.accept() {
		return ""
	}

	cc := newCaptureConfig(LevelInfo, opts)
	event := c.buildEvent(ctx, cc)
	event.Message = text
	return c.dispatch(ctx, event, "message")
}

// capturePanic reports a recovered panic value. pcs is the stack seen from
// the recovering function.
func (c *Client) capturePanic(ctx context.Context, value any, pcs []uintptr, cc *captureConfig) (id string) {
	defer c.recoverInternal("capture_panic", &id)

	if !c.accept() {
		return ""
	}

	fault := extractPanic(value, pcs, c.extract)
	if len(fault.Stacktrace) > 0 {
		innermost := fault.Stacktrace[len(fault.Stacktrace)-1]
		cc.setTag("panic.location", fmt.Sprintf("%s:%d", innermost.Filename, innermost.Lineno))
	}
	return c.captureFault(ctx, fault, cc, "panic")
}

func (c *Client) captureFault(ctx context.Context, fault *FaultInfo, cc *captureConfig, kind string) string {
	event := c.buildEvent(ctx, cc)
	event.Exception = fault
	event.Fingerprint = fingerprintFault(fault)
	event.Message = fault.Type + ": " + fault.Value
	return c.dispatch(ctx, event, kind)
}

// accept applies the closed check and sampling before any extraction work.
func (c *Client) accept() bool {
	if c.closed.Load() {
		RecordDropped(DropClosed, 1)
		return false
	}
	if !c.sampled() {
		RecordDropped(DropSampled, 1)
		return false
	}
	return true
}

// sampled draws against the sample rate: a rate of 1 always passes, 0 never.
func (c *Client) sampled() bool {
	rate := c.cfg.sampleRate
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return c.cfg.random() <= rate
}

// buildEvent assembles an event from the client scope, ctx and cc.
// Tags layer as client, then context, then per call; extra layers the same.
func (c *Client) buildEvent(ctx context.Context, cc *captureConfig) *Event {
	c.mu.RLock()
	tags := maps.Clone(c.tags)
	extra := maps.Clone(c.extra)
	user := c.user
	request := c.request
	c.mu.RUnlock()

	maps.Copy(tags, contextTags(ctx))
	maps.Copy(tags, cc.tags)

	if c.cfg.systemState {
		extra["system"] = CaptureSystemState(c.startTime).asExtra()
	}
	maps.Copy(extra, cc.extra)

	event := &Event{
		EventID:     newEventID(),
		Timestamp:   time.Now().UTC(),
		Level:       cc.level,
		Platform:    "go",
		SDK:         &SDKInfo{Name: SDKName, Version: Version},
		Runtime:     &RuntimeInfo{Name: "go", Version: tags["runtime.version"]},
		Request:     request,
		User:        user,
		Tags:        tags,
		Extra:       extra,
		Breadcrumbs: c.trail.Snapshot(),
		Environment: c.cfg.environment,
		Release:     c.cfg.release,
		ServerName:  c.cfg.serverName,
	}
	if len(event.Extra) == 0 {
		event.Extra = nil
	}

	// The scope's user and request are shared; detach them from the event.
	return event.Clone()
}

// dispatch scrubs the event, runs the before-send hook and sends it.
func (c *Client) dispatch(ctx context.Context, event *Event, kind string) string {
	if c.scrubber != nil {
		c.scrubber.Scrub(event)
	}

	if c.cfg.beforeSend != nil {
		event = c.runBeforeSend(event)
		if event == nil {
			RecordDropped(DropBeforeSend, 1)
			c.logger.Debug("bugwatch: event dropped by before-send hook", "kind", kind)
			return ""
		}
	}

	annotateSpan(ctx, event)
	eventsCaptured.WithLabelValues(kind).Inc()

	if err := c.transport.Send(ctx, event); err != nil {
		c.logger.Debug("bugwatch: transport rejected event", "event_id", event.EventID, "error", err)
	}
	return event.EventID
}

// runBeforeSend calls the hook, treating a panic in it as a drop.
func (c *Client) runBeforeSend(event *Event) (out *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("bugwatch: before-send hook panicked, dropping event", "panic", fmt.Sprint(r))
			out = nil
		}
	}()
	return c.cfg.beforeSend(event)
}

// newEventID returns a random 32 character hex identifier.
func newEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
