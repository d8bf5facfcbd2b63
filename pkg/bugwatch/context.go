// context.go provides utilities for propagating run IDs, cxdb context IDs,
// tags and trace correlation through context.Context.

package bugwatch

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Context key types (unexported to avoid collisions)
type runIDKey struct{}
type contextIDKey struct{}
type tagsKey struct{}

// contextIDSet distinguishes a zero context ID from an unset one.
type contextIDSet struct {
	id uint64
}

// WithRunID returns a context with the run ID attached.
// Captured events carry it as the run_id tag.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext extracts the run ID from context.
// Returns empty string and false if not set or if the run ID is empty.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// WithContextID returns a context with the cxdb context ID attached.
// The cxdb transport appends events captured under ctx to that context.
func WithContextID(ctx context.Context, contextID uint64) context.Context {
	return context.WithValue(ctx, contextIDKey{}, contextIDSet{id: contextID})
}

// ContextIDFromContext extracts the cxdb context ID from context.
// Returns 0 and false if not set.
func ContextIDFromContext(ctx context.Context) (uint64, bool) {
	set, ok := ctx.Value(contextIDKey{}).(contextIDSet)
	if !ok {
		return 0, false
	}
	return set.id, true
}

// ContextIDProvider is an optional interface for sessions that know their
// cxdb context ID. The ai-agents-sdk CXDBSession implements it.
type ContextIDProvider interface {
	ContextID(ctx context.Context) (uint64, error)
}

// ContextWithTags returns a context carrying tags for every event captured
// under it. Tags already on ctx are kept unless overridden.
func ContextWithTags(ctx context.Context, tags map[string]string) context.Context {
	merged := maps.Clone(TagsFromContext(ctx))
	if merged == nil {
		merged = make(map[string]string, len(tags))
	}
	maps.Copy(merged, tags)
	return context.WithValue(ctx, tagsKey{}, merged)
}

// TagsFromContext returns the tags attached with ContextWithTags.
// The returned map must not be modified.
func TagsFromContext(ctx context.Context) map[string]string {
	tags, _ := ctx.Value(tagsKey{}).(map[string]string)
	return tags
}

// contextTags collects the tags contributed by ctx: explicit context tags,
// the run ID and the active trace and span IDs.
func contextTags(ctx context.Context) map[string]string {
	tags := maps.Clone(TagsFromContext(ctx))
	set := func(k, v string) {
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[k] = v
	}

	if runID, ok := RunIDFromContext(ctx); ok {
		set("run_id", runID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		set("trace_id", sc.TraceID().String())
		set("span_id", sc.SpanID().String())
	}
	return tags
}

// annotateSpan records a captured event on the span active in ctx, if any.
func annotateSpan(ctx context.Context, event *Event) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("bugwatch.event_id", event.EventID),
		attribute.String("bugwatch.level", string(event.Level)),
	}
	if event.Exception != nil {
		attrs = append(attrs,
			attribute.String("exception.type", event.Exception.Type),
			attribute.String("exception.message", event.Exception.Value),
			attribute.String("bugwatch.fingerprint", event.Fingerprint),
		)
	}
	span.AddEvent("bugwatch.capture", trace.WithAttributes(attrs...))
}
