// transport.go defines the Transport interface and the event wire encoding.

package bugwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTransportClosed is returned by transports used after Close.
var ErrTransportClosed = errors.New("bugwatch: transport is closed")

// Transport delivers events to a destination.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Send delivers an event. A nil error means the event was accepted:
	// synchronous transports return after the collector confirmed it,
	// asynchronous ones once it is queued for delivery.
	Send(ctx context.Context, event *Event) error

	// Flush blocks until buffered events are delivered or ctx is done.
	// For synchronous transports, this may be a no-op.
	Flush(ctx context.Context) error

	// Close releases resources held by the transport.
	// After Close is called, Send should return ErrTransportClosed.
	Close() error
}

// DeliveryError reports an event the collector did not accept.
type DeliveryError struct {
	// StatusCode is the HTTP status returned by the collector, or 0 when
	// the request failed before a response was received.
	StatusCode int

	Err error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bugwatch: delivery failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bugwatch: delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// EncodeEvent renders an event in the collector's JSON wire format:
// UTC RFC 3339 timestamps, lowercase levels, absent optional fields omitted
// and nil values removed from free-form maps.
func EncodeEvent(event *Event) ([]byte, error) {
	if event == nil {
		return nil, errors.New("bugwatch: nil event")
	}
	return json.Marshal(wireEvent(event))
}

// wireEvent returns a copy of event normalized for encoding.
func wireEvent(event *Event) *Event {
	out := event.Clone()
	out.Timestamp = out.Timestamp.UTC()
	out.Extra = stripNil(out.Extra)

	if out.Exception != nil {
		for i := range out.Exception.Stacktrace {
			out.Exception.Stacktrace[i].Vars = stripNil(out.Exception.Stacktrace[i].Vars)
		}
	}
	if out.Request != nil {
		out.Request.Data = stripNil(out.Request.Data)
	}
	if out.User != nil {
		out.User.Extra = stripNil(out.User.Extra)
	}
	for i := range out.Breadcrumbs {
		out.Breadcrumbs[i].Timestamp = out.Breadcrumbs[i].Timestamp.UTC()
		out.Breadcrumbs[i].Data = stripNil(out.Breadcrumbs[i].Data)
	}
	return out
}

// stripNil removes nil values from m and from maps and slices nested in it.
func stripNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = stripNilValue(v)
	}
	return out
}

func stripNilValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return stripNil(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = stripNilValue(item)
		}
		return out
	}
	return v
}
