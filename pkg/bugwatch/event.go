// event.go defines the canonical event data structures for bugwatch.

package bugwatch

import (
	"maps"
	"slices"
	"time"
)

// Level indicates the severity level of an event.
type Level string

const (
	// LevelDebug is diagnostic detail, mostly useful for breadcrumbs.
	LevelDebug Level = "debug"

	// LevelInfo is the default level for messages.
	LevelInfo Level = "info"

	// LevelWarning indicates a non-fatal issue that may need attention.
	LevelWarning Level = "warning"

	// LevelError is the default level for captured errors.
	LevelError Level = "error"

	// LevelFatal indicates an unrecoverable fault such as an uncaught panic.
	LevelFatal Level = "fatal"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelFatal:
		return true
	}
	return false
}

// StackFrame is a single frame of a captured stack.
type StackFrame struct {
	// Filename is the absolute source path of the frame.
	Filename string `json:"filename"`

	// Function is the symbol name without its package path, e.g. "(*Server).Serve".
	Function string `json:"function"`

	// Lineno is the 1-based line number.
	Lineno int `json:"lineno"`

	// Colno is the column, when known. Go does not report columns.
	Colno *int `json:"colno,omitempty"`

	ContextLine string   `json:"context_line,omitempty"`
	PreContext  []string `json:"pre_context,omitempty"`
	PostContext []string `json:"post_context,omitempty"`

	// InApp is true for frames from the instrumented application's own code.
	InApp bool `json:"in_app"`

	// Module is the package path of the function.
	Module string `json:"module,omitempty"`

	// Vars holds serialized local bindings attached with WithLocals.
	Vars map[string]any `json:"vars,omitempty"`
}

// FaultInfo describes a captured error or panic.
type FaultInfo struct {
	// Type is the bare type name of the fault, or "panic" for non-error panic values.
	Type string `json:"type"`

	// Value is the fault's message.
	Value string `json:"value"`

	// Stacktrace is ordered outermost call first, innermost (faulting) frame last.
	Stacktrace []StackFrame `json:"stacktrace,omitempty"`

	// Module is the package path declaring the fault's type.
	Module string `json:"module,omitempty"`
}

// Breadcrumb records an operational event leading up to a fault.
type Breadcrumb struct {
	Category string `json:"category"`
	Message  string `json:"message"`

	// Type is the breadcrumb kind: default, http, navigation, query, error, ...
	Type string `json:"type"`

	Level     Level          `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// UserContext identifies the user affected by an event.
// It is replaced as a whole by SetUser, never merged.
type UserContext struct {
	ID        string         `json:"id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Username  string         `json:"username,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RequestContext describes the request being served when the event occurred.
// Sensitive headers and fields are expected to be redacted by the caller,
// or by a Scrubber when one is configured.
type RequestContext struct {
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// SDKInfo names the agent that produced an event.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RuntimeInfo names the language runtime of the host program.
type RuntimeInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Event is the complete record delivered to the collector.
// Every event carries a non-empty Message or a non-nil Exception.
type Event struct {
	// EventID is a 32 character hex identifier.
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`

	Exception *FaultInfo `json:"exception,omitempty"`

	// Message is synthesized as "{type}: {value}" for exceptions captured
	// without an explicit message.
	Message string `json:"message,omitempty"`

	Platform string       `json:"platform"`
	SDK      *SDKInfo     `json:"sdk,omitempty"`
	Runtime  *RuntimeInfo `json:"runtime,omitempty"`

	Request *RequestContext `json:"request,omitempty"`
	User    *UserContext    `json:"user,omitempty"`

	Tags        map[string]string `json:"tags,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
	Breadcrumbs []Breadcrumb      `json:"breadcrumbs,omitempty"`

	// Fingerprint groups events describing the same fault. Empty for messages.
	Fingerprint string `json:"fingerprint,omitempty"`

	Environment string `json:"environment,omitempty"`
	Release     string `json:"release,omitempty"`
	ServerName  string `json:"server_name,omitempty"`
}

// Clone returns a copy of the event whose maps and slices can be modified
// without affecting e. Nested maps and slices inside free-form data are
// copied too; other reference values stored there are shared.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.Exception != nil {
		exc := *e.Exception
		exc.Stacktrace = append([]StackFrame(nil), e.Exception.Stacktrace...)
		for i := range exc.Stacktrace {
			frame := &exc.Stacktrace[i]
			frame.Vars = cloneData(frame.Vars)
			frame.PreContext = slices.Clone(frame.PreContext)
			frame.PostContext = slices.Clone(frame.PostContext)
		}
		out.Exception = &exc
	}
	if e.Request != nil {
		req := *e.Request
		req.Headers = maps.Clone(e.Request.Headers)
		req.Cookies = maps.Clone(e.Request.Cookies)
		req.Env = maps.Clone(e.Request.Env)
		req.Data = cloneData(e.Request.Data)
		out.Request = &req
	}
	if e.User != nil {
		user := *e.User
		user.Extra = cloneData(e.User.Extra)
		out.User = &user
	}
	out.Tags = maps.Clone(e.Tags)
	out.Extra = cloneData(e.Extra)
	out.Breadcrumbs = cloneBreadcrumbs(e.Breadcrumbs)
	return &out
}

func cloneBreadcrumbs(crumbs []Breadcrumb) []Breadcrumb {
	if crumbs == nil {
		return nil
	}
	out := make([]Breadcrumb, len(crumbs))
	for i, b := range crumbs {
		b.Data = cloneData(b.Data)
		out[i] = b
	}
	return out
}

// cloneData copies a free-form map along with the maps and slices nested in it.
func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneDataValue(v)
	}
	return out
}

func cloneDataValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case map[string]string:
		return maps.Clone(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneDataValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}
