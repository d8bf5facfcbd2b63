// locals.go attaches call stacks and local variable snapshots to errors and
// serializes captured values with depth, length and size limits.

package bugwatch

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxValueLength bounds serialized strings when none is configured.
	DefaultMaxValueLength = 1024

	maxSerializeDepth   = 3
	maxSerializeEntries = 10
	maxIndirections     = 16
	maxCallers          = 64
)

// Local names that are never captured.
var skippedLocals = map[string]bool{
	"self":     true,
	"this":     true,
	"ctx":      true,
	"request":  true,
	"response": true,
	"req":      true,
	"resp":     true,
	"environ":  true,
}

// callersError is implemented by errors that carry the program counters of
// the stack where they were created. It matches go-errors style errors.
type callersError interface {
	Callers() []uintptr
}

// tracedError wraps an error with a call stack and, optionally, the local
// bindings of the function that wrapped it.
type tracedError struct {
	err error
	pcs []uintptr

	// function is the fully qualified name of the function that called
	// WithLocals; locals are attached to its frame.
	function string
	locals   map[string]any
}

func (e *tracedError) Error() string { return e.err.Error() }

func (e *tracedError) Unwrap() error { return e.err }

// Callers returns the program counters recorded when the error was wrapped.
func (e *tracedError) Callers() []uintptr { return e.pcs }

// WithStack records the caller's stack on err so that a later capture reports
// where the error was created rather than where it was reported. Errors that
// already carry a stack are returned unchanged. WithStack(nil) returns nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var ce callersError
	if errors.As(err, &ce) {
		return err
	}
	return &tracedError{err: err, pcs: callers(3)}
}

// WithLocals attaches local variable bindings of the calling function to err,
// given as alternating name/value pairs:
//
//	if err != nil {
//	    return bugwatch.WithLocals(err, "userID", userID, "attempt", attempt)
//	}
//
// The bindings are serialized onto the caller's stack frame when the error is
// captured by a client with local capture enabled. Names starting with "_" and
// common framework objects such as ctx and req are skipped. A trailing name
// without a value is ignored.
func WithLocals(err error, keyvals ...any) error {
	if err == nil {
		return nil
	}

	locals := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		name, ok := keyvals[i].(string)
		if !ok {
			name = fmt.Sprint(keyvals[i])
		}
		locals[name] = keyvals[i+1]
	}

	te := &tracedError{err: err, locals: locals}
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			te.function = fn.Name()
		}
	}

	// Reuse an existing stack so the frames match the original failure.
	var ce callersError
	if errors.As(err, &ce) {
		te.pcs = ce.Callers()
	} else {
		te.pcs = callers(3)
	}
	return te
}

// callers returns the program counters of the current goroutine's stack,
// skipping skip frames as runtime.Callers does.
func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxCallers)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

// collectLocals gathers the bindings attached with WithLocals along err's
// chain, keyed by the fully qualified function that attached them. Bindings
// closer to the root error win on duplicate names.
func collectLocals(err error) map[string]map[string]any {
	var out map[string]map[string]any
	for e := err; e != nil; e = errors.Unwrap(e) {
		te, ok := e.(*tracedError)
		if !ok || te.function == "" || len(te.locals) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]map[string]any)
		}
		frame := out[te.function]
		if frame == nil {
			frame = make(map[string]any, len(te.locals))
			out[te.function] = frame
		}
		for k, v := range te.locals {
			frame[k] = v
		}
	}
	return out
}

// serializeLocals filters and serializes a set of local bindings. A binding
// that fails to serialize is reported as "<serialization error>".
func serializeLocals(locals map[string]any, maxLen int) map[string]any {
	result := make(map[string]any, len(locals))
	for name, value := range locals {
		if strings.HasPrefix(name, "_") || skippedLocals[name] {
			continue
		}
		result[name] = serializeBinding(value, maxLen)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func serializeBinding(value any, maxLen int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = "<serialization error>"
		}
	}()
	return Serialize(value, maxLen)
}

// Serialize converts an arbitrary value into a JSON-safe representation.
//
// Strings and byte slices longer than maxLen runes are truncated with "...".
// Sequences and maps keep their first ten entries plus a marker describing
// the rest; maps whose values are struct{} or bool are rendered as sets.
// Structs and other opaque values become "<TypeName>". Nesting deeper than
// three levels is replaced by "<max depth>". A maxLen of zero or less selects
// DefaultMaxValueLength.
func Serialize(value any, maxLen int) any {
	if maxLen <= 0 {
		maxLen = DefaultMaxValueLength
	}
	return serializeValue(reflect.ValueOf(value), maxLen, 0)
}

var (
	errorType    = reflect.TypeFor[error]()
	stringerType = reflect.TypeFor[fmt.Stringer]()
)

func serializeValue(v reflect.Value, maxLen, depth int) any {
	if depth > maxSerializeDepth {
		return "<max depth>"
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}

	// Text-like values render through their own formatting.
	if isTextLike(v) {
		switch t := v.Interface().(type) {
		case error:
			return truncateValue(t.Error(), maxLen)
		case fmt.Stringer:
			return truncateValue(t.String(), maxLen)
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	case reflect.String:
		return truncateValue(v.String(), maxLen)
	case reflect.Interface, reflect.Pointer:
		return serializeIndirect(v, maxLen, depth)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return truncateValue(strings.ToValidUTF8(string(bytesOf(v)), "�"), maxLen)
		}
		items := make([]reflect.Value, v.Len())
		for i := range items {
			items[i] = v.Index(i)
		}
		return serializeSequence(items, maxLen, depth)
	case reflect.Map:
		if isSet(v.Type()) {
			return serializeSequence(sortedKeys(v), maxLen, depth)
		}
		return serializeMapping(v, maxLen, depth)
	case reflect.Struct, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "<" + typeName(v.Type()) + ">"
	}

	return truncateValue(fmt.Sprint(v), maxLen)
}

// serializeIndirect follows a chain of pointers and interfaces. Following
// does not consume depth, so the number of hops is bounded separately to stop
// on self-referencing values.
func serializeIndirect(v reflect.Value, maxLen, depth int) any {
	for range maxIndirections {
		v = v.Elem()
		switch v.Kind() {
		case reflect.Pointer, reflect.Interface:
			if v.IsNil() || isTextLike(v) {
				return serializeValue(v, maxLen, depth)
			}
		default:
			return serializeValue(v, maxLen, depth)
		}
	}
	return "<cycle>"
}

func isTextLike(v reflect.Value) bool {
	return v.CanInterface() && (v.Type().Implements(errorType) || v.Type().Implements(stringerType))
}

func serializeSequence(items []reflect.Value, maxLen, depth int) []any {
	n := min(len(items), maxSerializeEntries)
	out := make([]any, 0, n+1)
	for _, item := range items[:n] {
		out = append(out, serializeValue(item, maxLen, depth+1))
	}
	if extra := len(items) - n; extra > 0 {
		out = append(out, fmt.Sprintf("... and %d more", extra))
	}
	return out
}

func serializeMapping(v reflect.Value, maxLen, depth int) map[string]any {
	keys := sortedKeys(v)
	n := min(len(keys), maxSerializeEntries)
	out := make(map[string]any, n+1)
	for _, k := range keys[:n] {
		out[fmt.Sprint(k)] = serializeValue(v.MapIndex(k), maxLen, depth+1)
	}
	if extra := len(keys) - n; extra > 0 {
		out["..."] = fmt.Sprintf("%d more keys", extra)
	}
	return out
}

// sortedKeys returns map keys ordered by their printed form so that truncated
// output is deterministic.
func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	})
	return keys
}

// isSet reports whether a map type is used as a set: map[K]struct{} or map[K]bool.
func isSet(t reflect.Type) bool {
	elem := t.Elem()
	return elem.Kind() == reflect.Bool || (elem.Kind() == reflect.Struct && elem.NumField() == 0)
}

func bytesOf(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice {
		return v.Bytes()
	}
	b := make([]byte, v.Len())
	reflect.Copy(reflect.ValueOf(b), v)
	return b
}

func typeName(t reflect.Type) string {
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

// truncateValue cuts s to maxLen runes and appends "..." when it was longer.
func truncateValue(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	i, count := 0, 0
	for i < len(s) && count < maxLen {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i] + "..."
}
