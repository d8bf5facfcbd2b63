// stack.go extracts structured fault information from errors and panics.

package bugwatch

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
)

// InAppFunc reports whether a frame belongs to the instrumented application.
// function is the fully qualified symbol, e.g. "example.com/app/server.(*Server).Serve".
type InAppFunc func(file, function string) bool

// ExtractConfig controls how faults are converted into FaultInfo.
type ExtractConfig struct {
	// InApp classifies frames. Nil selects DefaultInApp.
	InApp InAppFunc

	// CaptureLocals attaches bindings recorded with WithLocals to in-app frames.
	CaptureLocals bool

	// MaxValueLength bounds serialized local values (default: 1024).
	MaxValueLength int

	// SourceContext reads source files to fill frame context lines.
	SourceContext bool

	sources *sourceCache
}

// sdkPackage is the import path of this package. Frames from it, and from its
// subpackages, are hidden from captured stacks.
var sdkPackage = reflect.TypeFor[Client]().PkgPath()

// ExtractFault converts err into FaultInfo. The stack comes from the deepest
// error in the chain that recorded one (see WithStack), otherwise from the
// caller of ExtractFault. It returns nil for a nil error and never panics.
func ExtractFault(err error, cfg ExtractConfig) (fault *FaultInfo) {
	if err == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			fault = unreadableFault(fault, err)
		}
	}()

	typ, module := faultType(err)
	fault = &FaultInfo{Type: typ, Value: err.Error(), Module: module}

	pcs := stackFromError(err)
	if pcs == nil {
		pcs = callers(3)
	}
	fault.Stacktrace = buildFrames(pcs, false, collectLocals(err), cfg)
	return fault
}

// extractPanic converts a recovered panic value into FaultInfo. pcs is the
// stack of the panicking goroutine as seen from the recovering function.
func extractPanic(value any, pcs []uintptr, cfg ExtractConfig) (fault *FaultInfo) {
	defer func() {
		if r := recover(); r != nil {
			fault = unreadableFault(fault, value)
		}
	}()

	var locals map[string]map[string]any
	if err, ok := value.(error); ok {
		typ, module := faultType(err)
		fault = &FaultInfo{Type: typ, Value: err.Error(), Module: module}
		locals = collectLocals(err)
	} else {
		fault = &FaultInfo{Type: "panic", Value: fmt.Sprint(value)}
	}

	fault.Stacktrace = buildFrames(pcs, true, locals, cfg)
	return fault
}

// unreadableFault salvages what was extracted before a failure. Errors whose
// Error method panics are reported by their type alone.
func unreadableFault(partial *FaultInfo, value any) *FaultInfo {
	if partial != nil {
		partial.Stacktrace = nil
		return partial
	}
	if err, ok := value.(error); ok {
		typ, module := faultType(err)
		return &FaultInfo{Type: typ, Value: "<unavailable>", Module: module}
	}
	return &FaultInfo{Type: fmt.Sprintf("%T", value), Value: "<unavailable>"}
}

// faultType names the first error in err's chain that is not a pure wrapper,
// returning its bare type name and the package path that declares it.
func faultType(err error) (name, module string) {
	e := err
	for isWrapper(e) {
		next := errors.Unwrap(e)
		if next == nil {
			break
		}
		e = next
	}

	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name = t.Name()
	if name == "" {
		name = t.String()
	}
	return name, t.PkgPath()
}

// isWrapper reports whether err only adds context to the error it wraps.
func isWrapper(err error) bool {
	if _, ok := err.(*tracedError); ok {
		return true
	}
	switch reflect.TypeOf(err).String() {
	case "*fmt.wrapError", "*fmt.wrapErrors":
		return true
	}
	return false
}

// stackFromError returns the program counters of the deepest error in the
// chain that carries them.
func stackFromError(err error) []uintptr {
	var pcs []uintptr
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ce, ok := e.(callersError); ok {
			if p := ce.Callers(); len(p) > 0 {
				pcs = p
			}
		}
	}
	return pcs
}

// buildFrames resolves pcs into frames ordered outermost call first.
func buildFrames(pcs []uintptr, panicking bool, locals map[string]map[string]any, cfg ExtractConfig) []StackFrame {
	if len(pcs) == 0 {
		return nil
	}

	var raw []runtime.Frame
	iter := runtime.CallersFrames(pcs)
	for {
		frame, more := iter.Next()
		raw = append(raw, frame)
		if !more {
			break
		}
	}

	if panicking {
		raw = trimPanicFrames(raw)
	}

	fb := &frameBuilder{
		cfg:      cfg,
		inApp:    cfg.InApp,
		maxLen:   cfg.MaxValueLength,
		sources:  cfg.sources,
		locals:   locals,
		attached: make(map[string]bool),
	}
	if fb.inApp == nil {
		fb.inApp = DefaultInApp
	}
	if fb.maxLen <= 0 {
		fb.maxLen = DefaultMaxValueLength
	}
	if fb.sources == nil {
		fb.sources = sharedSources
	}

	frames := make([]StackFrame, 0, len(raw))
	for _, rf := range raw {
		if rf.Function == "" || isSDKFrame(rf.File, rf.Function) {
			continue
		}
		if sf, ok := fb.build(rf); ok {
			frames = append(frames, sf)
		}
	}

	slices.Reverse(frames)
	return frames
}

// frameBuilder converts runtime frames of one stack into StackFrames.
type frameBuilder struct {
	cfg      ExtractConfig
	inApp    InAppFunc
	maxLen   int
	sources  *sourceCache
	locals   map[string]map[string]any
	attached map[string]bool
}

// build resolves a single frame. A failure affects only this frame: it is
// kept with what was resolved before the failure, or dropped if nothing was.
func (fb *frameBuilder) build(rf runtime.Frame) (sf StackFrame, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = sf.Filename != "" || sf.Function != ""
		}
	}()

	pkg, fn := splitFunction(rf.Function)
	sf = StackFrame{
		Filename: rf.File,
		Function: fn,
		Lineno:   rf.Line,
		InApp:    fb.inApp(rf.File, rf.Function),
		Module:   pkg,
	}

	if fb.cfg.SourceContext {
		fb.sources.annotate(&sf)
	}

	// Locals belong to the innermost frame of the function that attached them.
	if fb.cfg.CaptureLocals && sf.InApp && !fb.attached[rf.Function] {
		if vars, found := fb.locals[rf.Function]; found {
			sf.Vars = serializeLocals(vars, fb.maxLen)
			fb.attached[rf.Function] = true
		}
	}
	return sf, true
}

// trimPanicFrames drops the recovering functions and the runtime panic
// machinery, leaving the faulting frame first.
func trimPanicFrames(raw []runtime.Frame) []runtime.Frame {
	idx := -1
	for i, f := range raw {
		if f.Function == "runtime.gopanic" {
			idx = i
		}
	}
	if idx < 0 {
		return raw
	}
	raw = raw[idx+1:]
	for len(raw) > 0 && isRuntimeFrame(raw[0].Function) {
		raw = raw[1:]
	}
	return raw
}

func isRuntimeFrame(function string) bool {
	return strings.HasPrefix(function, "runtime.") || strings.HasPrefix(function, "internal/runtime/")
}

// DefaultInApp classifies a frame as application code unless it belongs to
// the Go standard library or runtime, the module cache, a vendor directory
// or this package. Test files are always in-app.
func DefaultInApp(file, function string) bool {
	if strings.HasSuffix(file, "_test.go") {
		return true
	}
	if strings.Contains(file, "/pkg/mod/") || strings.Contains(file, "/vendor/") {
		return false
	}

	pkg, _ := splitFunction(function)
	if pkg == "main" {
		return true
	}
	// Standard library import paths have no dot in their first element.
	first, _, _ := strings.Cut(pkg, "/")
	if !strings.Contains(first, ".") {
		return false
	}
	return !isSDKPackage(pkg)
}

// inAppWithPrefixes extends DefaultInApp with package path prefixes.
// Exclusions take precedence over inclusions.
func inAppWithPrefixes(include, exclude []string) InAppFunc {
	if len(include) == 0 && len(exclude) == 0 {
		return DefaultInApp
	}
	return func(file, function string) bool {
		pkg, _ := splitFunction(function)
		for _, p := range exclude {
			if strings.HasPrefix(pkg, p) {
				return false
			}
		}
		for _, p := range include {
			if strings.HasPrefix(pkg, p) {
				return true
			}
		}
		return DefaultInApp(file, function)
	}
}

func isSDKPackage(pkg string) bool {
	return pkg == sdkPackage || strings.HasPrefix(pkg, sdkPackage+"/")
}

func isSDKFrame(file, function string) bool {
	if strings.HasSuffix(file, "_test.go") {
		return false
	}
	pkg, _ := splitFunction(function)
	return isSDKPackage(pkg)
}

// splitFunction splits a fully qualified symbol into its package path and the
// function name within that package.
//
//	"github.com/a/b.(*T).M" -> "github.com/a/b", "(*T).M"
//	"main.main.func1"       -> "main", "main.func1"
func splitFunction(symbol string) (pkg, fn string) {
	lastSlash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[lastSlash+1:], ".")
	if dot < 0 {
		return "", symbol
	}
	dot += lastSlash + 1
	return symbol[:dot], symbol[dot+1:]
}
