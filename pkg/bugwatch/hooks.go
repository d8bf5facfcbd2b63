// hooks.go implements process-wide panic interception: the handler table,
// the interception points GuardMain and Go, the HookManager that reports
// intercepted panics, and exit hooks that flush before os.Exit.

package bugwatch

import (
	"context"
	"os"
	"slices"
	"sync"
	"time"
)

// PanicKind identifies where a panic was intercepted.
type PanicKind int

const (
	// KindMain is a panic unwinding main, intercepted by GuardMain.
	KindMain PanicKind = iota

	// KindGoroutine is a panic in a goroutine started with Go.
	KindGoroutine

	// KindTask is a panic in a task started with Group.Go.
	KindTask

	numPanicKinds
)

func (k PanicKind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindGoroutine:
		return "goroutine"
	case KindTask:
		return "task"
	}
	return "unknown"
}

// PanicInfo describes an intercepted panic.
type PanicInfo struct {
	Kind PanicKind

	// Value is the recovered panic value.
	Value any

	// Stack holds the program counters seen from the intercepting function.
	Stack []uintptr

	// Goroutine is the name passed to Go.
	Goroutine string

	// Task is the description passed to Group.Go.
	Task string
}

// PanicHandler handles an intercepted panic. A handler that returns
// normally swallows the panic.
type PanicHandler func(ctx context.Context, info PanicInfo)

// handlerEntry is a slot of the handler table. owner identifies the
// HookManager that installed it, if any.
type handlerEntry struct {
	handler PanicHandler
	owner   *HookManager
}

var panicHandlers = struct {
	mu      sync.Mutex
	entries [numPanicKinds]handlerEntry
}{}

// defaultPanicHandler re-raises the panic, so the runtime prints it and exits
// with status 2 as if it had never been intercepted.
func defaultPanicHandler(_ context.Context, info PanicInfo) {
	panic(info.Value)
}

// SetPanicHandler installs h for kind and returns the handler it replaces.
// A nil h restores the default handler, which re-panics.
func SetPanicHandler(kind PanicKind, h PanicHandler) PanicHandler {
	prev := swapHandler(kind, handlerEntry{handler: h})
	return prev.handler
}

func swapHandler(kind PanicKind, entry handlerEntry) handlerEntry {
	if entry.handler == nil {
		entry = handlerEntry{handler: defaultPanicHandler}
	}

	panicHandlers.mu.Lock()
	defer panicHandlers.mu.Unlock()

	prev := panicHandlers.entries[kind]
	if prev.handler == nil {
		prev.handler = defaultPanicHandler
	}
	panicHandlers.entries[kind] = entry
	return prev
}

func currentHandler(kind PanicKind) handlerEntry {
	panicHandlers.mu.Lock()
	defer panicHandlers.mu.Unlock()

	entry := panicHandlers.entries[kind]
	if entry.handler == nil {
		entry.handler = defaultPanicHandler
	}
	return entry
}

// dispatchPanic hands an intercepted panic to the handler for its kind.
func dispatchPanic(ctx context.Context, info PanicInfo) {
	currentHandler(info.Kind).handler(ctx, info)
}

// GuardMain intercepts a panic unwinding main. Defer it first thing in main:
//
//	func main() {
//	    defer bugwatch.GuardMain()
//	    ...
//	}
func GuardMain() {
	if r := recover(); r != nil {
		dispatchPanic(context.Background(), PanicInfo{Kind: KindMain, Value: r, Stack: callers(2)})
	}
}

// Go runs fn in a new goroutine whose panics are intercepted.
// name identifies the goroutine in reports.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				dispatchPanic(context.Background(), PanicInfo{Kind: KindGoroutine, Value: r, Stack: callers(2), Goroutine: name})
			}
		}()
		fn()
	}()
}

// HookManager installs panic handlers that report intercepted panics
// through a client before passing them on to the handlers they replaced.
type HookManager struct {
	client *Client
	grace  time.Duration

	mu         sync.Mutex
	installed  bool
	previous   [numPanicKinds]handlerEntry
	removeExit func()
}

// DefaultFlushGrace bounds the flush after reporting a fatal panic.
const DefaultFlushGrace = 2 * time.Second

// NewHookManager returns a hook manager reporting through client.
func NewHookManager(client *Client) *HookManager {
	return &HookManager{client: client, grace: DefaultFlushGrace}
}

// Install replaces the handler of every panic kind with one that reports
// the panic at fatal level, flushes the transport, then calls the handler it
// replaced. It also registers a flush with the exit hooks run by Exit until
// Uninstall. Installing twice is a no-op.
func (m *HookManager) Install() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.installed {
		return
	}
	for kind := range numPanicKinds {
		if currentHandler(kind).owner == m {
			continue
		}
		m.previous[kind] = swapHandler(kind, handlerEntry{
			handler: m.handlerFor(kind),
			owner:   m,
		})
	}
	m.installed = true

	m.removeExit = OnExit(func(ctx context.Context) {
		if err := m.client.Flush(ctx); err != nil {
			m.client.logger.Debug("bugwatch: flush at exit failed", "error", err)
		}
	})
}

// Uninstall restores the handlers saved by Install. It is a no-op when
// nothing is installed.
func (m *HookManager) Uninstall() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.installed {
		return
	}
	for kind := range numPanicKinds {
		swapHandler(kind, m.previous[kind])
		m.previous[kind] = handlerEntry{}
	}
	if m.removeExit != nil {
		m.removeExit()
		m.removeExit = nil
	}
	m.installed = false
}

// Installed reports whether the manager's handlers are installed.
func (m *HookManager) Installed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installed
}

func (m *HookManager) handlerFor(kind PanicKind) PanicHandler {
	return func(ctx context.Context, info PanicInfo) {
		m.report(ctx, info)

		m.mu.Lock()
		prev := m.previous[kind].handler
		m.mu.Unlock()
		if prev == nil {
			prev = defaultPanicHandler
		}
		prev(ctx, info)
	}
}

// report captures the panic, unless CapturePanic already reported the value
// before it was re-raised, and flushes within the grace period. It never
// panics itself.
func (m *HookManager) report(ctx context.Context, info PanicInfo) {
	defer func() { _ = recover() }()

	if !takeReported(info.Value) {
		cc := newCaptureConfig(LevelFatal, nil)
		cc.setTag("mechanism", "panic_hook")
		cc.setTag("panic.kind", info.Kind.String())
		if info.Goroutine != "" {
			cc.setTag("goroutine.name", info.Goroutine)
		}
		if info.Task != "" {
			cc.setTag("task.description", info.Task)
		}
		m.client.capturePanic(ctx, info.Value, info.Stack, cc)
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.grace)
	defer cancel()
	_ = m.client.Flush(flushCtx)
}

// ExitGrace bounds the exit hooks run by Exit.
const ExitGrace = 2 * time.Second

type exitHook struct {
	id uint64
	fn func(context.Context)
}

var exitHooks = struct {
	mu     sync.Mutex
	nextID uint64
	hooks  []exitHook
}{}

// osExit is replaced in tests.
var osExit = os.Exit

// OnExit registers fn to run when Exit is called. The returned func
// unregisters it and may be called more than once.
func OnExit(fn func(ctx context.Context)) (remove func()) {
	exitHooks.mu.Lock()
	defer exitHooks.mu.Unlock()

	exitHooks.nextID++
	id := exitHooks.nextID
	exitHooks.hooks = append(exitHooks.hooks, exitHook{id: id, fn: fn})

	return func() {
		exitHooks.mu.Lock()
		defer exitHooks.mu.Unlock()
		exitHooks.hooks = slices.DeleteFunc(exitHooks.hooks, func(h exitHook) bool { return h.id == id })
	}
}

// RunExitHooks runs registered exit hooks in registration order until they
// finish or ctx is done.
func RunExitHooks(ctx context.Context) {
	exitHooks.mu.Lock()
	hooks := slices.Clone(exitHooks.hooks)
	exitHooks.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range hooks {
			func() {
				defer func() { _ = recover() }()
				h.fn(ctx)
			}()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Exit runs the exit hooks, bounded by ExitGrace, then terminates the
// process with code. Use it in place of os.Exit so pending events are sent.
func Exit(code int) {
	ctx, cancel := context.WithTimeout(context.Background(), ExitGrace)
	RunExitHooks(ctx)
	cancel()
	osExit(code)
}
