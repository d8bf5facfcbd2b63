// recover.go provides deferred panic capture for code that must keep running,
// such as HTTP handlers and worker loops.

package bugwatch

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Recover captures a panic at fatal level and returns the recovered value.
// Unlike the hooks installed by Init, Recover does NOT re-panic after
// reporting. It must be deferred directly, since recover only stops a panic
// when called by the deferred function itself:
//
//	func handler(ctx context.Context) {
//	    defer client.Recover(ctx)
//	    // code that might panic
//	}
//
// Use RecoverTo to turn the panic into an error instead.
func (c *Client) Recover(ctx context.Context) any {
	r := recover()
	if r == nil {
		return nil
	}
	c.reportRecovered(ctx, r, callers(2))
	return r
}

// RecoverTo captures a panic like Recover and stores it in *errp as a
// *PanicError. It must be deferred directly:
//
//	func handle(ctx context.Context) (err error) {
//	    defer client.RecoverTo(ctx, &err)
//	    // code that might panic
//	}
func (c *Client) RecoverTo(ctx context.Context, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	c.reportRecovered(ctx, r, callers(2))
	if errp != nil {
		*errp = &PanicError{Value: r}
	}
}

// CapturePanic reports a value the caller has already recovered, at fatal
// level unless overridden, and returns the event ID. Call it from the
// deferred function that recovered, while the panicking frames are still on
// the stack; the caller decides whether to re-panic. A re-raised value that
// reaches GuardMain, Go or Group.Go is not reported a second time.
func (c *Client) CapturePanic(ctx context.Context, value any, opts ...CaptureOption) string {
	if value == nil {
		return ""
	}
	markReported(value)
	opts = append([]CaptureOption{WithTag("mechanism", "recover")}, opts...)
	return c.capturePanic(ctx, value, callers(2), newCaptureConfig(LevelFatal, opts))
}

// maxReportedPanics bounds the values remembered by markReported.
const maxReportedPanics = 16

// reportedPanics holds panic values reported by CapturePanic that may be
// re-raised, most recent last.
var reportedPanics = struct {
	mu     sync.Mutex
	values []any
}{}

func markReported(value any) {
	reportedPanics.mu.Lock()
	defer reportedPanics.mu.Unlock()

	reportedPanics.values = append(reportedPanics.values, value)
	if n := len(reportedPanics.values); n > maxReportedPanics {
		reportedPanics.values = slices.Delete(reportedPanics.values, 0, n-maxReportedPanics)
	}
}

// takeReported reports whether value was marked by markReported and
// forgets it, so a later panic with an equal value is reported again.
func takeReported(value any) bool {
	reportedPanics.mu.Lock()
	defer reportedPanics.mu.Unlock()

	for i := len(reportedPanics.values) - 1; i >= 0; i-- {
		if samePanicValue(reportedPanics.values[i], value) {
			reportedPanics.values = slices.Delete(reportedPanics.values, i, i+1)
			return true
		}
	}
	return false
}

// samePanicValue compares with ==, treating uncomparable values as distinct.
func samePanicValue(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (c *Client) reportRecovered(ctx context.Context, r any, pcs []uintptr) {
	cc := newCaptureConfig(LevelFatal, []CaptureOption{WithTag("mechanism", "recover")})
	c.capturePanic(ctx, r, pcs, cc)
}

// PanicError is returned in place of a panic that was intercepted and not
// re-raised, for example by a Group task.
type PanicError struct {
	// Value is the recovered panic value.
	Value any

	// Task is the description of the task that panicked, if any.
	Task string
}

func (e *PanicError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("panic in task %q: %s", e.Task, formatRecovered(e.Value))
	}
	return "panic: " + formatRecovered(e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
