// Package bugwatch is an in-process error and crash reporting agent.
//
// bugwatch captures errors, panics and messages from a running program,
// groups them with a content-based fingerprint, attaches the trail of
// breadcrumbs that led up to them and delivers them to a collector.
//
// # Core Components
//
//   - Client: owns the breadcrumb trail and scope, samples and builds events
//   - Fingerprint: groups faults that differ only in ids, numbers or paths
//   - ExtractFault: turns an error and its recorded stack into frames
//   - Trail: bounded breadcrumb ring buffer
//   - Transport: delivers events (HTTP, async, console, multi, cxdb, noop)
//   - HookManager: reports panics intercepted by GuardMain, Go and Group
//
// # Quick Start
//
//	func main() {
//	    defer bugwatch.GuardMain()
//
//	    client, err := bugwatch.Init(bugwatch.WithAPIKey("bw_..."))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer client.Close()
//
//	    client.AddBreadcrumb("http", "GET /api/users", bugwatch.LevelInfo, nil)
//	    if err := run(); err != nil {
//	        client.CaptureException(ctx, bugwatch.WithStack(err))
//	    }
//	}
//
// # Design Principles
//
//   - The agent never crashes the host: internal failures are recovered and
//     the capture call returns ""
//   - A missing API key is reported loudly by Init
//   - Sampled-out calls do no extraction work
package bugwatch
