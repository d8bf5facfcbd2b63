// bugwatch sends a test event through the agent so that an installation can
// be checked end to end. By default it reports a test exception to the
// collector configured by BUGWATCH_API_KEY and BUGWATCH_ENDPOINT; flags
// override the environment and add local transports.
//
// Usage:
//
//	bugwatch [flags]
//	bugwatch --message "deploy finished" --level info
//	bugwatch --console --verbose --no-http
//	bugwatch --cxdb localhost:9009 --no-http
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
	"github.com/KCuppens/bugwatch/pkg/bugwatch/transports/async"
	"github.com/KCuppens/bugwatch/pkg/bugwatch/transports/console"
	bwcxdb "github.com/KCuppens/bugwatch/pkg/bugwatch/transports/cxdb"
	"github.com/KCuppens/bugwatch/pkg/bugwatch/transports/multi"
	"github.com/spf13/pflag"
	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
)

// localAPIKey satisfies the API key requirement when no HTTP delivery happens.
const localAPIKey = "local"

type options struct {
	apiKey      string
	endpoint    string
	environment string
	release     string
	message     string
	level       string
	consoleOut  bool
	verbose     bool
	cxdbAddr    string
	noHTTP      bool
	async       bool
	debug       bool
	timeout     time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("bugwatch", pflag.ContinueOnError)
	flagSet.StringVar(&opts.apiKey, "api-key", "", "project API key (default: $BUGWATCH_API_KEY)")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "collector base URL (default: $BUGWATCH_ENDPOINT or "+bugwatch.DefaultEndpoint+")")
	flagSet.StringVar(&opts.environment, "environment", "", "environment tag (default: $BUGWATCH_ENVIRONMENT)")
	flagSet.StringVar(&opts.release, "release", "", "release version (default: $BUGWATCH_RELEASE)")
	flagSet.StringVarP(&opts.message, "message", "m", "", "send a message event instead of a test exception")
	flagSet.StringVar(&opts.level, "level", "", "event level: debug, info, warning, error or fatal")
	flagSet.BoolVar(&opts.consoleOut, "console", false, "also print the event to stdout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "print stack frames and breadcrumbs with --console")
	flagSet.StringVar(&opts.cxdbAddr, "cxdb", "", "also append the event to the cxdb server at this address")
	flagSet.BoolVar(&opts.noHTTP, "no-http", false, "skip delivery to the collector")
	flagSet.BoolVar(&opts.async, "async", false, "deliver to the collector through the background queue")
	flagSet.BoolVar(&opts.debug, "debug", false, "log agent diagnostics to stderr")
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "time allowed for delivery")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	level := bugwatch.Level(opts.level)
	if opts.level != "" && !level.Valid() {
		return fmt.Errorf("invalid level %q", opts.level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	transport, closeLocal, err := buildTransport(opts, stdout)
	if err != nil {
		return err
	}
	defer closeLocal()

	clientOpts := []bugwatch.Option{
		bugwatch.WithTransport(transport),
		bugwatch.WithDefaultScrubbing(),
	}
	if opts.debug {
		clientOpts = append(clientOpts, bugwatch.WithDebug(true))
	}
	if opts.apiKey != "" {
		clientOpts = append(clientOpts, bugwatch.WithAPIKey(opts.apiKey))
	} else if opts.noHTTP {
		clientOpts = append(clientOpts, bugwatch.WithAPIKey(localAPIKey))
	}
	if opts.environment != "" {
		clientOpts = append(clientOpts, bugwatch.WithEnvironment(opts.environment))
	}
	if opts.release != "" {
		clientOpts = append(clientOpts, bugwatch.WithRelease(opts.release))
	}

	client, err := bugwatch.NewClient(clientOpts...)
	if err != nil {
		return err
	}
	defer client.Close()

	client.AddBreadcrumb("cli", "bugwatch test invoked", bugwatch.LevelInfo, map[string]any{"args": len(args)})

	var captureOpts []bugwatch.CaptureOption
	if opts.level != "" {
		captureOpts = append(captureOpts, bugwatch.WithLevel(level))
	}

	var id string
	if opts.message != "" {
		id = client.CaptureMessage(ctx, opts.message, captureOpts...)
	} else {
		id = client.CaptureException(ctx, testException(), captureOpts...)
	}

	if err := client.Flush(ctx); err != nil {
		return fmt.Errorf("flushing: %w", err)
	}
	if id == "" {
		return errors.New("event was not captured")
	}
	fmt.Fprintf(stdout, "sent event %s\n", id)
	return nil
}

// buildTransport assembles the transports selected by flags. The returned
// func releases connections owned by the CLI itself.
func buildTransport(opts options, stdout io.Writer) (bugwatch.Transport, func(), error) {
	var transports []bugwatch.Transport
	cleanup := func() {}

	if !opts.noHTTP {
		httpOpts := []bugwatch.HTTPOption{bugwatch.WithTimeout(opts.timeout)}
		endpoint := opts.endpoint
		if endpoint == "" {
			endpoint = os.Getenv("BUGWATCH_ENDPOINT")
		}
		if endpoint == "" {
			endpoint = bugwatch.DefaultEndpoint
		}
		apiKey := opts.apiKey
		if apiKey == "" {
			apiKey = os.Getenv("BUGWATCH_API_KEY")
		}
		if apiKey == "" {
			return nil, cleanup, errors.New("an API key is required unless --no-http is set")
		}

		if opts.async {
			transports = append(transports, async.NewHTTP(endpoint, apiKey, async.WithHTTPOptions(httpOpts...)))
		} else {
			transports = append(transports, bugwatch.NewHTTPTransport(endpoint, apiKey, httpOpts...))
		}
	}

	if opts.consoleOut {
		consoleOpts := []console.Option{console.WithWriter(stdout)}
		if opts.verbose {
			consoleOpts = append(consoleOpts, console.WithVerbose())
		}
		transports = append(transports, console.New(consoleOpts...))
	}

	if opts.cxdbAddr != "" {
		conn, err := cxdbclient.Dial(opts.cxdbAddr, cxdbclient.WithClientTag(bugwatch.SDKName))
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to cxdb at %s: %w", opts.cxdbAddr, err)
		}
		cleanup = func() { conn.Close() }
		transports = append(transports, bwcxdb.New(conn, bwcxdb.WithOrphanLabels([]string{"error", "cli"})))
	}

	if len(transports) == 0 {
		return nil, cleanup, errors.New("no transport selected: drop --no-http or add --console or --cxdb")
	}
	if len(transports) == 1 {
		return transports[0], cleanup, nil
	}
	return multi.New(transports...), cleanup, nil
}

// testException returns an error with a recorded stack, as an application
// error would be reported.
func testException() error {
	return bugwatch.WithStack(errors.New("bugwatch test exception: this is a test event"))
}
