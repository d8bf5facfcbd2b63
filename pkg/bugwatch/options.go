// options.go provides the client configuration: functional options layered
// over BUGWATCH_* environment variables.

package bugwatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
)

const (
	// DefaultEndpoint is the hosted collector.
	DefaultEndpoint = "https://api.bugwatch.dev"

	// SDKName identifies this agent in events.
	SDKName = "bugwatch-go"

	// Version is the agent version reported in events and the User-Agent.
	Version = "0.1.0"

	// UserAgent is sent with every HTTP delivery.
	UserAgent = SDKName + "/" + Version
)

// BeforeSendFunc may modify an event before it is sent. Returning nil drops
// the event.
type BeforeSendFunc func(event *Event) *Event

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	apiKey         string
	endpoint       string
	environment    string
	release        string
	serverName     string
	debug          bool
	maxBreadcrumbs int
	sampleRate     float64
	captureLocals  bool
	maxValueLength int
	sourceContext  bool
	systemState    bool
	beforeSend     BeforeSendFunc
	transport      Transport
	logger         *clog.Logger
	scrubber       *Scrubber
	inAppInclude   []string
	inAppExclude   []string
	lookuper       envconfig.Lookuper
	random         func() float64
}

// envConfig is the environment layer, applied before explicit options.
type envConfig struct {
	APIKey      string   `env:"BUGWATCH_API_KEY"`
	Endpoint    string   `env:"BUGWATCH_ENDPOINT"`
	Environment string   `env:"BUGWATCH_ENVIRONMENT"`
	Release     string   `env:"BUGWATCH_RELEASE"`
	SampleRate  *float64 `env:"BUGWATCH_SAMPLE_RATE,noinit"`
	Debug       bool     `env:"BUGWATCH_DEBUG"`
}

// WithAPIKey sets the project API key. Required, unless BUGWATCH_API_KEY is set.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithEndpoint sets the collector base URL (default: https://api.bugwatch.dev).
func WithEndpoint(endpoint string) Option {
	return func(c *clientConfig) {
		c.endpoint = endpoint
	}
}

// WithEnvironment sets the deployment environment, also reported as a tag.
func WithEnvironment(env string) Option {
	return func(c *clientConfig) {
		c.environment = env
	}
}

// WithRelease sets the application release.
func WithRelease(release string) Option {
	return func(c *clientConfig) {
		c.release = release
	}
}

// WithServerName overrides the server name (default: the hostname).
func WithServerName(name string) Option {
	return func(c *clientConfig) {
		c.serverName = name
	}
}

// WithDebug enables debug logging of the agent's own activity.
func WithDebug(debug bool) Option {
	return func(c *clientConfig) {
		c.debug = debug
	}
}

// WithMaxBreadcrumbs sets the breadcrumb trail capacity (default: 100).
func WithMaxBreadcrumbs(n int) Option {
	return func(c *clientConfig) {
		c.maxBreadcrumbs = n
	}
}

// WithSampleRate sets the fraction of events sent, between 0 and 1 (default: 1).
func WithSampleRate(rate float64) Option {
	return func(c *clientConfig) {
		c.sampleRate = rate
	}
}

// WithCaptureLocals enables serialization of bindings attached with WithLocals.
func WithCaptureLocals(enabled bool) Option {
	return func(c *clientConfig) {
		c.captureLocals = enabled
	}
}

// WithMaxValueLength bounds serialized local values (default: 1024).
func WithMaxValueLength(n int) Option {
	return func(c *clientConfig) {
		c.maxValueLength = n
	}
}

// WithSourceContext controls whether frames carry surrounding source lines
// (default: true).
func WithSourceContext(enabled bool) Option {
	return func(c *clientConfig) {
		c.sourceContext = enabled
	}
}

// WithSystemState attaches process memory, goroutine and uptime figures to
// every event under the "system" extra key.
func WithSystemState(enabled bool) Option {
	return func(c *clientConfig) {
		c.systemState = enabled
	}
}

// WithBeforeSend sets a hook run on every event just before it is sent.
func WithBeforeSend(fn BeforeSendFunc) Option {
	return func(c *clientConfig) {
		c.beforeSend = fn
	}
}

// WithTransport replaces the default synchronous HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *clientConfig) {
		c.transport = t
	}
}

// WithLogger sets the logger for the agent's own diagnostics.
func WithLogger(logger *clog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithScrubber configures the client with a custom scrubber configuration.
func WithScrubber(cfg ScrubberConfig) Option {
	return func(c *clientConfig) {
		c.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() Option {
	return func(c *clientConfig) {
		c.scrubber = NewScrubber(DefaultScrubberConfig())
	}
}

// WithInAppInclude marks frames from packages with these import path
// prefixes as application code.
func WithInAppInclude(prefixes ...string) Option {
	return func(c *clientConfig) {
		c.inAppInclude = append(c.inAppInclude, prefixes...)
	}
}

// WithInAppExclude marks frames from packages with these import path
// prefixes as library code. Exclusions win over inclusions.
func WithInAppExclude(prefixes ...string) Option {
	return func(c *clientConfig) {
		c.inAppExclude = append(c.inAppExclude, prefixes...)
	}
}

// WithLookuper reads configuration variables from l instead of the process
// environment.
func WithLookuper(l envconfig.Lookuper) Option {
	return func(c *clientConfig) {
		c.lookuper = l
	}
}

// withRandom replaces the sampling source.
func withRandom(fn func() float64) Option {
	return func(c *clientConfig) {
		c.random = fn
	}
}

// loadConfig builds the configuration from defaults, then the environment,
// then opts.
func loadConfig(ctx context.Context, opts []Option) (*clientConfig, error) {
	// A first pass only discovers the lookuper.
	probe := &clientConfig{}
	for _, opt := range opts {
		opt(probe)
	}
	lookuper := probe.lookuper
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	var env envConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("bugwatch: reading environment: %w", err)
	}

	cfg := &clientConfig{
		apiKey:         env.APIKey,
		endpoint:       env.Endpoint,
		environment:    env.Environment,
		release:        env.Release,
		debug:          env.Debug,
		sampleRate:     1.0,
		maxBreadcrumbs: DefaultMaxBreadcrumbs,
		maxValueLength: DefaultMaxValueLength,
		sourceContext:  true,
		random:         rand.Float64,
	}
	if env.SampleRate != nil {
		cfg.sampleRate = *env.SampleRate
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.endpoint == "" {
		cfg.endpoint = DefaultEndpoint
	}
	if cfg.maxBreadcrumbs <= 0 {
		cfg.maxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	if cfg.maxValueLength <= 0 {
		cfg.maxValueLength = DefaultMaxValueLength
	}
	if cfg.serverName == "" {
		cfg.serverName, _ = os.Hostname()
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger(cfg.debug)
	}
	return cfg, nil
}

// defaultLogger writes warnings and errors to stderr, and debug output too
// when debug is on.
func defaultLogger(debug bool) *clog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
