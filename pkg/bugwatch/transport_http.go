// transport_http.go implements the synchronous HTTP transport.

package bugwatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/klauspost/compress/gzip"
)

const (
	// EventsPath is appended to the endpoint to form the ingestion URL.
	EventsPath = "/api/v1/events"

	// DefaultHTTPTimeout bounds a single delivery attempt.
	DefaultHTTPTimeout = 10 * time.Second

	maxErrorBody = 512
)

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	client   *http.Client
	timeout  time.Duration
	compress bool
	logger   *clog.Logger
}

// WithHTTPClient sets the HTTP client used for delivery. A copy is kept; the
// transport timeout applies when the client has none.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *httpConfig) {
		c.client = client
	}
}

// WithTimeout sets the per-request timeout (default: 10s).
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCompression gzips request bodies and sets Content-Encoding.
func WithCompression() HTTPOption {
	return func(c *httpConfig) {
		c.compress = true
	}
}

// WithHTTPLogger sets the logger for delivery failures. By default the
// logger is taken from the context passed to Send.
func WithHTTPLogger(logger *clog.Logger) HTTPOption {
	return func(c *httpConfig) {
		c.logger = logger
	}
}

// HTTPTransport posts each event to the collector and waits for the response.
// Failures are logged and reported as *DeliveryError; they are never retried.
type HTTPTransport struct {
	url      string
	apiKey   string
	client   *http.Client
	compress bool
	logger   *clog.Logger
	closed   atomic.Bool
}

// NewHTTPTransport creates a transport delivering to {endpoint}/api/v1/events.
func NewHTTPTransport(endpoint, apiKey string, opts ...HTTPOption) *HTTPTransport {
	cfg := &httpConfig{timeout: DefaultHTTPTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	client := &http.Client{}
	if cfg.client != nil {
		copied := *cfg.client
		client = &copied
	}
	if client.Timeout == 0 {
		client.Timeout = cfg.timeout
	}

	return &HTTPTransport{
		url:      EventsURL(endpoint),
		apiKey:   apiKey,
		client:   client,
		compress: cfg.compress,
		logger:   cfg.logger,
	}
}

// EventsURL returns the ingestion URL for an endpoint.
func EventsURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + EventsPath
}

// Send posts the event and returns nil only if the collector answered
// 200, 201 or 202. Cancellation of ctx does not abort the request; the
// transport timeout bounds it instead.
func (t *HTTPTransport) Send(ctx context.Context, event *Event) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	err := t.send(context.WithoutCancel(ctx), event)
	RecordSend("http", err)
	if err != nil {
		t.log(ctx).Warn("bugwatch: failed to send event", "event_id", event.EventID, "error", err)
		return err
	}
	t.log(ctx).Debug("bugwatch: event sent", "event_id", event.EventID)
	return nil
}

func (t *HTTPTransport) send(ctx context.Context, event *Event) error {
	payload, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("bugwatch: encoding event: %w", err)
	}

	body := io.Reader(bytes.NewReader(payload))
	if t.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("bugwatch: compressing event: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("bugwatch: compressing event: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("User-Agent", UserAgent)
	if t.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet))),
	}
}

// Flush is a no-op: every Send completes before returning.
func (t *HTTPTransport) Flush(context.Context) error {
	return nil
}

// Close releases idle pooled connections. Subsequent sends fail.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) log(ctx context.Context) *clog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return clog.FromContext(ctx)
}
