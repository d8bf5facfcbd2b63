package bugwatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// collector records requests received by a fake ingestion endpoint.
type collector struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
}

func newCollector(t *testing.T, status int) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := io.Reader(r.Body)
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			body = zr
		}
		data, _ := io.ReadAll(body)

		c.mu.Lock()
		c.requests = append(c.requests, r)
		c.bodies = append(c.bodies, data)
		c.mu.Unlock()

		w.WriteHeader(c.status)
		_, _ = w.Write([]byte("collector says no"))
	}))
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *collector) last(t *testing.T) (*http.Request, map[string]any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		t.Fatal("collector received no requests")
	}
	var payload map[string]any
	if err := json.Unmarshal(c.bodies[len(c.bodies)-1], &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return c.requests[len(c.requests)-1], payload
}

func testEvent() *Event {
	return &Event{
		EventID:   "0123456789abcdef0123456789abcdef",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60)),
		Level:     LevelError,
		Message:   "ValueError: bad",
		Platform:  "go",
		Exception: &FaultInfo{Type: "ValueError", Value: "bad"},
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted} {
		coll, srv := newCollector(t, status)
		transport := NewHTTPTransport(srv.URL+"/", "secret-key")

		if err := transport.Send(context.Background(), testEvent()); err != nil {
			t.Fatalf("status %d: Send returned error: %v", status, err)
		}

		req, payload := coll.last(t)
		if req.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", req.Method)
		}
		if req.URL.Path != EventsPath {
			t.Errorf("Path = %s, want %s", req.URL.Path, EventsPath)
		}
		wantHeaders := map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer secret-key",
			"User-Agent":    "bugwatch-go/" + Version,
		}
		for k, v := range wantHeaders {
			if got := req.Header.Get(k); got != v {
				t.Errorf("header %s = %q, want %q", k, got, v)
			}
		}
		if payload["event_id"] != "0123456789abcdef0123456789abcdef" {
			t.Errorf("event_id = %v", payload["event_id"])
		}
	}
}

func TestHTTPTransport_FailureStatus(t *testing.T) {
	_, srv := newCollector(t, http.StatusTooManyRequests)
	transport := NewHTTPTransport(srv.URL, "k")

	before := testutil.ToFloat64(transportSends.WithLabelValues("http", "failure"))
	err := transport.Send(context.Background(), testEvent())

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DeliveryError", err)
	}
	if de.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", de.StatusCode)
	}
	if !strings.Contains(err.Error(), "collector says no") {
		t.Errorf("error %q does not include the response body", err)
	}
	if got := testutil.ToFloat64(transportSends.WithLabelValues("http", "failure")); got != before+1 {
		t.Errorf("failure counter = %v, want %v", got, before+1)
	}
}

func TestHTTPTransport_NetworkFailure(t *testing.T) {
	_, srv := newCollector(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	err := NewHTTPTransport(url, "k", WithTimeout(time.Second)).Send(context.Background(), testEvent())

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DeliveryError", err)
	}
	if de.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", de.StatusCode)
	}
}

func TestHTTPTransport_IgnoresCallerCancellation(t *testing.T) {
	_, srv := newCollector(t, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewHTTPTransport(srv.URL, "k").Send(ctx, testEvent()); err != nil {
		t.Errorf("Send with canceled context returned error: %v", err)
	}
}

func TestHTTPTransport_Compression(t *testing.T) {
	coll, srv := newCollector(t, http.StatusOK)
	transport := NewHTTPTransport(srv.URL, "k", WithCompression())

	if err := transport.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	req, payload := coll.last(t)
	if req.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", req.Header.Get("Content-Encoding"))
	}
	if payload["level"] != "error" {
		t.Errorf("level = %v, want error", payload["level"])
	}
}

func TestHTTPTransport_Closed(t *testing.T) {
	transport := NewHTTPTransport("http://127.0.0.1:1", "k")
	if err := transport.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := transport.Send(context.Background(), testEvent()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after Close = %v, want ErrTransportClosed", err)
	}
	if err := transport.Flush(context.Background()); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
}

func TestWithHTTPClient_DoesNotMutateCaller(t *testing.T) {
	client := &http.Client{}
	NewHTTPTransport("http://example.com", "k", WithHTTPClient(client), WithTimeout(3*time.Second))
	if client.Timeout != 0 {
		t.Errorf("caller's client Timeout = %v, want unchanged", client.Timeout)
	}
}

func TestEventsURL(t *testing.T) {
	tests := map[string]string{
		"https://api.bugwatch.dev":   "https://api.bugwatch.dev/api/v1/events",
		"https://api.bugwatch.dev/":  "https://api.bugwatch.dev/api/v1/events",
		"http://localhost:8080//":    "http://localhost:8080/api/v1/events",
		"http://localhost:8080/base": "http://localhost:8080/base/api/v1/events",
	}
	for endpoint, want := range tests {
		if got := EventsURL(endpoint); got != want {
			t.Errorf("EventsURL(%q) = %q, want %q", endpoint, got, want)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	event := testEvent()
	event.Extra = map[string]any{
		"kept":   "v",
		"absent": nil,
		"nested": map[string]any{"x": nil, "y": 1},
	}
	event.Breadcrumbs = []Breadcrumb{{
		Category:  "http",
		Message:   "GET /",
		Type:      "http",
		Level:     LevelInfo,
		Timestamp: time.Date(2024, 5, 1, 13, 0, 0, 0, time.FixedZone("CEST", 2*60*60)),
	}}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent returned error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}

	if got["timestamp"] != "2024-05-01T10:00:00Z" {
		t.Errorf("timestamp = %v, want UTC RFC 3339", got["timestamp"])
	}
	wantExtra := map[string]any{"kept": "v", "nested": map[string]any{"y": float64(1)}}
	if diff := cmp.Diff(wantExtra, got["extra"]); diff != "" {
		t.Errorf("extra mismatch (-want +got):\n%s", diff)
	}
	crumb := got["breadcrumbs"].([]any)[0].(map[string]any)
	if crumb["timestamp"] != "2024-05-01T11:00:00Z" {
		t.Errorf("breadcrumb timestamp = %v", crumb["timestamp"])
	}
	for _, absent := range []string{"request", "user", "fingerprint", "release"} {
		if _, ok := got[absent]; ok {
			t.Errorf("field %q should be omitted", absent)
		}
	}

	// The caller's event is not modified.
	if _, ok := event.Extra["absent"]; !ok {
		t.Error("EncodeEvent modified the event")
	}
}

func TestEncodeEvent_Nil(t *testing.T) {
	if _, err := EncodeEvent(nil); err == nil {
		t.Error("EncodeEvent(nil) should fail")
	}
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("refused")
	err := &DeliveryError{Err: cause}
	if !errors.Is(err, cause) {
		t.Error("DeliveryError does not unwrap")
	}
	if err.Error() != "bugwatch: delivery failed: refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}
