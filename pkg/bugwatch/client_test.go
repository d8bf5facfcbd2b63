package bugwatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sethvargo/go-envconfig"
)

// testTransport captures events for verification in tests.
type testTransport struct {
	mu      sync.Mutex
	events  []*Event
	sendErr error
	flushes int
	closed  bool
}

func (t *testTransport) Send(ctx context.Context, event *Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	return t.sendErr
}

func (t *testTransport) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushes++
	return nil
}

func (t *testTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *testTransport) getEvents() []*Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]*Event, len(t.events))
	copy(result, t.events)
	return result
}

// panicTransport fails inside the agent's own call path.
type panicTransport struct{ testTransport }

func (t *panicTransport) Send(ctx context.Context, event *Event) error {
	panic("transport bug")
}

// ValueError and KeyError stand in for application error types.
type ValueError struct{ msg string }

func (e *ValueError) Error() string { return e.msg }

type KeyError struct{ msg string }

func (e *KeyError) Error() string { return e.msg }

// newTestClient returns a client isolated from the process environment.
func newTestClient(t *testing.T, opts ...Option) (*Client, *testTransport) {
	t.Helper()
	transport := &testTransport{}
	base := []Option{
		WithAPIKey("test-key"),
		WithTransport(transport),
		WithLookuper(envconfig.MapLookuper(nil)),
	}
	c, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, transport
}

func TestClient_CaptureException_ValueError(t *testing.T) {
	c, transport := newTestClient(t)

	id := c.CaptureException(context.Background(), &ValueError{msg: "test error"})
	if len(id) != 32 {
		t.Fatalf("event id = %q, want 32 hex characters", id)
	}

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	event := events[0]

	if event.EventID != id {
		t.Errorf("EventID = %q, want %q", event.EventID, id)
	}
	if event.Exception == nil {
		t.Fatal("Exception is nil")
	}
	if event.Exception.Type != "ValueError" {
		t.Errorf("Exception.Type = %q, want %q", event.Exception.Type, "ValueError")
	}
	if event.Exception.Value != "test error" {
		t.Errorf("Exception.Value = %q, want %q", event.Exception.Value, "test error")
	}
	if event.Level != LevelError {
		t.Errorf("Level = %q, want %q", event.Level, LevelError)
	}
	if event.Message != "ValueError: test error" {
		t.Errorf("Message = %q, want %q", event.Message, "ValueError: test error")
	}
	if len(event.Fingerprint) != 32 {
		t.Errorf("Fingerprint = %q, want 32 hex characters", event.Fingerprint)
	}
	if event.Platform != "go" {
		t.Errorf("Platform = %q, want go", event.Platform)
	}
	if event.SDK == nil || event.SDK.Name != SDKName {
		t.Errorf("SDK = %+v, want name %q", event.SDK, SDKName)
	}
}

func TestClient_CaptureException_GroupsByNormalizedMessage(t *testing.T) {
	c, transport := newTestClient(t)

	messages := []string{
		"user 550e8400-e29b-41d4-a716-446655440000 not found",
		"user 6ba7b810-9dad-11d1-80b4-00c04fd430c8 not found",
	}
	for _, msg := range messages {
		c.CaptureException(context.Background(), &KeyError{msg: msg})
	}

	events := transport.getEvents()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Fingerprint != events[1].Fingerprint {
		t.Errorf("Fingerprints differ: %q vs %q", events[0].Fingerprint, events[1].Fingerprint)
	}
}

func TestClient_CaptureException_Nil(t *testing.T) {
	c, transport := newTestClient(t)

	if id := c.CaptureException(context.Background(), nil); id != "" {
		t.Errorf("CaptureException(nil) = %q, want empty", id)
	}
	if n := len(transport.getEvents()); n != 0 {
		t.Errorf("Expected no events, got %d", n)
	}
}

func TestClient_CaptureMessage_Breadcrumbs(t *testing.T) {
	c, transport := newTestClient(t)

	c.AddBreadcrumb("http", "GET /api/users", LevelInfo, nil)
	c.AddBreadcrumb("ui", "Button clicked", LevelDebug, nil)
	id := c.CaptureMessage(context.Background(), "test")
	if id == "" {
		t.Fatal("CaptureMessage returned empty id")
	}

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	crumbs := events[0].Breadcrumbs
	if len(crumbs) != 2 {
		t.Fatalf("Expected 2 breadcrumbs, got %d", len(crumbs))
	}
	if crumbs[0].Category != "http" || crumbs[0].Message != "GET /api/users" || crumbs[0].Level != LevelInfo {
		t.Errorf("breadcrumbs[0] = %+v", crumbs[0])
	}
	if crumbs[1].Category != "ui" || crumbs[1].Message != "Button clicked" || crumbs[1].Level != LevelDebug {
		t.Errorf("breadcrumbs[1] = %+v", crumbs[1])
	}

	event := events[0]
	if event.Level != LevelInfo {
		t.Errorf("Level = %q, want %q", event.Level, LevelInfo)
	}
	if event.Exception != nil {
		t.Error("Message event should have no exception")
	}
	if event.Fingerprint != "" {
		t.Errorf("Message event fingerprint = %q, want empty", event.Fingerprint)
	}
}

func TestClient_CaptureMessage_Empty(t *testing.T) {
	c, transport := newTestClient(t)

	if id := c.CaptureMessage(context.Background(), ""); id != "" {
		t.Errorf("CaptureMessage(\"\") = %q, want empty", id)
	}
	if n := len(transport.getEvents()); n != 0 {
		t.Errorf("Expected no events, got %d", n)
	}
}

func TestClient_SampleRateZero(t *testing.T) {
	hookCalls := 0
	c, transport := newTestClient(t,
		WithSampleRate(0),
		WithBeforeSend(func(e *Event) *Event {
			hookCalls++
			return e
		}),
	)

	for range 1000 {
		if id := c.CaptureMessage(context.Background(), "sampled"); id != "" {
			t.Fatalf("CaptureMessage returned %q at sample rate 0", id)
		}
	}
	if id := c.CaptureException(context.Background(), errors.New("sampled")); id != "" {
		t.Errorf("CaptureException returned %q at sample rate 0", id)
	}

	if n := len(transport.getEvents()); n != 0 {
		t.Errorf("Expected 0 sends, got %d", n)
	}
	if hookCalls != 0 {
		t.Errorf("before-send ran %d times for sampled out events", hookCalls)
	}
}

func TestClient_SampleRateOne(t *testing.T) {
	c, transport := newTestClient(t, WithSampleRate(1))

	for range 100 {
		if id := c.CaptureMessage(context.Background(), "kept"); id == "" {
			t.Fatal("CaptureMessage returned empty id at sample rate 1")
		}
	}
	if n := len(transport.getEvents()); n != 100 {
		t.Errorf("Expected 100 sends, got %d", n)
	}
}

func TestClient_SampleDraw(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		draw float64
		want bool
	}{
		{name: "draw below rate", rate: 0.5, draw: 0.2, want: true},
		{name: "draw equal to rate", rate: 0.5, draw: 0.5, want: true},
		{name: "draw above rate", rate: 0.5, draw: 0.7, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draw := tt.draw
			c, transport := newTestClient(t, WithSampleRate(tt.rate), withRandom(func() float64 { return draw }))

			id := c.CaptureMessage(context.Background(), "maybe")
			sent := len(transport.getEvents()) == 1
			if sent != tt.want || (id != "") != tt.want {
				t.Errorf("sent = %v, id = %q, want sent %v", sent, id, tt.want)
			}
		})
	}
}

func TestClient_BeforeSendDrop(t *testing.T) {
	c, transport := newTestClient(t, WithBeforeSend(func(*Event) *Event { return nil }))

	if id := c.CaptureException(context.Background(), errors.New("vetoed")); id != "" {
		t.Errorf("CaptureException = %q, want empty after veto", id)
	}
	if n := len(transport.getEvents()); n != 0 {
		t.Errorf("Expected 0 sends, got %d", n)
	}
}

func TestClient_BeforeSendMutation(t *testing.T) {
	c, transport := newTestClient(t, WithBeforeSend(func(e *Event) *Event {
		e.Tags["reviewed"] = "yes"
		return e
	}))

	c.CaptureMessage(context.Background(), "mutated")

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if got := events[0].Tags["reviewed"]; got != "yes" {
		t.Errorf("tag reviewed = %q, want yes", got)
	}
}

func TestClient_BeforeSendMutationDoesNotLeak(t *testing.T) {
	c, transport := newTestClient(t, WithBeforeSend(func(e *Event) *Event {
		for i := range e.Breadcrumbs {
			e.Breadcrumbs[i].Data["user"] = "changed"
		}
		if nested, ok := e.Extra["account"].(map[string]any); ok {
			nested["plan"] = "changed"
		}
		return e
	}))

	c.AddBreadcrumb("auth", "login", LevelInfo, map[string]any{"user": "alice"})
	c.SetExtra("account", map[string]any{"plan": "free"})

	ctx := context.Background()
	c.CaptureMessage(ctx, "first")
	c.CaptureMessage(ctx, "second")

	if got := c.trail.Snapshot()[0].Data["user"]; got != "alice" {
		t.Errorf("trail breadcrumb user = %v, want alice", got)
	}

	events := transport.getEvents()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if got := events[0].Breadcrumbs[0].Data["user"]; got != "changed" {
		t.Errorf("first event breadcrumb user = %v, want changed", got)
	}

	c.mu.RLock()
	plan := c.extra["account"].(map[string]any)["plan"]
	c.mu.RUnlock()
	if plan != "free" {
		t.Errorf("scope extra plan = %v, want free", plan)
	}
}

func TestClient_SetExtraCopiesCallerMap(t *testing.T) {
	c, transport := newTestClient(t)

	account := map[string]any{"plan": "free"}
	c.SetExtra("account", account)
	account["plan"] = "changed"

	c.CaptureMessage(context.Background(), "checkout")

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	got := events[0].Extra["account"].(map[string]any)["plan"]
	if got != "free" {
		t.Errorf("extra account plan = %v, want free", got)
	}
}

func TestClient_BeforeSendPanicDrops(t *testing.T) {
	c, transport := newTestClient(t, WithBeforeSend(func(*Event) *Event { panic("hook bug") }))

	if id := c.CaptureMessage(context.Background(), "boom"); id != "" {
		t.Errorf("CaptureMessage = %q, want empty", id)
	}
	if n := len(transport.getEvents()); n != 0 {
		t.Errorf("Expected 0 sends, got %d", n)
	}
}

func TestClient_TransportFailureKeepsID(t *testing.T) {
	c, transport := newTestClient(t)
	transport.sendErr = &DeliveryError{StatusCode: 500, Err: errors.New("server error")}

	if id := c.CaptureMessage(context.Background(), "undelivered"); id == "" {
		t.Error("CaptureMessage returned empty id on delivery failure")
	}
}

func TestClient_InternalFailureIsSwallowed(t *testing.T) {
	transport := &panicTransport{}
	c, err := NewClient(WithAPIKey("k"), WithTransport(transport), WithLookuper(envconfig.MapLookuper(nil)))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer c.Close()

	if id := c.CaptureMessage(context.Background(), "boom"); id != "" {
		t.Errorf("CaptureMessage = %q, want empty on internal failure", id)
	}
	if id := c.CaptureException(context.Background(), errors.New("boom")); id != "" {
		t.Errorf("CaptureException = %q, want empty on internal failure", id)
	}
}

func TestClient_TagLayering(t *testing.T) {
	c, transport := newTestClient(t, WithEnvironment("staging"))
	c.SetTag("a", "client")
	c.SetTag("b", "client")
	c.SetTag("c", "client")

	ctx := ContextWithTags(context.Background(), map[string]string{"b": "context", "c": "context"})
	c.CaptureMessage(ctx, "layered", WithTag("c", "call"))

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	tags := events[0].Tags
	want := map[string]string{"a": "client", "b": "context", "c": "call", "runtime": "go", "environment": "staging"}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}
	for _, k := range []string{"runtime.version", "os.platform", "os.name"} {
		if tags[k] == "" {
			t.Errorf("tag %s is missing", k)
		}
	}
}

func TestClient_ExtraLayering(t *testing.T) {
	c, transport := newTestClient(t)
	c.SetExtra("a", 1)
	c.SetExtra("b", 1)

	c.CaptureMessage(context.Background(), "extra", WithExtraValue("b", 2), WithLevel(LevelWarning))

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Extra["a"] != 1 || events[0].Extra["b"] != 2 {
		t.Errorf("Extra = %v", events[0].Extra)
	}
	if events[0].Level != LevelWarning {
		t.Errorf("Level = %q, want %q", events[0].Level, LevelWarning)
	}
}

func TestClient_UserAndRequestReplaced(t *testing.T) {
	c, transport := newTestClient(t)

	user := &UserContext{ID: "u1", Email: "a@example.com"}
	c.SetUser(user)
	c.SetUser(&UserContext{ID: "u2"})
	user.ID = "mutated"

	c.SetRequest(&RequestContext{URL: "https://example.com/a", Method: "GET"})
	c.CaptureMessage(context.Background(), "with scope")

	events := transport.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].User == nil || events[0].User.ID != "u2" || events[0].User.Email != "" {
		t.Errorf("User = %+v, want only the last user set", events[0].User)
	}
	if events[0].Request == nil || events[0].Request.Method != "GET" {
		t.Errorf("Request = %+v", events[0].Request)
	}

	c.SetUser(nil)
	c.CaptureMessage(context.Background(), "without user")
	if got := transport.getEvents()[1].User; got != nil {
		t.Errorf("User = %+v after SetUser(nil), want nil", got)
	}
}

func TestClient_ServerNameDefaultsToHostname(t *testing.T) {
	c, transport := newTestClient(t, WithServerName("web-1"))
	c.CaptureMessage(context.Background(), "named")

	if got := transport.getEvents()[0].ServerName; got != "web-1" {
		t.Errorf("ServerName = %q, want web-1", got)
	}
}

func TestClient_ClearBreadcrumbs(t *testing.T) {
	c, transport := newTestClient(t)
	c.AddBreadcrumb("db", "SELECT 1", LevelInfo, nil)
	c.ClearBreadcrumbs()
	c.CaptureMessage(context.Background(), "clean")

	if got := transport.getEvents()[0].Breadcrumbs; len(got) != 0 {
		t.Errorf("Breadcrumbs = %v, want none", got)
	}
}

func TestClient_Close(t *testing.T) {
	c, transport := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if !transport.closed {
		t.Error("transport was not closed")
	}
	if transport.flushes != 1 {
		t.Errorf("flushes = %d, want 1", transport.flushes)
	}
	if id := c.CaptureMessage(context.Background(), "after close"); id != "" {
		t.Errorf("CaptureMessage after Close = %q, want empty", id)
	}
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	_, err := NewClient(WithLookuper(envconfig.MapLookuper(nil)))
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("NewClient error = %v, want ErrMissingAPIKey", err)
	}
}

func TestNewClient_InvalidSampleRate(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.5} {
		_, err := NewClient(WithAPIKey("k"), WithSampleRate(rate), WithLookuper(envconfig.MapLookuper(nil)))
		if !errors.Is(err, ErrInvalidSampleRate) {
			t.Errorf("NewClient(rate=%v) error = %v, want ErrInvalidSampleRate", rate, err)
		}
	}
}

func TestNewClient_Environment(t *testing.T) {
	lookuper := envconfig.MapLookuper(map[string]string{
		"BUGWATCH_API_KEY":     "env-key",
		"BUGWATCH_ENVIRONMENT": "staging",
		"BUGWATCH_RELEASE":     "1.2.3",
		"BUGWATCH_SAMPLE_RATE": "0.25",
	})

	c, err := NewClient(WithLookuper(lookuper), WithTransport(&testTransport{}))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer c.Close()

	if c.cfg.apiKey != "env-key" {
		t.Errorf("apiKey = %q, want env-key", c.cfg.apiKey)
	}
	if c.cfg.environment != "staging" {
		t.Errorf("environment = %q, want staging", c.cfg.environment)
	}
	if c.cfg.release != "1.2.3" {
		t.Errorf("release = %q, want 1.2.3", c.cfg.release)
	}
	if c.cfg.sampleRate != 0.25 {
		t.Errorf("sampleRate = %v, want 0.25", c.cfg.sampleRate)
	}
	if c.cfg.endpoint != DefaultEndpoint {
		t.Errorf("endpoint = %q, want %q", c.cfg.endpoint, DefaultEndpoint)
	}
}

func TestNewClient_OptionsOverrideEnvironment(t *testing.T) {
	lookuper := envconfig.MapLookuper(map[string]string{
		"BUGWATCH_API_KEY":     "env-key",
		"BUGWATCH_ENVIRONMENT": "staging",
	})

	c, err := NewClient(
		WithLookuper(lookuper),
		WithTransport(&testTransport{}),
		WithAPIKey("explicit-key"),
		WithEnvironment("production"),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer c.Close()

	if c.cfg.apiKey != "explicit-key" {
		t.Errorf("apiKey = %q, want explicit-key", c.cfg.apiKey)
	}
	if c.tags["environment"] != "production" {
		t.Errorf("environment tag = %q, want production", c.tags["environment"])
	}
}

func TestOSName(t *testing.T) {
	tests := map[string]string{
		"linux":   "Linux",
		"darwin":  "Darwin",
		"windows": "Windows",
		"plan9":   "Plan9",
		"":        "",
	}
	for goos, want := range tests {
		if got := osName(goos); got != want {
			t.Errorf("osName(%q) = %q, want %q", goos, got, want)
		}
	}
}

func TestNewEventID(t *testing.T) {
	a, b := newEventID(), newEventID()
	if len(a) != 32 {
		t.Errorf("newEventID() = %q, want 32 characters", a)
	}
	if a == b {
		t.Error("newEventID returned the same id twice")
	}
}
