// scrubber.go implements fail-closed redaction of secrets and PII in events.

package bugwatch

import (
	"regexp"
	"strings"
)

const (
	redacted          = "[REDACTED]"
	redactedScrubFail = "[REDACTED:SCRUB_ERROR]"
	truncationMarker  = "...[TRUNCATED]"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// SensitiveKeys are additional case-insensitive substrings that mark a
	// map key, header or local variable name as sensitive.
	SensitiveKeys []string

	// MaxMessageSize is the maximum length of messages and fault values (default: 4096).
	MaxMessageSize int

	// MaxValueSize is the maximum length of string values in tags, extra and
	// breadcrumb data (default: 1024).
	MaxValueSize int

	// ScrubMessages enables pattern-based redaction of free text (default: true).
	ScrubMessages bool

	// NormalizePaths strips user-specific directories from frame filenames (default: true).
	NormalizePaths bool

	// FailClosed replaces a field with a redaction marker when scrubbing it fails (default: true).
	FailClosed bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize: 4096,
		MaxValueSize:   1024,
		ScrubMessages:  true,
		NormalizePaths: true,
		FailClosed:     true,
	}
}

// Free-text patterns, compiled once.
var textScrubPatterns = []*regexp.Regexp{
	// Credentials in key=value or header form
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-.]+['"]?\s+['"]?[\w\-.]+['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|credential)[=:\s]+['"]?[^\s'",]+['"]?`),

	// Vendor token formats
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)gh[po]_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
}

// Key substrings that mark a value as sensitive.
var sensitiveKeySubstrings = []string{
	"token",
	"key",
	"secret",
	"password",
	"passwd",
	"credential",
	"auth",
	"cookie",
	"session",
}

// User home and temp directories removed from frame filenames.
var userPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/home/[^/]+/`),
	regexp.MustCompile(`/Users/[^/]+/`),
	regexp.MustCompile(`C:\\Users\\[^\\]+\\`),
	regexp.MustCompile(`/tmp/[^/]+/`),
}

// Scrubber redacts sensitive data from events before they are sent.
// A Scrubber is safe for concurrent use.
type Scrubber struct {
	cfg ScrubberConfig
}

// NewScrubber creates a scrubber with the given configuration. Zero size
// limits fall back to the defaults.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	def := DefaultScrubberConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	return &Scrubber{cfg: cfg}
}

// Scrub redacts event in place. The event must not be shared.
func (s *Scrubber) Scrub(event *Event) {
	if event == nil {
		return
	}

	s.guard(func() { event.Message = s.ScrubMessage(event.Message) }, func() { event.Message = redactedScrubFail })

	if exc := event.Exception; exc != nil {
		s.guard(func() { exc.Value = s.ScrubMessage(exc.Value) }, func() { exc.Value = redactedScrubFail })
		for i := range exc.Stacktrace {
			frame := &exc.Stacktrace[i]
			if s.cfg.NormalizePaths {
				frame.Filename = NormalizePath(frame.Filename)
			}
			if frame.Vars != nil {
				s.guard(func() { frame.Vars = s.ScrubMap(frame.Vars) }, func() { frame.Vars = map[string]any{"vars": redactedScrubFail} })
			}
			s.guard(func() {
				frame.ContextLine = s.ScrubMessage(frame.ContextLine)
				s.scrubLines(frame.PreContext)
				s.scrubLines(frame.PostContext)
			}, func() {
				frame.ContextLine, frame.PreContext, frame.PostContext = "", nil, nil
			})
		}
	}

	if event.Tags != nil {
		event.Tags = s.ScrubStrings(event.Tags)
	}
	if event.Extra != nil {
		s.guard(func() { event.Extra = s.ScrubMap(event.Extra) }, func() { event.Extra = map[string]any{"extra": redactedScrubFail} })
	}

	if req := event.Request; req != nil {
		req.Headers = s.ScrubStrings(req.Headers)
		req.Cookies = redactAll(req.Cookies)
		req.Env = s.ScrubStrings(req.Env)
		req.QueryString = s.ScrubMessage(req.QueryString)
		if req.Data != nil {
			s.guard(func() { req.Data = s.ScrubMap(req.Data) }, func() { req.Data = map[string]any{"data": redactedScrubFail} })
		}
	}

	if user := event.User; user != nil && user.Extra != nil {
		s.guard(func() { user.Extra = s.ScrubMap(user.Extra) }, func() { user.Extra = nil })
	}

	for i := range event.Breadcrumbs {
		b := &event.Breadcrumbs[i]
		b.Message = s.ScrubMessage(b.Message)
		if b.Data != nil {
			s.guard(func() { b.Data = s.ScrubMap(b.Data) }, func() { b.Data = map[string]any{"data": redactedScrubFail} })
		}
	}
}

// scrubLines scrubs source lines in place.
func (s *Scrubber) scrubLines(lines []string) {
	for i, line := range lines {
		lines[i] = s.ScrubMessage(line)
	}
}

// guard runs scrub, and on panic runs redact when failing closed.
func (s *Scrubber) guard(scrub, redact func()) {
	defer func() {
		if r := recover(); r != nil && s.cfg.FailClosed {
			redact()
		}
	}()
	scrub()
}

// ScrubMessage truncates msg and redacts secrets and PII patterns in it.
func (s *Scrubber) ScrubMessage(msg string) string {
	if msg == "" {
		return msg
	}
	msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	if !s.cfg.ScrubMessages {
		return msg
	}
	for _, pattern := range textScrubPatterns {
		msg = pattern.ReplaceAllString(msg, redacted)
	}
	return msg
}

// ScrubStrings redacts sensitive keys of a string map and scrubs the rest.
func (s *Scrubber) ScrubStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	result := make(map[string]string, len(m))
	for key, value := range m {
		if s.isSensitiveKey(key) {
			result[key] = redacted
			continue
		}
		result[key] = s.ScrubMessage(truncateWithMarker(value, s.cfg.MaxValueSize))
	}
	return result
}

// ScrubMap recursively scrubs a free-form map: values under sensitive keys
// are replaced entirely and strings are pattern scrubbed.
func (s *Scrubber) ScrubMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for key, value := range m {
		if s.isSensitiveKey(key) {
			result[key] = redacted
			continue
		}
		result[key] = s.scrubValue(value)
	}
	return result
}

func (s *Scrubber) scrubValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return s.ScrubMap(v)
	case map[string]string:
		return s.ScrubStrings(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.scrubValue(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = s.ScrubMessage(truncateWithMarker(item, s.cfg.MaxValueSize))
		}
		return out
	case string:
		return s.ScrubMessage(truncateWithMarker(v, s.cfg.MaxValueSize))
	default:
		// Numbers, booleans and nil pass through
		return v
	}
}

// isSensitiveKey checks if a key matches sensitive patterns.
func (s *Scrubber) isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeySubstrings {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	for _, pattern := range s.cfg.SensitiveKeys {
		if pattern != "" && strings.Contains(keyLower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// NormalizePath replaces user-specific directory prefixes with "/[PATH]/".
func NormalizePath(path string) string {
	for _, pattern := range userPathPatterns {
		path = pattern.ReplaceAllString(path, "/[PATH]/")
	}
	return path
}

func redactAll(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	result := make(map[string]string, len(m))
	for key := range m {
		result[key] = redacted
	}
	return result
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncationMarker) {
		return truncationMarker[:maxLen]
	}
	return s[:maxLen-len(truncationMarker)] + truncationMarker
}
