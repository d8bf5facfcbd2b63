// system.go captures process state attached to events.

package bugwatch

import (
	"os"
	"runtime"
	"time"
)

// SystemState captures process metrics at the time of an event.
type SystemState struct {
	// MemoryBytes is the current heap allocation in bytes.
	MemoryBytes int64 `json:"memory_bytes"`

	// GoroutineCount is the number of live goroutines.
	GoroutineCount int `json:"goroutines"`

	// UptimeMs is the time since the client was created, in milliseconds.
	UptimeMs int64 `json:"uptime_ms"`

	// HostName is the hostname of the machine where the event occurred.
	HostName string `json:"hostname,omitempty"`
}

// CaptureSystemState captures process metrics at the current moment.
// startTime is used to calculate uptime.
func CaptureSystemState(startTime time.Time) *SystemState {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, _ := os.Hostname() // empty hostname is acceptable

	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}

	return &SystemState{
		MemoryBytes:    int64(memStats.Alloc),
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       uptimeMs,
		HostName:       hostname,
	}
}

// asExtra renders the state as a free-form map for Event.Extra.
func (s *SystemState) asExtra() map[string]any {
	m := map[string]any{
		"memory_bytes": s.MemoryBytes,
		"goroutines":   s.GoroutineCount,
		"uptime_ms":    s.UptimeMs,
	}
	if s.HostName != "" {
		m["hostname"] = s.HostName
	}
	return m
}
