// source.go reads and caches source lines used as frame context.

package bugwatch

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

const (
	contextLines   = 3
	maxCachedFiles = 256
)

// sourceCache holds the lines of source files read for frame context.
// Unreadable files are cached as nil so they are not retried.
type sourceCache struct {
	mu    sync.Mutex
	files map[string][]string
}

// sharedSources serves extractions that were not given a cache of their own.
var sharedSources = newSourceCache()

func newSourceCache() *sourceCache {
	return &sourceCache{files: make(map[string][]string)}
}

// lines returns the lines of file, reading it on first use.
func (c *sourceCache) lines(file string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lines, ok := c.files[file]; ok {
		return lines
	}
	if len(c.files) >= maxCachedFiles {
		clear(c.files)
	}

	lines := readLines(file)
	c.files[file] = lines
	return lines
}

func readLines(file string) []string {
	f, err := os.Open(file)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() != nil {
		return nil
	}
	return lines
}

// annotate fills the context fields of frame from its source file: the
// faulting line plus up to three lines before and after it.
func (c *sourceCache) annotate(frame *StackFrame) {
	if frame.Filename == "" || frame.Lineno <= 0 {
		return
	}
	lines := c.lines(frame.Filename)
	idx := frame.Lineno - 1
	if idx >= len(lines) {
		return
	}

	frame.ContextLine = strings.TrimRight(lines[idx], " \t\r")

	start := max(0, idx-contextLines)
	if start < idx {
		frame.PreContext = trimLines(lines[start:idx])
	}
	end := min(len(lines), idx+1+contextLines)
	if idx+1 < end {
		frame.PostContext = trimLines(lines[idx+1 : end])
	}
}

func trimLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, " \t\r")
	}
	return out
}
