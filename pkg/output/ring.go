// Package output captures worker terminal output: a tail-biased in-memory
// buffer per worker for fast reads, and an append-only sqlite store for
// history, deduplicated by content hash.
package output

import (
	"strings"
	"sync"
)

// DefaultBufferLimit caps the in-memory buffer per worker. Tail-biased:
// when the limit is exceeded the oldest bytes are discarded.
const DefaultBufferLimit = 2 << 20 // 2 MiB

// Buffer holds the most recent pane contents for one worker. The capture
// loop is the only writer; readers take snapshots under an RLock.
type Buffer struct {
	mu    sync.RWMutex
	data  string
	limit int
}

// NewBuffer creates a buffer with the default size limit.
func NewBuffer() *Buffer {
	return &Buffer{limit: DefaultBufferLimit}
}

// Replace swaps in a fresh pane snapshot, trimming from the front if over
// the limit.
func (b *Buffer) Replace(content string) {
	if len(content) > b.limit {
		content = content[len(content)-b.limit:]
	}
	b.mu.Lock()
	b.data = content
	b.mu.Unlock()
}

// Snapshot returns the full buffered contents.
func (b *Buffer) Snapshot() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// TailLines returns the last n lines of the buffer.
func (b *Buffer) TailLines(n int) string {
	b.mu.RLock()
	data := b.data
	b.mu.RUnlock()
	if n <= 0 {
		return data
	}
	lines := strings.Split(data, "\n")
	if len(lines) <= n {
		return data
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// Len returns the current buffered byte count.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
