package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// activityCapacity is the fixed size of the in-memory activity ring.
const activityCapacity = 100

// ActivityType classifies an activity entry.
type ActivityType string

// Activity entry types.
const (
	ActivityStarted   ActivityType = "worker_started"
	ActivityPending   ActivityType = "worker_pending"
	ActivityStopped   ActivityType = "worker_stopped"
	ActivityCompleted ActivityType = "worker_completed"
	ActivityError     ActivityType = "error"
)

// ActivityEntry is one row of the append-only activity ring.
type ActivityEntry struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        ActivityType `json:"type"`
	WorkerID    string       `json:"workerId,omitempty"`
	WorkerLabel string       `json:"workerLabel,omitempty"`
	Project     string       `json:"project,omitempty"`
	Message     string       `json:"message"`
}

// ActivityLog is a bounded ring of recent lifecycle activity. Oldest
// entries are discarded once the ring is full.
type ActivityLog struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

// NewActivityLog creates an empty activity log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

// Record appends an entry and returns it with id and timestamp filled in.
func (l *ActivityLog) Record(t ActivityType, workerID, label, project, message string) ActivityEntry {
	entry := ActivityEntry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        t,
		WorkerID:    workerID,
		WorkerLabel: label,
		Project:     project,
		Message:     message,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > activityCapacity {
		l.entries = l.entries[len(l.entries)-activityCapacity:]
	}
	return entry
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (l *ActivityLog) Recent(limit int) []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ActivityEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}
