package tmux

import (
	"log/slog"
	"sync"
	"time"
)

// Breaker is a sliding-window circuit breaker over tmux send/capture calls.
// When tmux itself is wedged (server hung, disk full) every per-worker
// capture loop would otherwise keep queueing doomed calls; tripping the
// breaker lets the engine degrade instead of looping.
type Breaker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	cooldown  time.Duration
	failures  []time.Time
	openUntil time.Time
}

// BreakerState is a snapshot for diagnostics.
type BreakerState struct {
	Open           bool      `json:"open"`
	RecentFailures int       `json:"recentFailures"`
	OpenUntil      time.Time `json:"openUntil,omitzero"`
}

// NewBreaker creates a breaker that opens after threshold failures within
// window and stays open for cooldown.
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		window:    window,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

// RecordSuccess clears the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
}

// RecordFailure registers a failure and trips the breaker if the window
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= b.threshold && now.After(b.openUntil) {
		b.openUntil = now.Add(b.cooldown)
		slog.Warn("tmux circuit breaker tripped",
			"failures", len(b.failures),
			"window", b.window,
			"cooldown", b.cooldown)
	}
}

// State returns a snapshot of the breaker for diagnostics.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-b.window)
	recent := 0
	for _, t := range b.failures {
		if t.After(cutoff) {
			recent++
		}
	}
	st := BreakerState{
		Open:           now.Before(b.openUntil),
		RecentFailures: recent,
	}
	if st.Open {
		st.OpenUntil = b.openUntil
	}
	return st
}
