// Package ratelimit applies per-caller token buckets to control-plane
// operations. Limits are advisory safety valves against runaway clients
// (including workers driving the API themselves); exceeding one returns a
// non-fatal error to the caller and never back-pressures capture.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a caller exhausts an operation bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Op names the rate-limited operations.
type Op string

// Rate-limited operations.
const (
	OpSpawn    Op = "spawn"
	OpKill     Op = "kill"
	OpInput    Op = "input"
	OpRawInput Op = "rawInput"
	OpResize   Op = "resize"
	OpSettings Op = "settings"
)

// limit is max operations per window.
type limit struct {
	max    int
	window time.Duration
}

var defaultLimits = map[Op]limit{
	OpSpawn:    {5, time.Minute},
	OpKill:     {10, time.Minute},
	OpInput:    {30, time.Second},
	OpRawInput: {60, time.Second},
	OpResize:   {5, time.Second},
	OpSettings: {5, time.Second},
}

// Limiter holds one token bucket per (caller, op) pair. Idle buckets are
// dropped by a periodic prune so the map does not grow with caller churn.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limits  map[Op]limit
}

type bucket struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// NewLimiter creates a limiter with the default limits.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		limits:  defaultLimits,
	}
}

// Allow reports whether caller may perform op now, consuming a token if so.
// Unknown ops are always allowed.
func (l *Limiter) Allow(caller string, op Op) bool {
	cfg, ok := l.limits[op]
	if !ok {
		return true
	}

	key := caller + "|" + string(op)
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(cfg.window/time.Duration(cfg.max)), cfg.max)}
		l.buckets[key] = b
	}
	b.lastUsed = time.Now()
	l.mu.Unlock()

	return b.lim.Allow()
}

// Check is Allow returning ErrRateLimited instead of false.
func (l *Limiter) Check(caller string, op Op) error {
	if !l.Allow(caller, op) {
		return ErrRateLimited
	}
	return nil
}

// Prune drops buckets idle longer than maxIdle. Returns the drop count.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for key, b := range l.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}
