// Package ralph implements completion signalling for workers: short-lived
// tokens that a worker uses to report its own progress, structured signal
// merging into the worker record, and the children status roll-up parents
// poll instead of reading raw output.
package ralph

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// TokenTTL is how long a completion token stays valid after issue.
const TokenTTL = 4 * time.Hour

// tokenLength is the length of issued tokens.
const tokenLength = 10

// tokenAlphabet excludes ambiguous characters; tokens end up in shell
// commands typed by agents.
const tokenAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ErrUnknownToken is returned for tokens that were never issued, already
// consumed, or expired.
var ErrUnknownToken = errors.New("unknown or expired token")

type tokenEntry struct {
	workerID  string
	createdAt time.Time
}

// TokenStore maps live completion tokens to worker ids. Tokens are
// single-issue: a terminal signal consumes them.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]tokenEntry)}
}

// Issue generates and registers a token for the worker.
func (s *TokenStore) Issue(workerID string) string {
	token := randomToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = tokenEntry{workerID: workerID, createdAt: time.Now()}
	return token
}

// Adopt re-registers a token restored from a snapshot. The TTL restarts;
// the original issue time is not persisted.
func (s *TokenStore) Adopt(token, workerID string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = tokenEntry{workerID: workerID, createdAt: time.Now()}
}

// Resolve returns the worker id behind a token.
func (s *TokenStore) Resolve(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok || time.Since(entry.createdAt) > TokenTTL {
		delete(s.tokens, token)
		return "", ErrUnknownToken
	}
	return entry.workerID, nil
}

// Consume deletes a token after a terminal signal. Missing tokens are
// ignored; consume must be idempotent.
func (s *TokenStore) Consume(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// RevokeWorker drops any tokens issued to the worker (kill path).
func (s *TokenStore) RevokeWorker(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, entry := range s.tokens {
		if entry.workerID == workerID {
			delete(s.tokens, token)
		}
	}
}

// SweepExpired removes entries past the TTL and returns the count.
func (s *TokenStore) SweepExpired() int {
	cutoff := time.Now().Add(-TokenTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, entry := range s.tokens {
		if entry.createdAt.Before(cutoff) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of live tokens.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func randomToken() string {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken; fall back to a
		// time-derived token rather than crash the spawn path.
		now := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(now >> (i * 7))
		}
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
