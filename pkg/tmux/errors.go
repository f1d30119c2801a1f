package tmux

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tmux operations. Callers classify failures with
// errors.Is instead of string matching.
var (
	// ErrSessionNotFound indicates the named session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates a create collided with a live session.
	ErrSessionExists = errors.New("session already exists")

	// ErrTimeout indicates the tmux call exceeded its deadline.
	ErrTimeout = errors.New("tmux call timed out")

	// ErrInvalidSessionName indicates the name failed validation.
	ErrInvalidSessionName = errors.New("invalid session name")

	// ErrBreakerOpen indicates the circuit breaker is rejecting calls.
	ErrBreakerOpen = errors.New("tmux circuit breaker open")
)

// classifyExecError maps raw tmux stderr to a sentinel error. Unknown
// failures are wrapped so the original text survives for logging.
func classifyExecError(op string, stderr string, err error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "can't find session"),
		strings.Contains(msg, "session not found"),
		strings.Contains(msg, "no server running"):
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	case strings.Contains(msg, "duplicate session"):
		return fmt.Errorf("%s: %w", op, ErrSessionExists)
	default:
		if stderr != "" {
			return fmt.Errorf("%s: %w: %s", op, err, strings.TrimSpace(stderr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
}
