// Package tmux wraps the tmux binary behind a narrow, validated interface.
// Every call goes through exec with an argv (never a shell string), is
// bounded by a timeout, and classifies failures into sentinel errors.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// callTimeout bounds every tmux invocation. A hung tmux server must not
// stall capture loops indefinitely.
const callTimeout = 10 * time.Second

var sessionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Runner executes tmux sessions. The engine depends on this interface so
// tests can substitute a fake multiplexer.
type Runner interface {
	CreateSession(ctx context.Context, name, cwd string, cols, rows int, command string, args ...string) error
	SendKeys(ctx context.Context, name string, keys ...string) error
	SendText(ctx context.Context, name, text string) error
	CapturePane(ctx context.Context, name string) (string, error)
	Resize(ctx context.Context, name string, cols, rows int) error
	KillSession(ctx context.Context, name string) error
	ListSessions(ctx context.Context) ([]string, error)
	HasSession(ctx context.Context, name string) bool
	PaneCommand(ctx context.Context, name string) (string, error)
	Breaker() *Breaker
}

// Client is the production Runner backed by the tmux binary.
type Client struct {
	bin     string
	breaker *Breaker
}

// NewClient creates a tmux client. The breaker opens after 5 failures in
// 30 seconds and cools down for 60.
func NewClient() *Client {
	return &Client{
		bin:     "tmux",
		breaker: NewBreaker(5, 30*time.Second, 60*time.Second),
	}
}

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *Breaker { return c.breaker }

// ValidateSessionName reports whether a name is safe to pass to tmux.
func ValidateSessionName(name string) error {
	if name == "" || len(name) > 128 || !sessionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, name)
	}
	return nil
}

// CreateSession starts a detached session running command in cwd with the
// given pane geometry.
func (c *Client) CreateSession(ctx context.Context, name, cwd string, cols, rows int, command string, args ...string) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	argv := []string{
		"new-session", "-d",
		"-s", name,
		"-c", cwd,
		"-x", strconv.Itoa(cols),
		"-y", strconv.Itoa(rows),
		command,
	}
	argv = append(argv, args...)
	_, err := c.run(ctx, "create-session", argv...)
	return err
}

// SendKeys sends a key or literal sequence to the session's active pane.
// Callers pass tmux key names ("Enter", "C-c") or literal text.
func (c *Client) SendKeys(ctx context.Context, name string, keys ...string) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if !c.breaker.Allow() {
		return ErrBreakerOpen
	}
	argv := append([]string{"send-keys", "-t", name}, keys...)
	_, err := c.run(ctx, "send-keys", argv...)
	c.record(err)
	return err
}

// SendText sends literal text to the session without tmux key-name
// interpretation, so input lines cannot smuggle key bindings.
func (c *Client) SendText(ctx context.Context, name, text string) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if !c.breaker.Allow() {
		return ErrBreakerOpen
	}
	_, err := c.run(ctx, "send-keys", "send-keys", "-t", name, "-l", text)
	c.record(err)
	return err
}

// CapturePane returns the current pane contents including escape sequences.
func (c *Client) CapturePane(ctx context.Context, name string) (string, error) {
	if err := ValidateSessionName(name); err != nil {
		return "", err
	}
	if !c.breaker.Allow() {
		return "", ErrBreakerOpen
	}
	out, err := c.run(ctx, "capture-pane", "capture-pane", "-t", name, "-p", "-e")
	c.record(err)
	return out, err
}

// Resize changes the session's window geometry.
func (c *Client) Resize(ctx context.Context, name string, cols, rows int) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	if cols < 20 || rows < 5 || cols > 1000 || rows > 1000 {
		return fmt.Errorf("resize: geometry %dx%d out of range", cols, rows)
	}
	_, err := c.run(ctx, "resize-window", "resize-window", "-t", name,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	return err
}

// KillSession terminates the session. Killing an absent session is not an
// error; kill must be idempotent.
func (c *Client) KillSession(ctx context.Context, name string) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "kill-session", "kill-session", "-t", name)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// ListSessions returns the names of all live sessions.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "list-sessions", "list-sessions", "-F", "#{session_name}")
	if errors.Is(err, ErrSessionNotFound) {
		// No server running means no sessions.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(ctx context.Context, name string) bool {
	if err := ValidateSessionName(name); err != nil {
		return false
	}
	_, err := c.run(ctx, "has-session", "has-session", "-t", name)
	return err == nil
}

// PaneCommand returns the command currently running in the session's
// active pane. Used by diagnostics to verify the backend is still up.
func (c *Client) PaneCommand(ctx context.Context, name string) (string, error) {
	if err := ValidateSessionName(name); err != nil {
		return "", err
	}
	out, err := c.run(ctx, "pane-command", "display-message", "-t", name, "-p", "#{pane_current_command}")
	return strings.TrimSpace(out), err
}

// SessionCwd returns the working directory of the session's active pane.
// Best-effort; used by the discovery pass to label adopted sessions.
func (c *Client) SessionCwd(ctx context.Context, name string) (string, error) {
	if err := ValidateSessionName(name); err != nil {
		return "", err
	}
	out, err := c.run(ctx, "session-cwd", "display-message", "-t", name, "-p", "#{pane_current_path}")
	return strings.TrimSpace(out), err
}

func (c *Client) run(ctx context.Context, op string, argv ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if err != nil {
		return "", classifyExecError(op, stderr.String(), err)
	}
	return stdout.String(), nil
}

// record feeds the breaker. Not-found is a state observation, not a tmux
// fault, so it does not count against the window.
func (c *Client) record(err error) {
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrInvalidSessionName):
	default:
		c.breaker.RecordFailure()
	}
}
