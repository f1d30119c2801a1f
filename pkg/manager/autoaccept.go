package manager

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/worker"
)

// autoAcceptTail is how many trailing ANSI-stripped bytes are inspected
// for confirmation prompts.
const autoAcceptTail = 500

// autoAcceptHashClear is how long an accepted prompt's hash blocks
// re-acceptance. The pane usually redraws within a tick; the clear stops
// a stuck prompt from being answered exactly once and then ignored
// forever, while still preventing a double answer within one redraw.
const autoAcceptHashClear = 1500 * time.Millisecond

// maybeAutoAccept inspects the pane tail and answers a pending
// confirmation prompt. Pause keywords suspend acceptance entirely; the
// assistant is planning or asking a real question.
func (m *Manager) maybeAutoAccept(ctx context.Context, id, sessionName string, be backend.Backend, stripped string) {
	tail := stripped
	if len(tail) > autoAcceptTail {
		tail = tail[len(tail)-autoAcceptTail:]
	}

	lowered := strings.ToLower(tail)
	for _, kw := range be.PauseKeywords() {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			var wasPaused bool
			updated := m.registry.Update(id, func(w *worker.Worker) {
				wasPaused = w.AutoAcceptPaused
				w.AutoAcceptPaused = true
			})
			if updated != nil && !wasPaused {
				m.bus.Publish(events.WorkerUpdated, id, updated)
			}
			return
		}
	}

	var matched bool
	var wantsYes bool
	for _, re := range be.AcceptPatterns() {
		if re.MatchString(tail) {
			matched = true
			wantsYes = strings.Contains(strings.ToLower(re.String()), "y/n")
			break
		}
	}

	// Resume once the pause keywords are gone from the tail.
	var wasPaused bool
	updated := m.registry.Update(id, func(w *worker.Worker) {
		wasPaused = w.AutoAcceptPaused
		w.AutoAcceptPaused = false
	})
	if updated == nil {
		return
	}
	if wasPaused {
		m.bus.Publish(events.WorkerUpdated, id, updated)
	}
	if !matched {
		return
	}

	hash := xxhash.Sum64String(tail)
	accepted := false
	m.registry.Update(id, func(w *worker.Worker) {
		if w.LastAutoAcceptHash == hash {
			return
		}
		w.LastAutoAcceptHash = hash
		w.LastActivity = time.Now()
		accepted = true
	})
	if !accepted {
		return
	}

	if wantsYes {
		if err := m.mux.SendText(ctx, sessionName, "y"); err != nil {
			slog.Warn("Auto-accept send failed", "worker_id", id, "error", err)
			return
		}
	}
	if err := m.mux.SendKeys(ctx, sessionName, "Enter"); err != nil {
		slog.Warn("Auto-accept send failed", "worker_id", id, "error", err)
		return
	}
	slog.Info("Auto-accepted prompt", "worker_id", id, "yes", wantsYes)

	time.AfterFunc(autoAcceptHashClear, func() {
		m.registry.Update(id, func(w *worker.Worker) {
			if w.LastAutoAcceptHash == hash {
				w.LastAutoAcceptHash = 0
			}
		})
	})
}
