package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/tmux"
	"github.com/agentmux/agentmux/pkg/worker"
)

// captureGrace is how long after spawn a missing session is tolerated;
// tmux needs a moment before the pane is capturable.
const captureGrace = 5 * time.Second

// tickHashTail is how many trailing bytes feed the per-tick change hash.
// Length plus tail catches both appends and in-place pane redraws.
const tickHashTail = 100

// runCaptureLoop polls the worker's pane at the capture tick, maintains
// the in-memory buffer, persists changed output, and drives auto-accept.
func (m *Manager) runCaptureLoop(ctx context.Context, id string, be backend.Backend) {
	ticker := time.NewTicker(m.cfg.CaptureTick)
	defer ticker.Stop()

	startedAt := time.Now()
	var lastTickHash string

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w := m.registry.Get(id)
			if w == nil {
				return
			}

			raw, err := m.mux.CapturePane(ctx, w.TmuxSession)
			if err != nil {
				if errors.Is(err, tmux.ErrBreakerOpen) {
					continue
				}
				if errors.Is(err, tmux.ErrSessionNotFound) {
					if time.Since(startedAt) < captureGrace {
						continue
					}
					m.handleDeadSession(id, w)
					return
				}
				slog.Warn("Pane capture failed", "worker_id", id, "error", err)
				continue
			}

			// Auto-accept runs on every tick, unchanged ones included:
			// a prompt that holds the pane still must be retried once
			// its accept hash clears.
			stripped := tmux.StripANSI(raw)
			if w.AutoAccept {
				m.maybeAutoAccept(ctx, id, w.TmuxSession, be, stripped)
			}

			hash := tickHash(raw)
			if hash == lastTickHash {
				continue
			}
			lastTickHash = hash

			m.mu.Lock()
			buf := m.buffers[id]
			sessionID := m.outputSessions[id]
			m.mu.Unlock()
			if buf != nil {
				buf.Replace(raw)
			}

			now := time.Now()
			m.registry.Update(id, func(w *worker.Worker) {
				w.LastOutput = now
				w.LastActivity = now
			})

			if sessionID != "" {
				if _, err := m.store.AppendChunk(ctx, sessionID, id, stripped, "stdout"); err != nil {
					slog.Warn("Output chunk persist failed", "worker_id", id, "error", err)
				}
			}

			m.bus.Publish(events.WorkerOutput, id, events.OutputPayload{
				WorkerID: id,
				Content:  raw,
			})
		}
	}
}

// handleDeadSession marks a worker whose session vanished and schedules
// its removal after a pause so operators can inspect the final state.
// The capture and health loops can both spot the same death; the first
// detection wins and later ones return quietly.
func (m *Manager) handleDeadSession(id string, w *worker.Worker) {
	var alreadyDead bool
	updated := m.registry.Update(id, func(w *worker.Worker) {
		alreadyDead = w.Health == worker.HealthDead
		if w.Status == worker.StatusRunning {
			w.Status = worker.StatusError
		}
		w.Health = worker.HealthDead
	})
	if updated == nil || alreadyDead {
		return
	}
	entry := m.activity.Record(worker.ActivityError, id, w.Label, w.Project, "tmux session died")
	m.bus.Publish(events.WorkerUpdated, id, updated)
	m.bus.Publish(events.ActivityNew, id, entry)
	slog.Warn("Worker session died", "worker_id", id, "session", w.TmuxSession)

	time.AfterFunc(deadWorkerCleanupDelay, func() {
		current := m.registry.Get(id)
		if current == nil || current.Health != worker.HealthDead {
			return
		}
		ctx, cancel := context.WithTimeout(m.baseCtx(), 15*time.Second)
		defer cancel()
		if err := m.Kill(ctx, id, true); err != nil && !errors.Is(err, ErrWorkerNotFound) {
			slog.Warn("Dead worker cleanup failed", "worker_id", id, "error", err)
		}
	})
}

// tickHash is the cheap per-tick change detector. It is loop-local state,
// not the auto-accept hash.
func tickHash(raw string) string {
	tail := raw
	if len(tail) > tickHashTail {
		tail = tail[len(tail)-tickHashTail:]
	}
	return fmt.Sprintf("%d:%s", len(raw), tail)
}
