package manager

import (
	"context"
	"time"

	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/worker"
)

// stallThreshold is how long without pane output before a running worker
// is classified stalled. Stalled is advisory; only a vanished session is
// dead.
const stallThreshold = 5 * time.Minute

// runHealthLoop reclassifies one worker's health at the health tick.
func (m *Manager) runHealthLoop(ctx context.Context, id string) {
	ticker := time.NewTicker(m.cfg.HealthTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w := m.registry.Get(id)
			if w == nil {
				return
			}
			if w.Status != worker.StatusRunning {
				continue
			}

			if !m.mux.HasSession(ctx, w.TmuxSession) {
				m.handleDeadSession(id, w)
				return
			}

			health := healthFor(w)
			if health == w.Health {
				continue
			}
			updated := m.registry.Update(id, func(w *worker.Worker) {
				w.Health = health
			})
			if updated != nil {
				m.bus.Publish(events.WorkerUpdated, id, updated)
			}
		}
	}
}

// healthFor classifies a worker whose session still exists.
func healthFor(w *worker.Worker) worker.Health {
	if time.Since(w.LastOutput) > stallThreshold {
		return worker.HealthStalled
	}
	return worker.HealthHealthy
}
