package manager

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/output"
	"github.com/agentmux/agentmux/pkg/worker"
)

// snapshotVersion is bumped when the snapshot shape changes incompatibly.
const snapshotVersion = 1

// snapshotWorker carries the worker plus the fields excluded from the
// public JSON shape but needed across a restart.
type snapshotWorker struct {
	worker.Worker
	RalphToken string `json:"ralphToken,omitempty"`
}

type snapshotFile struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"savedAt"`
	Workers []snapshotWorker      `json:"workers"`
	Pending []*worker.PendingSpec `json:"pending"`
}

var snapshotMu sync.Mutex

// persistSnapshot writes the current worker and pending state to the
// snapshot path via temp file and rename, so a crash mid-write never
// leaves a truncated snapshot.
func (m *Manager) persistSnapshot() {
	if m.cfg.SnapshotPath == "" {
		return
	}

	snap := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now(),
		Pending: m.registry.Pending(),
	}
	for _, w := range m.registry.All() {
		snap.Workers = append(snap.Workers, snapshotWorker{Worker: *w, RalphToken: w.RalphToken})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("Snapshot marshal failed", "error", err)
		return
	}

	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	tmp := m.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		slog.Error("Snapshot write failed", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, m.cfg.SnapshotPath); err != nil {
		slog.Error("Snapshot rename failed", "path", m.cfg.SnapshotPath, "error", err)
	}
}

// restore reloads the snapshot after a restart: workers whose tmux session
// survived are reattached, the rest are recorded as lost. Pending specs
// are re-queued and promoted if their dependencies resolved meanwhile.
func (m *Manager) restore(ctx context.Context) {
	if m.cfg.SnapshotPath == "" {
		return
	}
	data, err := os.ReadFile(m.cfg.SnapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Snapshot read failed", "path", m.cfg.SnapshotPath, "error", err)
		}
		return
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Error("Snapshot corrupt, starting fresh", "path", m.cfg.SnapshotPath, "error", err)
		return
	}

	// registered tracks ids that made it back into the graph; lost
	// predecessors are filtered out and so count as done.
	registered := make(map[string]bool, len(snap.Workers))

	reattached, lost := 0, 0
	for _, sw := range snap.Workers {
		w := sw.Worker.Clone()
		w.RalphToken = sw.RalphToken

		if !m.mux.HasSession(ctx, w.TmuxSession) {
			lost++
			m.activity.Record(worker.ActivityError, w.ID, w.Label, w.Project,
				"worker lost across restart: session gone")
			continue
		}

		m.registry.Insert(w)
		if err := m.graph.Register(w.ID, filterIDs(w.DependsOn, registered), nil, w.WorkflowID); err != nil {
			slog.Warn("Graph re-registration failed", "worker_id", w.ID, "error", err)
		} else {
			registered[w.ID] = true
		}
		switch w.Status {
		case worker.StatusCompleted:
			m.graph.MarkCompleted(w.ID)
		case worker.StatusRunning:
			m.graph.MarkStarted(w.ID)
		}
		if w.RalphToken != "" {
			m.ralph.Tokens().Adopt(w.RalphToken, w.ID)
		}

		if w.Status == worker.StatusRunning {
			m.attachLoops(ctx, w)
		}
		reattached++
	}

	for _, spec := range snap.Pending {
		spec.Request.DependsOn = filterIDs(spec.Request.DependsOn, registered)
		if err := m.graph.Register(spec.ID, spec.Request.DependsOn, nil, spec.Request.WorkflowID); err != nil {
			slog.Warn("Pending re-registration failed", "worker_id", spec.ID, "error", err)
			continue
		}
		m.registry.Enqueue(spec)
	}

	// Dependencies may have completed (or vanished) while we were down.
	for _, spec := range m.registry.Pending() {
		if !m.graph.CanStart(spec.ID) || m.registry.RunningCount() >= m.cfg.MaxConcurrent {
			continue
		}
		if promoted := m.registry.Promote(spec.ID); promoted != nil {
			if _, err := m.startWorker(ctx, promoted.ID, promoted.Request); err != nil {
				slog.Error("Restored pending start failed", "worker_id", promoted.ID, "error", err)
				m.graph.MarkFailed(promoted.ID)
			}
		}
	}

	slog.Info("Snapshot restored",
		"path", m.cfg.SnapshotPath, "reattached", reattached, "lost", lost,
		"pending", len(snap.Pending))
	if lost > 0 {
		m.persistSnapshot()
	}
}

// discoverSessions adopts live tmux sessions carrying the engine's prefix
// that no restored worker claims. They were spawned by a previous run
// whose snapshot did not survive.
func (m *Manager) discoverSessions(ctx context.Context) {
	names, err := m.mux.ListSessions(ctx)
	if err != nil {
		slog.Warn("Session discovery failed", "error", err)
		return
	}
	prefix := m.cfg.SessionPrefix + "-"
	adopted := 0
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id := strings.TrimPrefix(name, prefix)
		if id == "" || m.registry.Has(id) || m.registry.GetPending(id) != nil {
			continue
		}

		cwd := ""
		if cwdRunner, ok := m.mux.(interface {
			SessionCwd(ctx context.Context, name string) (string, error)
		}); ok {
			cwd, _ = cwdRunner.SessionCwd(ctx, name)
		}

		now := time.Now()
		w := &worker.Worker{
			ID:           id,
			Label:        "(adopted)",
			Project:      projectName(cwd),
			WorkingDir:   cwd,
			TmuxSession:  name,
			Status:       worker.StatusRunning,
			Mode:         worker.ModeTmux,
			CreatedAt:    now,
			LastActivity: now,
			LastOutput:   now,
			Health:       worker.HealthHealthy,
		}
		m.registry.Insert(w)
		if err := m.graph.Register(id, nil, nil, ""); err != nil {
			slog.Warn("Adopted session graph registration failed", "worker_id", id, "error", err)
		}
		m.graph.MarkStarted(id)
		m.attachLoops(ctx, m.registry.Get(id))

		entry := m.activity.Record(worker.ActivityStarted, id, w.Label, w.Project,
			"adopted orphaned session")
		m.bus.Publish(events.WorkerCreated, id, m.registry.Get(id))
		m.bus.Publish(events.ActivityNew, id, entry)
		adopted++
	}
	if adopted > 0 {
		slog.Info("Adopted orphaned sessions", "count", adopted)
		m.persistSnapshot()
	}
}

// attachLoops starts capture and health loops plus a fresh output session
// for a worker that already has a live tmux session.
func (m *Manager) attachLoops(ctx context.Context, w *worker.Worker) {
	be, err := m.backends.Get(w.Backend)
	if err != nil {
		be, _ = m.backends.Get("")
	}

	sessionID, err := m.store.StartSession(ctx, w.ID, w.TmuxSession, w.Label, w.Project, w.WorkingDir, taskDescription(w))
	if err != nil {
		slog.Warn("Output session create failed", "worker_id", w.ID, "error", err)
	}

	loopCtx, cancel := context.WithCancel(m.baseCtx())
	m.mu.Lock()
	m.buffers[w.ID] = output.NewBuffer()
	if sessionID != "" {
		m.outputSessions[w.ID] = sessionID
	}
	m.loopCancels[w.ID] = cancel
	m.mu.Unlock()

	id := w.ID
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.runCaptureLoop(loopCtx, id, be)
	}()
	go func() {
		defer m.wg.Done()
		m.runHealthLoop(loopCtx, id)
	}()
}

// filterIDs keeps only ids present in the known set.
func filterIDs(ids []string, known map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}
