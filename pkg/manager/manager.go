// Package manager is the worker lifecycle engine: spawning under the
// concurrency cap, dependency-gated queueing, kill and complete paths,
// promotion of pending workers, periodic cleanup, and crash recovery.
// It owns the per-worker capture and health loops.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/deps"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/output"
	"github.com/agentmux/agentmux/pkg/ralph"
	"github.com/agentmux/agentmux/pkg/tmux"
	"github.com/agentmux/agentmux/pkg/worker"
)

// Timing constants for the spawn choreography.
const (
	// initialInputDelay separates the self-awareness prompt from the
	// caller's initial input.
	initialInputDelay = 1 * time.Second

	// ralphNudgeDelay is how long a ralph worker may stay silent before
	// a reminder is injected.
	ralphNudgeDelay = 60 * time.Second

	// failedDepGrace is how long a blocked successor waits after a
	// predecessor fails before it is failed itself.
	failedDepGrace = 30 * time.Second

	// deadWorkerCleanupDelay is the pause between detecting a dead
	// session and removing the worker.
	deadWorkerCleanupDelay = 30 * time.Second
)

// Validation and capacity errors surfaced to callers.
var (
	// ErrInvalidProjectPath indicates the path is missing, relative,
	// not a directory, or outside the configured root.
	ErrInvalidProjectPath = errors.New("invalid project path")

	// ErrAtCapacity indicates the concurrent worker cap is reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrWorkerNotFound indicates the id is neither running nor pending.
	ErrWorkerNotFound = errors.New("worker not found")
)

// Manager wires the lifecycle engine together.
type Manager struct {
	cfg      *config.Config
	registry *worker.Registry
	graph    *deps.Graph
	bus      *events.Bus
	mux      tmux.Runner
	store    *output.Store
	ralph    *ralph.Service
	backends *backend.Registry
	activity *worker.ActivityLog
	fs       dirChecker

	mu             sync.Mutex
	buffers        map[string]*output.Buffer
	outputSessions map[string]string // worker id → output session id
	loopCancels    map[string]context.CancelFunc
	completions    map[string]completionRecord

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// completionRecord caches the result of the first complete call so a
// duplicate complete is a no-op returning the same triggered set.
type completionRecord struct {
	Triggered  []string
	OnComplete *worker.OnComplete
}

// CompleteResult is returned by Complete.
type CompleteResult struct {
	Worker     *worker.Worker     `json:"worker"`
	Triggered  []string           `json:"triggeredWorkers"`
	OnComplete *worker.OnComplete `json:"onCompleteAction,omitempty"`
}

// New creates a lifecycle manager. Call Start to launch background loops.
func New(cfg *config.Config, registry *worker.Registry, graph *deps.Graph, bus *events.Bus,
	mux tmux.Runner, store *output.Store, ralphSvc *ralph.Service, backends *backend.Registry,
	activity *worker.ActivityLog) *Manager {
	return &Manager{
		cfg:            cfg,
		registry:       registry,
		graph:          graph,
		bus:            bus,
		mux:            mux,
		store:          store,
		ralph:          ralphSvc,
		backends:       backends,
		activity:       activity,
		fs:             osDirChecker{},
		buffers:        make(map[string]*output.Buffer),
		outputSessions: make(map[string]string),
		loopCancels:    make(map[string]context.CancelFunc),
		completions:    make(map[string]completionRecord),
	}
}

// Start restores persisted workers and launches the periodic loops.
func (m *Manager) Start(ctx context.Context) {
	m.rootCtx, m.rootCancel = context.WithCancel(ctx)

	m.restore(m.rootCtx)
	m.discoverSessions(m.rootCtx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runCleanupLoop(m.rootCtx)
	}()
}

// Stop cancels all loops and waits for them. Worker sessions are left
// running; restore reattaches on the next start.
func (m *Manager) Stop() {
	if m.rootCancel != nil {
		m.rootCancel()
	}
	m.mu.Lock()
	for _, cancel := range m.loopCancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Spawn creates a worker, or queues it as pending when its dependencies
// have not completed yet. Returns the created worker, or the pending spec.
func (m *Manager) Spawn(ctx context.Context, req worker.SpawnRequest) (*worker.Worker, *worker.PendingSpec, error) {
	req.Sanitize()

	if err := m.validateProjectPath(req.ProjectPath); err != nil {
		return nil, nil, err
	}
	if err := worker.ValidateLabel(req.Label); err != nil {
		return nil, nil, err
	}
	if _, err := m.backends.Get(req.Backend); err != nil {
		return nil, nil, err
	}
	if m.registry.RunningCount() >= m.cfg.MaxConcurrent {
		return nil, nil, fmt.Errorf("%w: %d running workers", ErrAtCapacity, m.cfg.MaxConcurrent)
	}

	id := newWorkerID()
	if err := m.graph.Register(id, req.DependsOn, req.OnComplete, req.WorkflowID); err != nil {
		return nil, nil, err
	}
	if req.WorkflowID != "" && req.TaskID != "" {
		if err := m.graph.RegisterWorkerForTask(req.WorkflowID, req.TaskID, id); err != nil {
			slog.Warn("Workflow task binding failed", "worker_id", id, "error", err)
		}
	}

	if len(req.DependsOn) > 0 && !m.graph.CanStart(id) {
		spec := &worker.PendingSpec{ID: id, Request: req, RegisteredAt: time.Now()}
		m.registry.Enqueue(spec)
		entry := m.activity.Record(worker.ActivityPending, id, req.Label, projectName(req.ProjectPath),
			fmt.Sprintf("queued behind %d dependencies", len(req.DependsOn)))
		m.bus.Publish(events.WorkerPending, id, spec)
		m.bus.Publish(events.ActivityNew, id, entry)
		m.persistSnapshot()
		return nil, spec, nil
	}

	w, err := m.startWorker(ctx, id, req)
	if err != nil {
		m.graph.Delete(id)
		return nil, nil, err
	}
	return w, nil, nil
}

// startWorker runs spawn steps 5–12 for a ready worker: the direct spawn
// path and pending promotion both land here.
func (m *Manager) startWorker(ctx context.Context, id string, req worker.SpawnRequest) (*worker.Worker, error) {
	be, err := m.backends.Get(req.Backend)
	if err != nil {
		return nil, err
	}

	sessionName := m.cfg.SessionPrefix + "-" + id
	now := time.Now()
	w := &worker.Worker{
		ID:             id,
		Label:          req.Label,
		Project:        projectName(req.ProjectPath),
		WorkingDir:     req.ProjectPath,
		TmuxSession:    sessionName,
		Status:         worker.StatusRunning,
		Mode:           worker.ModeTmux,
		CreatedAt:      now,
		LastActivity:   now,
		LastOutput:     now,
		Health:         worker.HealthHealthy,
		DependsOn:      req.DependsOn,
		WorkflowID:     req.WorkflowID,
		TaskID:         req.TaskID,
		ParentWorkerID: req.ParentWorkerID,
		ParentLabel:    req.ParentLabel,
		Task:           req.Task,
		Backend:        req.Backend,
		AutoAccept:     req.AutoAccept,
		RalphMode:      req.RalphMode,
		KeepAlive:      req.KeepAlive,
	}

	if req.RalphMode || w.IsStrategic() {
		w.RalphToken = m.ralph.Tokens().Issue(id)
		if req.RalphMode {
			w.RalphStatus = worker.RalphPending
		}
	}

	if err := m.writeContextFile(be, w); err != nil {
		// The worker can run without its context file; it just won't
		// know how to call back.
		slog.Warn("Context file write failed", "worker_id", id, "error", err)
	}

	command, args := be.Command()
	if m.cfg.BackendCommand != "" && req.Backend == "" {
		command = m.cfg.BackendCommand
	}
	if err := m.mux.CreateSession(ctx, sessionName, req.ProjectPath,
		m.cfg.DefaultCols, m.cfg.DefaultRows, command, args...); err != nil {
		m.removeContextFile(be, w)
		if w.RalphToken != "" {
			m.ralph.Tokens().Consume(w.RalphToken)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.registry.Insert(w)
	m.graph.MarkStarted(id)

	outputSessionID, err := m.store.StartSession(ctx, id, sessionName, w.Label, w.Project, w.WorkingDir, taskDescription(w))
	if err != nil {
		slog.Warn("Output session create failed", "worker_id", id, "error", err)
	}

	loopCtx, cancel := context.WithCancel(m.baseCtx())
	m.mu.Lock()
	m.buffers[id] = output.NewBuffer()
	if outputSessionID != "" {
		m.outputSessions[id] = outputSessionID
	}
	m.loopCancels[id] = cancel
	m.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.runCaptureLoop(loopCtx, id, be)
	}()
	go func() {
		defer m.wg.Done()
		m.runHealthLoop(loopCtx, id)
	}()

	if req.ParentWorkerID != "" {
		if !m.registry.LinkChild(req.ParentWorkerID, id) {
			slog.Warn("Parent worker gone before link", "worker_id", id, "parent_id", req.ParentWorkerID)
		}
	}

	m.scheduleStartupInput(id, be, req)

	entry := m.activity.Record(worker.ActivityStarted, id, w.Label, w.Project, "worker started")
	m.persistSnapshot()

	created := m.registry.Get(id)
	m.bus.Publish(events.WorkerCreated, id, created)
	m.bus.Publish(events.ActivityNew, id, entry)
	slog.Info("Worker spawned",
		"worker_id", id, "label", w.Label, "project", w.Project, "session", sessionName,
		"ralph_mode", w.RalphMode, "auto_accept", w.AutoAccept)
	return created, nil
}

// scheduleStartupInput performs the delayed spawn steps: self-awareness
// prompt after the backend's init delay, then the caller's initial input,
// then the ralph nudge.
func (m *Manager) scheduleStartupInput(id string, be backend.Backend, req worker.SpawnRequest) {
	sessionName := m.cfg.SessionPrefix + "-" + id

	time.AfterFunc(be.InitDelay(), func() {
		w := m.registry.Get(id)
		if w == nil || w.Status != worker.StatusRunning {
			return
		}
		ctx, cancel := context.WithTimeout(m.baseCtx(), 15*time.Second)
		defer cancel()
		prompt := buildSelfAwarenessPrompt(m.cfg, w)
		if err := m.sendLine(ctx, sessionName, prompt); err != nil {
			slog.Warn("Self-awareness prompt failed", "worker_id", id, "error", err)
		}

		if req.InitialInput != "" {
			time.AfterFunc(initialInputDelay, func() {
				ctx, cancel := context.WithTimeout(m.baseCtx(), 15*time.Second)
				defer cancel()
				if err := m.sendLine(ctx, sessionName, req.InitialInput); err != nil {
					slog.Warn("Initial input failed", "worker_id", id, "error", err)
				}
			})
		}
	})

	if req.RalphMode {
		time.AfterFunc(ralphNudgeDelay, func() {
			w := m.registry.Get(id)
			if w == nil || w.Status != worker.StatusRunning || w.RalphSignaledAt != nil ||
				w.RalphStatus != worker.RalphPending {
				return
			}
			ctx, cancel := context.WithTimeout(m.baseCtx(), 15*time.Second)
			defer cancel()
			nudge := "Reminder: report progress with your completion token (see the worker context file). " +
				"POST a signal with status in_progress, done, or blocked."
			if err := m.sendLine(ctx, sessionName, nudge); err != nil {
				slog.Warn("Ralph nudge failed", "worker_id", id, "error", err)
			}
		})
	}
}

// Kill removes a worker: pending specs are simply dropped, running ones
// have their session killed and their state torn down. Idempotent per id;
// a second kill returns ErrWorkerNotFound.
func (m *Manager) Kill(ctx context.Context, id string, force bool) error {
	if m.registry.DropPending(id) {
		m.graph.Delete(id)
		entry := m.activity.Record(worker.ActivityStopped, id, "", "", "pending worker cancelled")
		m.bus.Publish(events.WorkerDeleted, id, map[string]string{"workerId": id})
		m.bus.Publish(events.ActivityNew, id, entry)
		m.persistSnapshot()
		return nil
	}

	w := m.registry.Get(id)
	if w == nil {
		return ErrWorkerNotFound
	}

	m.stopLoops(id)

	if err := m.mux.KillSession(ctx, w.TmuxSession); err != nil {
		if !force {
			slog.Warn("Session kill failed", "worker_id", id, "session", w.TmuxSession, "error", err)
		}
	}
	if m.mux.HasSession(ctx, w.TmuxSession) {
		slog.Warn("Session survived kill", "worker_id", id, "session", w.TmuxSession)
	}

	m.finalizeOutputSession(ctx, id, "stopped")

	if be, err := m.backends.Get(w.Backend); err == nil {
		m.removeContextFile(be, w)
	}
	m.ralph.Tokens().RevokeWorker(id)

	completed := w.Status == worker.StatusCompleted
	m.registry.Delete(id)
	if !completed {
		// A worker killed before completing fails its dependents.
		blocked := m.graph.MarkFailed(id)
		m.scheduleDependencyFailure(id, blocked)
	}
	m.graph.Delete(id)

	entry := m.activity.Record(worker.ActivityStopped, id, w.Label, w.Project, "worker killed")
	m.bus.Publish(events.WorkerDeleted, id, map[string]string{"workerId": id})
	m.bus.Publish(events.ActivityNew, id, entry)
	m.persistSnapshot()
	slog.Info("Worker killed", "worker_id", id, "label", w.Label)

	// The freed slot may unblock a ready worker held back at capacity.
	m.promoteReadyPending(ctx)
	return nil
}

// promoteReadyPending starts pending workers whose dependencies have all
// completed, oldest registration first, until the cap is reached again.
func (m *Manager) promoteReadyPending(ctx context.Context) {
	for _, readyID := range m.graph.ReadyWorkers() {
		if m.registry.RunningCount() >= m.cfg.MaxConcurrent {
			return
		}
		spec := m.registry.Promote(readyID)
		if spec == nil {
			continue
		}
		if _, err := m.startWorker(ctx, spec.ID, spec.Request); err != nil {
			slog.Error("Pending promotion failed", "worker_id", spec.ID, "error", err)
			m.graph.MarkFailed(spec.ID)
			m.bus.Publish(events.Error, spec.ID, events.ErrorPayload{
				Message:  "failed to start dependent worker",
				WorkerID: spec.ID,
			})
			continue
		}
		m.bus.Publish(events.DependenciesSatisfied, spec.ID, map[string]string{
			"workerId": spec.ID,
		})
	}
}

// Complete marks a worker completed, wakes its dependents, and dispatches
// its on-complete action. A duplicate call is a no-op returning the first
// call's triggered set.
func (m *Manager) Complete(ctx context.Context, id string) (*CompleteResult, error) {
	w := m.registry.Get(id)
	if w == nil {
		return nil, ErrWorkerNotFound
	}

	m.mu.Lock()
	if cached, done := m.completions[id]; done {
		m.mu.Unlock()
		return &CompleteResult{
			Worker:     m.registry.Get(id),
			Triggered:  cached.Triggered,
			OnComplete: cached.OnComplete,
		}, nil
	}
	m.mu.Unlock()

	updated := m.registry.Update(id, func(w *worker.Worker) {
		w.Status = worker.StatusCompleted
		now := time.Now()
		w.CompletedAt = &now
		w.LastActivity = now
	})

	m.finalizeOutputSession(ctx, id, "completed")

	result := m.graph.MarkCompleted(id)
	if w.WorkflowID != "" && w.TaskID != "" {
		if _, err := m.graph.CompleteWorkflowTask(w.WorkflowID, w.TaskID); err != nil {
			slog.Warn("Workflow task completion failed", "worker_id", id, "error", err)
		}
	}

	m.mu.Lock()
	m.completions[id] = completionRecord{Triggered: result.Triggered, OnComplete: result.OnComplete}
	m.mu.Unlock()

	entry := m.activity.Record(worker.ActivityCompleted, id, w.Label, w.Project, "worker completed")
	m.bus.Publish(events.WorkerCompleted, id, updated)
	m.bus.Publish(events.ActivityNew, id, entry)

	// Promote newly ready pending workers in trigger order, never past
	// the concurrency cap. Workers held back stay pending; Kill promotes
	// them as capacity frees.
	var promoted []string
	for _, readyID := range result.Triggered {
		if m.registry.RunningCount() >= m.cfg.MaxConcurrent {
			slog.Info("Ready worker held at capacity", "worker_id", readyID)
			continue
		}
		spec := m.registry.Promote(readyID)
		if spec == nil {
			continue
		}
		if _, err := m.startWorker(ctx, spec.ID, spec.Request); err != nil {
			slog.Error("Pending promotion failed", "worker_id", spec.ID, "error", err)
			m.graph.MarkFailed(spec.ID)
			m.bus.Publish(events.Error, spec.ID, events.ErrorPayload{
				Message:  "failed to start dependent worker",
				WorkerID: spec.ID,
			})
			continue
		}
		promoted = append(promoted, spec.ID)
		m.bus.Publish(events.DependenciesSatisfied, spec.ID, map[string]string{
			"workerId":          spec.ID,
			"completedWorkerId": id,
		})
	}
	if len(result.Triggered) > 0 {
		m.bus.Publish(events.DependenciesTriggered, id, events.TriggeredPayload{
			CompletedWorkerID:  id,
			TriggeredWorkerIDs: result.Triggered,
		})
	}

	if result.OnComplete != nil {
		m.dispatchOnComplete(ctx, id, result.OnComplete)
	}

	m.persistSnapshot()
	slog.Info("Worker completed", "worker_id", id, "triggered", len(result.Triggered), "promoted", len(promoted))
	return &CompleteResult{Worker: updated, Triggered: result.Triggered, OnComplete: result.OnComplete}, nil
}

// SendInput sends a line of input (text + Enter) to a running worker.
func (m *Manager) SendInput(ctx context.Context, id, input string) error {
	w := m.registry.Get(id)
	if w == nil {
		return ErrWorkerNotFound
	}
	m.registry.Update(id, func(w *worker.Worker) {
		w.LastActivity = time.Now()
		w.QueuedCommands++
	})
	defer m.registry.Update(id, func(w *worker.Worker) { w.QueuedCommands-- })
	return m.sendLine(ctx, w.TmuxSession, input)
}

// SendRawKeys sends tmux key names (e.g. "C-c", "Escape") to a worker.
func (m *Manager) SendRawKeys(ctx context.Context, id string, keys ...string) error {
	w := m.registry.Get(id)
	if w == nil {
		return ErrWorkerNotFound
	}
	m.registry.Update(id, func(w *worker.Worker) { w.LastActivity = time.Now() })
	return m.mux.SendKeys(ctx, w.TmuxSession, keys...)
}

// Resize changes a worker's pane geometry.
func (m *Manager) Resize(ctx context.Context, id string, cols, rows int) error {
	w := m.registry.Get(id)
	if w == nil {
		return ErrWorkerNotFound
	}
	return m.mux.Resize(ctx, w.TmuxSession, cols, rows)
}

// UpdateSettings flips per-worker toggles and emits worker:updated.
func (m *Manager) UpdateSettings(id string, autoAccept, ralphMode *bool) (*worker.Worker, error) {
	updated := m.registry.Update(id, func(w *worker.Worker) {
		if autoAccept != nil {
			w.AutoAccept = *autoAccept
			if !*autoAccept {
				w.AutoAcceptPaused = false
				w.LastAutoAcceptHash = 0
			}
		}
		if ralphMode != nil && *ralphMode && !w.RalphMode {
			w.RalphMode = true
			w.RalphStatus = worker.RalphPending
			if w.RalphToken == "" {
				w.RalphToken = m.ralph.Tokens().Issue(w.ID)
			}
		}
	})
	if updated == nil {
		return nil, ErrWorkerNotFound
	}
	m.bus.Publish(events.WorkerUpdated, id, updated)
	m.persistSnapshot()
	return updated, nil
}

// OutputSnapshot returns the worker's in-memory buffer contents.
func (m *Manager) OutputSnapshot(id string) (string, error) {
	m.mu.Lock()
	buf, ok := m.buffers[id]
	m.mu.Unlock()
	if !ok {
		return "", ErrWorkerNotFound
	}
	return buf.Snapshot(), nil
}

// BufferTail returns the last n lines of the worker's buffer.
func (m *Manager) BufferTail(id string, n int) (string, error) {
	m.mu.Lock()
	buf, ok := m.buffers[id]
	m.mu.Unlock()
	if !ok {
		return "", ErrWorkerNotFound
	}
	return buf.TailLines(n), nil
}

// runCleanupLoop is the periodic lifecycle sweep: auto-cleanup of
// completed workers past the delay, and stale-worker logging.
func (m *Manager) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCleanupPass(ctx)
		}
	}
}

func (m *Manager) runCleanupPass(ctx context.Context) {
	now := time.Now()
	for _, w := range m.registry.All() {
		switch w.Status {
		case worker.StatusCompleted:
			if !w.KeepAlive && w.CompletedAt != nil && now.Sub(*w.CompletedAt) > m.cfg.AutoCleanupDelay {
				slog.Info("Auto-cleanup of completed worker", "worker_id", w.ID, "label", w.Label)
				if err := m.Kill(ctx, w.ID, false); err != nil && !errors.Is(err, ErrWorkerNotFound) {
					slog.Warn("Auto-cleanup kill failed", "worker_id", w.ID, "error", err)
				}
			}
		case worker.StatusRunning:
			if now.Sub(w.LastActivity) > m.cfg.StaleWorkerThreshold {
				slog.Warn("Worker inactive past stale threshold",
					"worker_id", w.ID, "label", w.Label,
					"inactive", now.Sub(w.LastActivity).Round(time.Second))
			}
		}
	}
}

// scheduleDependencyFailure fails blocked successors after the grace
// period, unless their predecessor situation resolved meanwhile.
func (m *Manager) scheduleDependencyFailure(failedID string, blocked []string) {
	if len(blocked) == 0 {
		return
	}
	time.AfterFunc(failedDepGrace, func() {
		for _, depID := range blocked {
			if len(m.graph.FailedPredecessors(depID)) == 0 {
				continue
			}
			if !m.registry.DropPending(depID) {
				continue
			}
			m.graph.MarkFailed(depID)
			entry := m.activity.Record(worker.ActivityError, depID, "", "",
				fmt.Sprintf("dependency failed: %s", failedID))
			m.bus.Publish(events.Error, depID, events.ErrorPayload{
				Message:  "dependency failed",
				WorkerID: depID,
			})
			m.bus.Publish(events.ActivityNew, depID, entry)
			slog.Warn("Pending worker failed: dependency failed",
				"worker_id", depID, "failed_dependency", failedID)
		}
	})
}

// dispatchOnComplete runs the declarative completion action.
func (m *Manager) dispatchOnComplete(ctx context.Context, completedID string, action *worker.OnComplete) {
	switch action.Kind {
	case "spawn":
		if action.Spawn == nil {
			slog.Warn("onComplete spawn without a request", "worker_id", completedID)
			return
		}
		if _, _, err := m.Spawn(ctx, *action.Spawn); err != nil {
			slog.Warn("onComplete spawn failed", "worker_id", completedID, "error", err)
		}
	case "webhook":
		go m.dispatchWebhook(completedID, action)
	case "emit":
		if action.Event == "" {
			slog.Warn("onComplete emit without an event name", "worker_id", completedID)
			return
		}
		m.bus.Publish(action.Event, completedID, action.Data)
	default:
		slog.Warn("Unknown onComplete kind", "worker_id", completedID, "kind", action.Kind)
	}
}

// stopLoops cancels the capture and health loops and drops loop state.
func (m *Manager) stopLoops(id string) {
	m.mu.Lock()
	if cancel, ok := m.loopCancels[id]; ok {
		cancel()
		delete(m.loopCancels, id)
	}
	delete(m.buffers, id)
	m.mu.Unlock()
}

// finalizeOutputSession stamps the worker's output session, once.
func (m *Manager) finalizeOutputSession(ctx context.Context, id, status string) {
	m.mu.Lock()
	sessionID, ok := m.outputSessions[id]
	if ok {
		delete(m.outputSessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.store.FinalizeSession(ctx, sessionID, status); err != nil {
		slog.Warn("Output session finalize failed", "worker_id", id, "error", err)
	}
}

// sendLine sends literal text followed by Enter.
func (m *Manager) sendLine(ctx context.Context, sessionName, text string) error {
	text = strings.TrimRight(text, "\r\n")
	if text != "" {
		if err := m.mux.SendText(ctx, sessionName, text); err != nil {
			return err
		}
	}
	return m.mux.SendKeys(ctx, sessionName, "Enter")
}

// baseCtx returns the manager's root context (Background before Start;
// only tests hit that path).
func (m *Manager) baseCtx() context.Context {
	if m.rootCtx != nil {
		return m.rootCtx
	}
	return context.Background()
}

// validateProjectPath enforces absolute, existing directories confined to
// the configured root.
func (m *Manager) validateProjectPath(path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return fmt.Errorf("%w: must be an absolute path", ErrInvalidProjectPath)
	}
	clean := filepath.Clean(path)
	if clean != path && clean+string(filepath.Separator) != path {
		return fmt.Errorf("%w: path traversal detected", ErrInvalidProjectPath)
	}
	if m.cfg.ProjectsRoot != "" {
		rel, err := filepath.Rel(m.cfg.ProjectsRoot, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: outside projects root", ErrInvalidProjectPath)
		}
	}
	if !m.fs.IsDir(clean) {
		return fmt.Errorf("%w: not a directory", ErrInvalidProjectPath)
	}
	return nil
}

func newWorkerID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func projectName(projectPath string) string {
	return filepath.Base(filepath.Clean(projectPath))
}

func taskDescription(w *worker.Worker) string {
	if w.Task != nil {
		return w.Task.Description
	}
	return ""
}
