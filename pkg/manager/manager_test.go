package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/deps"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/output"
	"github.com/agentmux/agentmux/pkg/ralph"
	"github.com/agentmux/agentmux/pkg/tmux"
	"github.com/agentmux/agentmux/pkg/worker"
)

// fakeRunner is an in-memory tmux.Runner. Session state and everything
// sent to sessions is recorded for assertions.
type fakeRunner struct {
	mu        sync.Mutex
	sessions  map[string]bool
	panes     map[string]string
	texts     map[string][]string
	keys      map[string][]string
	resizes   map[string][]int
	createErr error
	breaker   *tmux.Breaker
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		sessions: make(map[string]bool),
		panes:    make(map[string]string),
		texts:    make(map[string][]string),
		keys:     make(map[string][]string),
		resizes:  make(map[string][]int),
		breaker:  tmux.NewBreaker(5, 30*time.Second, 60*time.Second),
	}
}

func (f *fakeRunner) CreateSession(_ context.Context, name, _ string, _, _ int, _ string, _ ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.sessions[name] {
		return tmux.ErrSessionExists
	}
	f.sessions[name] = true
	return nil
}

func (f *fakeRunner) SendKeys(_ context.Context, name string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return tmux.ErrSessionNotFound
	}
	f.keys[name] = append(f.keys[name], keys...)
	return nil
}

func (f *fakeRunner) SendText(_ context.Context, name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return tmux.ErrSessionNotFound
	}
	f.texts[name] = append(f.texts[name], text)
	return nil
}

func (f *fakeRunner) CapturePane(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return "", tmux.ErrSessionNotFound
	}
	return f.panes[name], nil
}

func (f *fakeRunner) Resize(_ context.Context, name string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return tmux.ErrSessionNotFound
	}
	f.resizes[name] = []int{cols, rows}
	return nil
}

func (f *fakeRunner) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return tmux.ErrSessionNotFound
	}
	delete(f.sessions, name)
	return nil
}

func (f *fakeRunner) ListSessions(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.sessions {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeRunner) HasSession(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

func (f *fakeRunner) PaneCommand(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[name] {
		return "", tmux.ErrSessionNotFound
	}
	return "claude", nil
}

func (f *fakeRunner) Breaker() *tmux.Breaker { return f.breaker }

func (f *fakeRunner) addSession(name string) {
	f.mu.Lock()
	f.sessions[name] = true
	f.mu.Unlock()
}

func (f *fakeRunner) setPane(name, content string) {
	f.mu.Lock()
	f.panes[name] = content
	f.mu.Unlock()
}

func (f *fakeRunner) removeSession(name string) {
	f.mu.Lock()
	delete(f.sessions, name)
	f.mu.Unlock()
}

func (f *fakeRunner) sentTexts(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[name]...)
}

// allowAllDirs accepts any path as an existing directory.
type allowAllDirs struct{}

func (allowAllDirs) IsDir(string) bool { return true }

type testEnv struct {
	mgr      *Manager
	mux      *fakeRunner
	registry *worker.Registry
	graph    *deps.Graph
	bus      *events.Bus
	ralph    *ralph.Service
	cfg      *config.Config
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "state.json")
	for _, fn := range mutate {
		fn(cfg)
	}

	store, err := output.OpenStore(filepath.Join(t.TempDir(), "output.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := worker.NewRegistry()
	graph := deps.NewGraph()
	bus := events.NewBus()
	ralphSvc := ralph.NewService(ralph.NewTokenStore(), registry, bus)
	backends := backend.NewRegistry(&backend.Claude{})
	mux := newFakeRunner()

	mgr := New(cfg, registry, graph, bus, mux, store, ralphSvc, backends, worker.NewActivityLog())
	mgr.fs = allowAllDirs{}
	t.Cleanup(mgr.Stop)

	return &testEnv{mgr: mgr, mux: mux, registry: registry, graph: graph, bus: bus, ralph: ralphSvc, cfg: cfg}
}

func spawnRunning(t *testing.T, env *testEnv, label string) *worker.Worker {
	t.Helper()
	w, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       label,
	})
	require.NoError(t, err)
	require.Nil(t, pending)
	require.NotNil(t, w)
	return w
}

func TestManager_SpawnCreatesRunningWorker(t *testing.T) {
	env := newTestEnv(t)

	w := spawnRunning(t, env, "build")
	assert.Len(t, w.ID, 8)
	assert.Equal(t, "agentmux-"+w.ID, w.TmuxSession)
	assert.Equal(t, worker.StatusRunning, w.Status)
	assert.Equal(t, "app", w.Project)
	assert.True(t, env.mux.HasSession(context.Background(), w.TmuxSession))

	// The in-memory buffer exists from the start.
	_, err := env.mgr.OutputSnapshot(w.ID)
	assert.NoError(t, err)
}

func TestManager_SpawnValidatesProjectPath(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{ProjectPath: "relative/path"})
	assert.ErrorIs(t, err, ErrInvalidProjectPath)

	_, _, err = env.mgr.Spawn(context.Background(), worker.SpawnRequest{ProjectPath: ""})
	assert.ErrorIs(t, err, ErrInvalidProjectPath)

	_, _, err = env.mgr.Spawn(context.Background(), worker.SpawnRequest{ProjectPath: "/srv/../etc"})
	assert.ErrorIs(t, err, ErrInvalidProjectPath)
}

func TestManager_SpawnEnforcesProjectsRoot(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.ProjectsRoot = "/srv/projects" })

	_, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{ProjectPath: "/etc"})
	assert.ErrorIs(t, err, ErrInvalidProjectPath)

	_, _, err = env.mgr.Spawn(context.Background(), worker.SpawnRequest{ProjectPath: "/srv/projects/app"})
	assert.NoError(t, err)
}

func TestManager_SpawnRejectsBadLabel(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "bad\x00label",
	})
	assert.ErrorIs(t, err, worker.ErrInvalidLabel)
}

func TestManager_SpawnRejectsUnknownBackend(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Backend:     "gemini",
	})
	assert.Error(t, err)
	assert.Equal(t, 0, env.registry.Count())
}

func TestManager_SpawnAtCapacity(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxConcurrent = 1 })

	spawnRunning(t, env, "first")
	_, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "second",
	})
	assert.ErrorIs(t, err, ErrAtCapacity)
}

func TestManager_SpawnSessionFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.mux.createErr = errors.New("tmux exploded")

	_, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		RalphMode:   true,
	})
	require.Error(t, err)
	assert.Equal(t, 0, env.registry.Count())
	// The pre-issued completion token is revoked on rollback.
	assert.Equal(t, 0, env.ralph.Tokens().Len())
}

func TestManager_SpawnRalphModeIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	w, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "loop",
		RalphMode:   true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.RalphToken)
	assert.Equal(t, worker.RalphPending, w.RalphStatus)
}

func TestManager_SpawnStrategicLabelIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	w, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "GENERAL: coordinate the refactor",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.RalphToken)
	assert.False(t, w.RalphMode)
}

func TestManager_SpawnWithDependenciesQueues(t *testing.T) {
	env := newTestEnv(t)
	first := spawnRunning(t, env, "build")

	w, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "deploy",
		DependsOn:   []string{first.ID},
	})
	require.NoError(t, err)
	assert.Nil(t, w)
	require.NotNil(t, pending)
	assert.NotNil(t, env.registry.GetPending(pending.ID))
	assert.False(t, env.mux.HasSession(context.Background(), "agentmux-"+pending.ID))
}

func TestManager_CompletePromotesPending(t *testing.T) {
	env := newTestEnv(t)
	first := spawnRunning(t, env, "build")

	_, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "deploy",
		DependsOn:   []string{first.ID},
	})
	require.NoError(t, err)

	result, err := env.mgr.Complete(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.StatusCompleted, result.Worker.Status)
	assert.Equal(t, []string{pending.ID}, result.Triggered)

	promoted := env.registry.Get(pending.ID)
	require.NotNil(t, promoted)
	assert.Equal(t, worker.StatusRunning, promoted.Status)
	assert.Nil(t, env.registry.GetPending(pending.ID))
	assert.True(t, env.mux.HasSession(context.Background(), promoted.TmuxSession))
}

func TestManager_CompleteRespectsCapacity(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxConcurrent = 2 })
	first := spawnRunning(t, env, "build")

	var pendingIDs []string
	for _, label := range []string{"deploy-a", "deploy-b", "deploy-c"} {
		_, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
			ProjectPath: "/srv/projects/app",
			Label:       label,
			DependsOn:   []string{first.ID},
		})
		require.NoError(t, err)
		require.NotNil(t, pending)
		pendingIDs = append(pendingIDs, pending.ID)
	}

	// All three are triggered, but only two slots exist once the
	// completed worker leaves the running count.
	result, err := env.mgr.Complete(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, pendingIDs, result.Triggered)
	assert.Equal(t, 2, env.registry.RunningCount())
	require.Len(t, env.registry.Pending(), 1)
	held := env.registry.Pending()[0].ID

	// Killing a running worker frees a slot and promotes the held one.
	var runningID string
	for _, w := range env.registry.All() {
		if w.Status == worker.StatusRunning {
			runningID = w.ID
			break
		}
	}
	require.NotEmpty(t, runningID)
	require.NoError(t, env.mgr.Kill(context.Background(), runningID, false))

	assert.Empty(t, env.registry.Pending())
	promoted := env.registry.Get(held)
	require.NotNil(t, promoted)
	assert.Equal(t, worker.StatusRunning, promoted.Status)
	assert.Equal(t, 2, env.registry.RunningCount())
}

func TestManager_CompleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := spawnRunning(t, env, "build")
	_, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		DependsOn:   []string{first.ID},
	})
	require.NoError(t, err)

	r1, err := env.mgr.Complete(context.Background(), first.ID)
	require.NoError(t, err)
	r2, err := env.mgr.Complete(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.Triggered, r2.Triggered)
	assert.Equal(t, []string{pending.ID}, r2.Triggered)
}

func TestManager_CompleteUnknownWorker(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Complete(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestManager_KillRunningWorker(t *testing.T) {
	env := newTestEnv(t)
	w := spawnRunning(t, env, "doomed")

	require.NoError(t, env.mgr.Kill(context.Background(), w.ID, false))
	assert.Nil(t, env.registry.Get(w.ID))
	assert.False(t, env.mux.HasSession(context.Background(), w.TmuxSession))

	assert.ErrorIs(t, env.mgr.Kill(context.Background(), w.ID, false), ErrWorkerNotFound)
}

func TestManager_KillPendingWorker(t *testing.T) {
	env := newTestEnv(t)
	first := spawnRunning(t, env, "build")
	_, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		DependsOn:   []string{first.ID},
	})
	require.NoError(t, err)

	require.NoError(t, env.mgr.Kill(context.Background(), pending.ID, false))
	assert.Nil(t, env.registry.GetPending(pending.ID))
	assert.ErrorIs(t, env.mgr.Kill(context.Background(), pending.ID, false), ErrWorkerNotFound)
}

func TestManager_KillRevokesTokensAndLeavesDependentsInGrace(t *testing.T) {
	env := newTestEnv(t)
	w, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		RalphMode:   true,
	})
	require.NoError(t, err)
	_, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		DependsOn:   []string{w.ID},
	})
	require.NoError(t, err)

	require.NoError(t, env.mgr.Kill(context.Background(), w.ID, false))
	assert.Equal(t, 0, env.ralph.Tokens().Len())

	// Dependents ride out a grace period before being failed.
	assert.NotNil(t, env.registry.GetPending(pending.ID))
}

func TestManager_SendInput(t *testing.T) {
	env := newTestEnv(t)
	w := spawnRunning(t, env, "worker")

	require.NoError(t, env.mgr.SendInput(context.Background(), w.ID, "run the tests\n"))
	texts := env.mux.sentTexts(w.TmuxSession)
	require.NotEmpty(t, texts)
	assert.Equal(t, "run the tests", texts[len(texts)-1])

	env.mux.mu.Lock()
	keys := append([]string(nil), env.mux.keys[w.TmuxSession]...)
	env.mux.mu.Unlock()
	assert.Contains(t, keys, "Enter")

	assert.Equal(t, 0, env.registry.Get(w.ID).QueuedCommands)
	assert.ErrorIs(t, env.mgr.SendInput(context.Background(), "nope", "x"), ErrWorkerNotFound)
}

func TestManager_SendRawKeys(t *testing.T) {
	env := newTestEnv(t)
	w := spawnRunning(t, env, "worker")

	require.NoError(t, env.mgr.SendRawKeys(context.Background(), w.ID, "C-c"))
	env.mux.mu.Lock()
	keys := append([]string(nil), env.mux.keys[w.TmuxSession]...)
	env.mux.mu.Unlock()
	assert.Contains(t, keys, "C-c")
}

func TestManager_Resize(t *testing.T) {
	env := newTestEnv(t)
	w := spawnRunning(t, env, "worker")

	require.NoError(t, env.mgr.Resize(context.Background(), w.ID, 100, 50))
	env.mux.mu.Lock()
	got := env.mux.resizes[w.TmuxSession]
	env.mux.mu.Unlock()
	assert.Equal(t, []int{100, 50}, got)

	assert.ErrorIs(t, env.mgr.Resize(context.Background(), "nope", 100, 50), ErrWorkerNotFound)
}

func TestManager_UpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	w, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		AutoAccept:  true,
	})
	require.NoError(t, err)

	env.registry.Update(w.ID, func(w *worker.Worker) {
		w.AutoAcceptPaused = true
		w.LastAutoAcceptHash = 42
	})

	off := false
	updated, err := env.mgr.UpdateSettings(w.ID, &off, nil)
	require.NoError(t, err)
	assert.False(t, updated.AutoAccept)
	assert.False(t, updated.AutoAcceptPaused)
	assert.Zero(t, updated.LastAutoAcceptHash)

	on := true
	updated, err = env.mgr.UpdateSettings(w.ID, nil, &on)
	require.NoError(t, err)
	assert.True(t, updated.RalphMode)
	assert.Equal(t, worker.RalphPending, updated.RalphStatus)
	assert.NotEmpty(t, updated.RalphToken)

	_, err = env.mgr.UpdateSettings("nope", &on, nil)
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestManager_BufferTailUnknownWorker(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.BufferTail("nope", 10)
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestManager_SnapshotRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	w := spawnRunning(t, env, "survivor")
	lost := spawnRunning(t, env, "lost")
	env.mgr.Stop()

	// The "lost" worker's session dies while the engine is down.
	require.NoError(t, env.mux.KillSession(context.Background(), lost.TmuxSession))

	store, err := output.OpenStore(filepath.Join(t.TempDir(), "output.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := worker.NewRegistry()
	bus := events.NewBus()
	mgr2 := New(env.cfg, registry, deps.NewGraph(), bus,
		env.mux, store, ralph.NewService(ralph.NewTokenStore(), registry, bus),
		backend.NewRegistry(&backend.Claude{}), worker.NewActivityLog())
	mgr2.fs = allowAllDirs{}
	mgr2.Start(context.Background())
	t.Cleanup(mgr2.Stop)

	restored := registry.Get(w.ID)
	require.NotNil(t, restored)
	assert.Equal(t, "survivor", restored.Label)
	assert.Equal(t, worker.StatusRunning, restored.Status)

	assert.Nil(t, registry.Get(lost.ID))
}

func TestManager_RestorePendingPromotedWhenDepsGone(t *testing.T) {
	env := newTestEnv(t)
	first := spawnRunning(t, env, "build")
	_, pending, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "deploy",
		DependsOn:   []string{first.ID},
	})
	require.NoError(t, err)
	env.mgr.Stop()

	// The predecessor's session dies across the restart; the pending
	// worker's dependency filter treats it as resolved.
	require.NoError(t, env.mux.KillSession(context.Background(), first.TmuxSession))

	store, err := output.OpenStore(filepath.Join(t.TempDir(), "output.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := worker.NewRegistry()
	bus := events.NewBus()
	mgr2 := New(env.cfg, registry, deps.NewGraph(), bus,
		env.mux, store, ralph.NewService(ralph.NewTokenStore(), registry, bus),
		backend.NewRegistry(&backend.Claude{}), worker.NewActivityLog())
	mgr2.fs = allowAllDirs{}
	mgr2.Start(context.Background())
	t.Cleanup(mgr2.Stop)

	promoted := registry.Get(pending.ID)
	require.NotNil(t, promoted)
	assert.Equal(t, worker.StatusRunning, promoted.Status)
}

func TestManager_DiscoverAdoptsOrphanSessions(t *testing.T) {
	env := newTestEnv(t)
	env.mux.addSession("agentmux-feedc0de")
	env.mux.addSession("unrelated-session")

	env.mgr.Start(context.Background())

	adopted := env.registry.Get("feedc0de")
	require.NotNil(t, adopted)
	assert.Equal(t, "(adopted)", adopted.Label)
	assert.Equal(t, worker.StatusRunning, adopted.Status)

	assert.Nil(t, env.registry.Get("unrelated-session"))
}

func TestManager_CleanupPassKillsCompletedWorkers(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.AutoCleanupDelay = time.Millisecond })
	w := spawnRunning(t, env, "done-soon")
	keep := spawnRunning(t, env, "keeper")
	env.registry.Update(keep.ID, func(w *worker.Worker) { w.KeepAlive = true })

	_, err := env.mgr.Complete(context.Background(), w.ID)
	require.NoError(t, err)
	_, err = env.mgr.Complete(context.Background(), keep.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	env.mgr.runCleanupPass(context.Background())

	assert.Nil(t, env.registry.Get(w.ID))
	require.NotNil(t, env.registry.Get(keep.ID))
	assert.Equal(t, worker.StatusCompleted, env.registry.Get(keep.ID).Status)
}

func TestManager_OnCompleteSpawn(t *testing.T) {
	env := newTestEnv(t)
	w, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "stage-one",
		OnComplete: &worker.OnComplete{
			Kind:  "spawn",
			Spawn: &worker.SpawnRequest{ProjectPath: "/srv/projects/app", Label: "stage-two"},
		},
	})
	require.NoError(t, err)

	result, err := env.mgr.Complete(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, result.OnComplete)

	var found bool
	for _, cand := range env.registry.All() {
		if cand.Label == "stage-two" && cand.Status == worker.StatusRunning {
			found = true
		}
	}
	assert.True(t, found, "onComplete spawn should have started stage-two")
}

func TestManager_OnCompleteEmit(t *testing.T) {
	env := newTestEnv(t)
	w := spawnRunning(t, env, "emitter")
	sub := env.bus.Subscribe()
	defer sub.Close()

	env.mgr.dispatchOnComplete(context.Background(), w.ID, &worker.OnComplete{
		Kind:  "emit",
		Event: "pipeline:stage-done",
		Data:  map[string]string{"stage": "one"},
	})

	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-sub.C:
			if evt.Name == "pipeline:stage-done" {
				assert.Equal(t, w.ID, evt.WorkerID)
				return
			}
		case <-deadline:
			t.Fatal("custom event not published")
		}
	}
}

func TestNewWorkerID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newWorkerID()
		assert.Len(t, id, 8)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}
