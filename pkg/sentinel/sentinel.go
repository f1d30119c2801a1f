// Package sentinel is the engine's self-diagnostics: a periodic probe of
// process health, tmux consistency, and worker liveness, kept as a bounded
// history for the diagnostics API.
package sentinel

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/tmux"
	"github.com/agentmux/agentmux/pkg/worker"
)

// historyCapacity bounds retained reports: one day at the default
// five-minute interval.
const historyCapacity = 288

// paneCheckLimit caps per-report pane command probes so a large fleet
// does not turn diagnostics into a tmux stress test.
const paneCheckLimit = 10

// ralphStallThreshold flags ralph workers silent since before this long
// ago with no terminal signal.
const ralphStallThreshold = 5 * time.Minute

// Status is the overall verdict of one report.
type Status string

// Report verdicts.
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Finding is one anomaly detected by a probe.
type Finding struct {
	Check    string `json:"check"`
	Severity string `json:"severity"` // "warning" or "critical"
	Detail   string `json:"detail"`
	WorkerID string `json:"workerId,omitempty"`
}

// Report is one diagnostics pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	UptimeSec int64     `json:"uptimeSec"`

	RSSBytes     uint64                `json:"rssBytes"`
	HeapBytes    uint64                `json:"heapBytes"`
	Goroutines   int                   `json:"goroutines"`
	SchedLagMs   int64                 `json:"schedLagMs"`
	TmuxSessions int                   `json:"tmuxSessions"`
	BreakerOpen  bool                  `json:"breakerOpen"`
	WorkerCounts map[worker.Status]int `json:"workerCounts"`
	PendingCount int                   `json:"pendingCount"`

	WorkersWithoutSessions []string `json:"workersWithoutSessions,omitempty"`
	SessionsWithoutWorkers []string `json:"sessionsWithoutWorkers,omitempty"`

	Findings []Finding `json:"findings"`
}

// Sentinel runs the periodic probes.
type Sentinel struct {
	registry      *worker.Registry
	mux           tmux.Runner
	sessionPrefix string
	backends      *backend.Registry
	startedAt     time.Time
	proc          *process.Process

	mu      sync.RWMutex
	history []Report
}

// New creates a sentinel. The gopsutil handle is best-effort; RSS reads
// just come back zero if the platform refuses.
func New(registry *worker.Registry, mux tmux.Runner, sessionPrefix string, backends *backend.Registry) *Sentinel {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("Sentinel process handle unavailable", "error", err)
	}
	return &Sentinel{
		registry:      registry,
		mux:           mux,
		sessionPrefix: sessionPrefix,
		backends:      backends,
		startedAt:     time.Now(),
		proc:          proc,
	}
}

// Run probes at the given interval until ctx is cancelled. One probe runs
// immediately so the diagnostics endpoint has data at startup.
func (s *Sentinel) Run(ctx context.Context, interval time.Duration) {
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe runs one diagnostics pass and appends it to the history.
func (s *Sentinel) Probe(ctx context.Context) Report {
	report := Report{
		Timestamp:    time.Now(),
		UptimeSec:    int64(time.Since(s.startedAt).Seconds()),
		Goroutines:   runtime.NumGoroutine(),
		WorkerCounts: s.registry.StatusCounts(),
		PendingCount: len(s.registry.Pending()),
		Findings:     []Finding{},
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapBytes = ms.HeapAlloc
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			report.RSSBytes = mem.RSS
		}
	}

	// Scheduling lag: how late a 10ms timer fires under load.
	lagStart := time.Now()
	timer := time.NewTimer(10 * time.Millisecond)
	select {
	case <-timer.C:
		report.SchedLagMs = time.Since(lagStart).Milliseconds() - 10
		if report.SchedLagMs < 0 {
			report.SchedLagMs = 0
		}
	case <-ctx.Done():
		timer.Stop()
	}
	if report.SchedLagMs > 500 {
		report.Findings = append(report.Findings, Finding{
			Check: "sched_lag", Severity: "warning",
			Detail: "event loop delayed by " + time.Duration(report.SchedLagMs*int64(time.Millisecond)).String(),
		})
	}

	breaker := s.mux.Breaker()
	if breaker != nil {
		state := breaker.State()
		report.BreakerOpen = state.Open
		if state.Open {
			report.Findings = append(report.Findings, Finding{
				Check: "tmux_breaker", Severity: "critical",
				Detail: "tmux circuit breaker open",
			})
		}
	}

	s.probeSessionConsistency(ctx, &report)
	s.probeWorkers(ctx, &report)

	report.Status = verdict(report.Findings)

	s.mu.Lock()
	s.history = append(s.history, report)
	if len(s.history) > historyCapacity {
		s.history = s.history[len(s.history)-historyCapacity:]
	}
	s.mu.Unlock()

	if report.Status != StatusHealthy {
		slog.Warn("Sentinel probe found issues",
			"status", report.Status, "findings", len(report.Findings))
	}
	return report
}

// probeSessionConsistency cross-checks the registry against live tmux
// sessions in both directions.
func (s *Sentinel) probeSessionConsistency(ctx context.Context, report *Report) {
	names, err := s.mux.ListSessions(ctx)
	if err != nil {
		report.Findings = append(report.Findings, Finding{
			Check: "tmux_list", Severity: "critical",
			Detail: "cannot list tmux sessions: " + err.Error(),
		})
		return
	}
	report.TmuxSessions = len(names)

	live := make(map[string]bool, len(names))
	prefix := s.sessionPrefix + "-"
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			live[name] = true
		}
	}

	claimed := make(map[string]bool)
	for _, w := range s.registry.All() {
		if w.Status != worker.StatusRunning {
			continue
		}
		claimed[w.TmuxSession] = true
		if !live[w.TmuxSession] {
			report.WorkersWithoutSessions = append(report.WorkersWithoutSessions, w.ID)
			report.Findings = append(report.Findings, Finding{
				Check: "worker_without_session", Severity: "critical",
				Detail: "running worker has no tmux session", WorkerID: w.ID,
			})
		}
	}
	for name := range live {
		if !claimed[name] {
			report.SessionsWithoutWorkers = append(report.SessionsWithoutWorkers, name)
			report.Findings = append(report.Findings, Finding{
				Check: "session_without_worker", Severity: "warning",
				Detail: "prefixed tmux session has no worker: " + name,
			})
		}
	}
	sort.Strings(report.WorkersWithoutSessions)
	sort.Strings(report.SessionsWithoutWorkers)
}

// probeWorkers inspects running workers: pane commands (bounded) and ralph
// workers that went quiet without a terminal signal.
func (s *Sentinel) probeWorkers(ctx context.Context, report *Report) {
	checked := 0
	for _, w := range s.registry.All() {
		if w.Status != worker.StatusRunning {
			continue
		}

		if checked < paneCheckLimit {
			checked++
			if cmd, err := s.mux.PaneCommand(ctx, w.TmuxSession); err == nil {
				// Anything but the worker's backend command means the
				// assistant process is gone or was replaced.
				if expected := s.expectedCommand(w); expected != "" && cmd != expected {
					report.Findings = append(report.Findings, Finding{
						Check: "pane_command", Severity: "warning",
						Detail: "pane is running " + cmd + ", expected " + expected, WorkerID: w.ID,
					})
				}
			}
		}

		if w.RalphMode && !w.RalphStatus.IsTerminal() &&
			time.Since(w.LastOutput) > ralphStallThreshold {
			report.Findings = append(report.Findings, Finding{
				Check: "ralph_stall", Severity: "warning",
				Detail: "ralph worker silent for " + time.Since(w.LastOutput).Round(time.Second).String(),
				WorkerID: w.ID,
			})
		}
	}
}

// expectedCommand resolves the process name the worker's pane should be
// running. tmux reports the basename, so the configured path is reduced
// to match.
func (s *Sentinel) expectedCommand(w *worker.Worker) string {
	if s.backends == nil {
		return ""
	}
	be, err := s.backends.Get(w.Backend)
	if err != nil {
		return ""
	}
	cmd, _ := be.Command()
	return filepath.Base(cmd)
}

// Latest returns the most recent report, if any.
func (s *Sentinel) Latest() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return Report{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns up to limit reports, newest first. limit <= 0 means all.
func (s *Sentinel) History(limit int) []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Report, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// verdict derives the overall status: any critical finding is unhealthy,
// any warning is degraded.
func verdict(findings []Finding) Status {
	status := StatusHealthy
	for _, f := range findings {
		switch f.Severity {
		case "critical":
			return StatusUnhealthy
		case "warning":
			status = StatusDegraded
		}
	}
	return status
}
